package window

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
)

// Surface creation works on a hidden window.
const windowFlags = sdl.WINDOW_HIDDEN | sdl.WINDOW_VULKAN | sdl.WINDOW_RESIZABLE

// SDL is a resizable SDL2 window that Vulkan can present to. It opens hidden.
// SDL requires every call to come from the thread that opened the window.
type SDL struct {
	window *sdl.Window
}

func OpenSDL(title string, width, height int) (*SDL, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "init SDL")
	}

	window, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(width), int32(height), windowFlags)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}

	return &SDL{window: window}, nil
}

// Window returns the underlying SDL window, for surface creation.
func (w *SDL) Window() *sdl.Window {
	return w.window
}

func (w *SDL) Poll() []Event {
	var events []Event
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if e, ok := classify(event); ok {
			events = append(events, e)
		}
	}
	return events
}

func (w *SDL) DrawableSize() (int, int) {
	width, height := w.window.VulkanGetDrawableSize()
	if (w.window.GetFlags() & sdl.WINDOW_MINIMIZED) != 0 {
		return 0, 0
	}
	return int(width), int(height)
}

func (w *SDL) Show() {
	w.window.Show()
}

func (w *SDL) Close() {
	if w.window != nil {
		_ = w.window.Destroy()
		w.window = nil
	}
	sdl.Quit()
}

func classify(event sdl.Event) (Event, bool) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return Event{Kind: Quit}, true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_MINIMIZED:
			return Event{Kind: Minimized}, true
		case sdl.WINDOWEVENT_RESTORED:
			return Event{Kind: Restored}, true
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			return Event{Kind: Resized, Width: int(e.Data1), Height: int(e.Data2)}, true
		}
	case *sdl.KeyboardEvent:
		if e.Type == sdl.KEYDOWN && e.Repeat == 0 {
			return Event{Kind: KeyPress, Key: sdl.GetKeyName(e.Keysym.Sym)}, true
		}
	}
	return Event{}, false
}
