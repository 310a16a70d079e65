// Package window supplies the engine with window events and the size of the
// drawable area.
package window

import "fmt"

type Kind int

const (
	Quit Kind = iota + 1
	Minimized
	Restored
	Resized
	KeyPress
)

var kindNames = map[Kind]string{
	Quit:      "quit",
	Minimized: "minimized",
	Restored:  "restored",
	Resized:   "resized",
	KeyPress:  "key-press",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return name
}

// Event is a window event the engine reacts to. Width and Height are set for
// Resized; Key is set for KeyPress.
type Event struct {
	Kind   Kind
	Width  int
	Height int
	Key    string
}

// Source is polled by the engine once per loop iteration.
type Source interface {
	// Poll returns every pending event without blocking.
	Poll() []Event
	// DrawableSize returns the size of the drawable area in pixels.
	DrawableSize() (width, height int)
	// Show makes the window visible. Windows start hidden so that a failed
	// startup never flashes one on screen.
	Show()
}
