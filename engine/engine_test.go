package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/frameloop/config"
	"github.com/vkngwrapper/frameloop/frame"
	"github.com/vkngwrapper/frameloop/gpu"
	"github.com/vkngwrapper/frameloop/gpu/gputest"
	"github.com/vkngwrapper/frameloop/window"
)

// scriptedWindow returns script[n] from the nth Poll and a quit event from
// poll quitAt onwards.
type scriptedWindow struct {
	width, height int
	script        map[int][]window.Event
	quitAt        int
	onPoll        func(n int)

	polls int
	shown bool
}

func (w *scriptedWindow) Poll() []window.Event {
	w.polls++
	if w.onPoll != nil {
		w.onPoll(w.polls)
	}
	if w.quitAt > 0 && w.polls >= w.quitAt {
		return []window.Event{{Kind: window.Quit}}
	}
	return w.script[w.polls]
}

func (w *scriptedWindow) DrawableSize() (int, int) {
	return w.width, w.height
}

func (w *scriptedWindow) Show() {
	w.shown = true
}

func writeShader(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	for _, word := range []uint32{0x07230203, 0x00010000, 0, 8, 0} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, word))
	}
	path := filepath.Join(t.TempDir(), "gradient.comp.spv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ShaderPath = writeShader(t)
	return cfg
}

func newInstance() *gputest.Instance {
	return gputest.NewInstance(
		gputest.Candidate(0, "llvmpipe", gpu.DeviceTypeCPU),
		gputest.Candidate(1, "test discrete", gpu.DeviceTypeDiscrete),
	)
}

func requireClean(t *testing.T, inst *gputest.Instance) {
	t.Helper()
	require.Empty(t, inst.Device.Violations())
	require.Zero(t, inst.Device.LiveTotal())
	require.True(t, inst.Device.Closed())
	require.True(t, inst.SurfaceDestroyed())
	require.True(t, inst.Destroyed())
}

func indexOf(ops []string, prefix string) int {
	for i, op := range ops {
		if strings.HasPrefix(op, prefix) {
			return i
		}
	}
	return -1
}

func lastIndexOf(ops []string, prefix string) int {
	for i := len(ops) - 1; i >= 0; i-- {
		if strings.HasPrefix(ops[i], prefix) {
			return i
		}
	}
	return -1
}

func TestRunAndShutdown(t *testing.T) {
	inst := newInstance()
	win := &scriptedWindow{width: 800, height: 600, quitAt: 6}

	e, err := New(testConfig(t), win, inst)
	require.NoError(t, err)
	require.Equal(t, Initialized, e.State())
	require.True(t, win.shown)

	require.NoError(t, e.Run(context.Background()))
	require.Equal(t, Terminated, e.State())
	require.Equal(t, uint64(5), e.FrameNumber())
	require.Equal(t, 5, inst.Device.Submits())
	require.Equal(t, 5, inst.Device.Presents())
	requireClean(t, inst)

	ops := inst.Device.Ops()
	// LIFO teardown: memory goes before the allocator that owns it.
	require.Less(t, lastIndexOf(ops, "destroy Allocation#"), indexOf(ops, "destroy Allocator#"))
	require.Less(t, lastIndexOf(ops, "destroy ImageView#"), indexOf(ops, "destroy Swapchain#"))
	require.Equal(t, "close device", ops[len(ops)-1])

	require.ErrorIs(t, e.Run(context.Background()), ErrTerminated)
}

func TestRecordsFrameCommands(t *testing.T) {
	inst := newInstance()
	win := &scriptedWindow{width: 800, height: 600, quitAt: 2}

	e, err := New(testConfig(t), win, inst)
	require.NoError(t, err)
	draw := e.drawImage
	require.NoError(t, e.Run(context.Background()))

	ops := inst.Device.Ops()
	begin := indexOf(ops, "begin CommandBuffer#")
	end := indexOf(ops, "end CommandBuffer#")
	require.Less(t, begin, end)

	recorded := ops[begin+1 : end]
	require.Len(t, recorded, 6)
	require.Contains(t, recorded[0], "Undefined->General")
	require.Contains(t, recorded[0], "#"+itoa(draw.Image))
	require.Equal(t, "dispatch Pipeline#"+itoa(e.gradient.Pipeline)+" 50x38", recorded[1])
	require.Contains(t, recorded[2], "General->TransferSrc")
	require.Contains(t, recorded[3], "Undefined->TransferDst")
	require.Contains(t, recorded[4], "blit #"+itoa(draw.Image)+" 800x600")
	require.Contains(t, recorded[5], "TransferDst->PresentSrc")
}

func itoa(h gpu.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}

func TestSlowGPUBlocksSlotReuse(t *testing.T) {
	const latency = 40 * time.Millisecond
	inst := newInstance()
	inst.Device.Latency = latency
	win := &scriptedWindow{width: 800, height: 600, quitAt: 7}

	e, err := New(testConfig(t), win, inst)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, e.Run(context.Background()))
	elapsed := time.Since(start)

	// Frame 4 reuses frame 2's slot, which reused frame 0's.
	require.GreaterOrEqual(t, elapsed, 2*latency)
	require.Equal(t, frame.Overlap, inst.Device.MaxInFlight())
	require.Equal(t, 6, inst.Device.Submits())
	requireClean(t, inst)
}

func TestMinimizedSkipsGPUWork(t *testing.T) {
	inst := newInstance()
	var submitsAtRestore int
	win := &scriptedWindow{
		width:  800,
		height: 600,
		script: map[int][]window.Event{
			1: {{Kind: window.Minimized}},
			6: {{Kind: window.Restored}},
		},
		quitAt: 8,
	}
	win.onPoll = func(n int) {
		if n == 6 {
			submitsAtRestore = inst.Device.Submits()
		}
	}

	var sleeps []time.Duration
	e, err := New(testConfig(t), win, inst, WithSleep(func(d time.Duration) {
		sleeps = append(sleeps, d)
	}))
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	require.Zero(t, submitsAtRestore)
	require.Len(t, sleeps, 5)
	for _, d := range sleeps {
		require.GreaterOrEqual(t, d, config.MinIdleSleep)
	}
	require.Equal(t, 2, inst.Device.Submits())
	requireClean(t, inst)
}

func TestStartMinimized(t *testing.T) {
	inst := newInstance()
	win := &scriptedWindow{
		script: map[int][]window.Event{
			3: {{Kind: window.Restored}},
		},
		quitAt: 5,
	}
	win.onPoll = func(n int) {
		if n == 3 {
			win.width, win.height = 800, 600
		}
	}

	cfg := testConfig(t)
	var sleeps int
	e, err := New(cfg, win, inst, WithSleep(func(time.Duration) { sleeps++ }))
	require.NoError(t, err)
	require.Empty(t, inst.Device.SwapchainRequests())
	imgs := inst.Device.ImageRequests()
	require.Len(t, imgs, 1)
	require.Equal(t, gpu.Extent2D{Width: cfg.Width, Height: cfg.Height}, imgs[0].Extent)

	require.NoError(t, e.Run(context.Background()))

	require.Equal(t, 2, sleeps)
	require.Equal(t, 2, inst.Device.Submits())
	reqs := inst.Device.SwapchainRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, reqs[0].Extent)
	requireClean(t, inst)
}

func TestZeroSizeResizePausesRendering(t *testing.T) {
	inst := newInstance()
	win := &scriptedWindow{
		width:  800,
		height: 600,
		script: map[int][]window.Event{
			2: {{Kind: window.Resized}},
			4: {{Kind: window.Resized, Width: 640, Height: 480}},
		},
		quitAt: 6,
	}
	win.onPoll = func(n int) {
		switch n {
		case 2:
			win.width, win.height = 0, 0
		case 4:
			win.width, win.height = 640, 480
		}
	}

	var sleeps int
	e, err := New(testConfig(t), win, inst, WithSleep(func(time.Duration) { sleeps++ }))
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	require.Equal(t, 2, sleeps)
	require.Equal(t, 3, inst.Device.Submits())
	reqs := inst.Device.SwapchainRequests()
	require.Len(t, reqs, 2)
	require.Equal(t, gpu.Extent2D{Width: 640, Height: 480}, reqs[1].Extent)
	requireClean(t, inst)
}

func TestNoSuitableDevice(t *testing.T) {
	old := gputest.Candidate(0, "old", gpu.DeviceTypeDiscrete)
	old.APIVersion = gpu.Version(1, 1, 0)
	old.Features = gpu.FeatureDescriptorIndexing | gpu.FeatureBufferDeviceAddress

	for name, inst := range map[string]*gputest.Instance{
		"no devices":    gputest.NewInstance(),
		"only old ones": gputest.NewInstance(old),
	} {
		t.Run(name, func(t *testing.T) {
			win := &scriptedWindow{width: 800, height: 600}
			e, err := New(testConfig(t), win, inst)
			require.Nil(t, e)
			require.ErrorIs(t, err, gpu.ErrNoSuitableDevice)
			require.False(t, win.shown, "window shown before device negotiation succeeded")

			require.False(t, inst.DeviceCreated())
			require.Zero(t, inst.Device.Created(gpu.KindSwapchain))
			require.Zero(t, inst.Device.Created(gpu.KindFence))
			require.Zero(t, inst.Device.Created(gpu.KindCommandPool))
			require.True(t, inst.SurfaceDestroyed())
			require.True(t, inst.Destroyed())
		})
	}
}

func TestCloseWaitsForEveryFrameInFlight(t *testing.T) {
	inst := newInstance()
	inst.Device.Latency = 30 * time.Millisecond
	win := &scriptedWindow{width: 800, height: 600, quitAt: 4}

	e, err := New(testConfig(t), win, inst)
	require.NoError(t, err)
	var fences []gpu.Handle
	for i := 0; i < e.frames.Len(); i++ {
		fences = append(fences, e.frames.At(i).RenderFence)
	}

	require.NoError(t, e.Run(context.Background()))

	ops := inst.Device.Ops()
	lastSubmit := lastIndexOf(ops, "submit ")
	firstDestroy := indexOf(ops[lastSubmit:], "destroy ") + lastSubmit
	require.Greater(t, firstDestroy, lastSubmit)

	for _, fence := range fences {
		waited := false
		for _, op := range ops[lastSubmit:firstDestroy] {
			if op == "wait Fence#"+itoa(fence) {
				waited = true
			}
		}
		require.True(t, waited, "fence %d not waited on before teardown", fence)
	}
	requireClean(t, inst)
}

func TestResizeRecreatesSwapchainAndDrawImage(t *testing.T) {
	inst := newInstance()
	inst.Device.Latency = 5 * time.Millisecond
	win := &scriptedWindow{
		width:  800,
		height: 600,
		script: map[int][]window.Event{
			3: {{Kind: window.Resized, Width: 1024, Height: 768}},
		},
		quitAt: 6,
	}
	win.onPoll = func(n int) {
		if n == 3 {
			win.width, win.height = 1024, 768
		}
	}

	e, err := New(testConfig(t), win, inst)
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	want := gpu.Extent2D{Width: 1024, Height: 768}
	swapchains := inst.Device.SwapchainRequests()
	require.Len(t, swapchains, 2)
	require.Equal(t, want, swapchains[1].Extent)

	images := inst.Device.ImageRequests()
	require.Len(t, images, 2)
	require.Equal(t, want, images[1].Extent)
	require.Equal(t, gpu.FormatR16G16B16A16SFloat, images[1].Format)

	require.NotEqual(t, -1, indexOf(inst.Device.Ops(), "bind Set#"))
	require.Equal(t, 5, inst.Device.Presents())
	requireClean(t, inst)
}

func TestOutOfDateAcquire(t *testing.T) {
	inst := newInstance()
	inst.Device.AcquireHook = func(n int) error {
		if n == 2 {
			return errors.Wrap(gpu.ErrOutOfDate, "acquire")
		}
		return nil
	}
	win := &scriptedWindow{width: 800, height: 600, quitAt: 5}

	e, err := New(testConfig(t), win, inst)
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	require.Len(t, inst.Device.SwapchainRequests(), 2)
	require.Equal(t, 4, inst.Device.Acquires())
	require.Equal(t, 3, inst.Device.Presents())
	requireClean(t, inst)
}

func TestOutOfDatePresent(t *testing.T) {
	inst := newInstance()
	inst.Device.PresentHook = func(n int) error {
		if n == 1 {
			return gpu.ErrOutOfDate
		}
		return nil
	}
	win := &scriptedWindow{width: 800, height: 600, quitAt: 4}

	e, err := New(testConfig(t), win, inst)
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	require.Equal(t, uint64(3), e.FrameNumber())
	require.Len(t, inst.Device.SwapchainRequests(), 2)
	requireClean(t, inst)
}

func TestContextCancellation(t *testing.T) {
	inst := newInstance()
	e, err := New(testConfig(t), &scriptedWindow{width: 800, height: 600}, inst)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	require.Zero(t, inst.Device.Submits())
	require.Equal(t, Terminated, e.State())
	requireClean(t, inst)
}

func TestMissingShaderIsFatal(t *testing.T) {
	inst := newInstance()
	cfg := testConfig(t)
	cfg.ShaderPath = filepath.Join(t.TempDir(), "missing.spv")

	win := &scriptedWindow{width: 800, height: 600}
	_, err := New(cfg, win, inst)
	require.ErrorContains(t, err, "load compute shader")
	require.False(t, win.shown)
	requireClean(t, inst)
}

func TestBackendErrorDuringLoopIsFatal(t *testing.T) {
	inst := newInstance()
	win := &scriptedWindow{width: 800, height: 600, quitAt: 10}

	e, err := New(testConfig(t), win, inst)
	require.NoError(t, err)
	inst.Device.Fail = map[string]error{"Submit": errors.New("VK_ERROR_DEVICE_LOST")}

	err = e.Run(context.Background())
	require.ErrorContains(t, err, "VK_ERROR_DEVICE_LOST")
	require.Equal(t, Terminated, e.State())
	require.False(t, inst.Device.Closed())
	require.ErrorIs(t, e.Run(context.Background()), ErrTerminated)
}

func TestPipelineCachePersists(t *testing.T) {
	cand := gputest.Candidate(0, "test discrete", gpu.DeviceTypeDiscrete)

	var header bytes.Buffer
	for _, v := range []uint32{32, gpu.PipelineCacheHeaderVersionOne, cand.VendorID, cand.DeviceID} {
		require.NoError(t, binary.Write(&header, binary.LittleEndian, v))
	}
	header.Write(cand.PipelineCacheUUID[:])
	header.WriteString("pipeline blobs")

	cfg := testConfig(t)
	cfg.PipelineCachePath = filepath.Join(t.TempDir(), "cache", "pipelines.bin")

	first := gputest.NewInstance(cand)
	first.Device.CacheData = header.Bytes()
	e, err := New(cfg, &scriptedWindow{width: 800, height: 600, quitAt: 2}, first)
	require.NoError(t, err)
	require.Empty(t, first.Device.InitialCacheData())
	require.NoError(t, e.Run(context.Background()))

	saved, err := os.ReadFile(cfg.PipelineCachePath)
	require.NoError(t, err)
	require.Equal(t, header.Bytes(), saved)

	second := gputest.NewInstance(cand)
	e, err = New(cfg, &scriptedWindow{width: 800, height: 600, quitAt: 1}, second)
	require.NoError(t, err)
	require.Equal(t, header.Bytes(), second.Device.InitialCacheData())
	require.NoError(t, e.Run(context.Background()))
}

func TestPushConstants(t *testing.T) {
	require.Equal(t, 64, pushConstantSize)

	p := gradientColors(0)
	b := p.bytes()
	require.Len(t, b, pushConstantSize)
	require.InDelta(t, 0.5, p.Data1[0], 1e-6)
	require.Equal(t, float32(1), p.Data1[3])

	require.Equal(t, 1, groups(1))
	require.Equal(t, 1, groups(16))
	require.Equal(t, 2, groups(17))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "shutting down", ShuttingDown.String())
	require.Equal(t, "State(9)", State(9).String())
}
