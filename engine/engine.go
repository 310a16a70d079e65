// Package engine runs the frame loop: it owns the GPU context, the swapchain,
// the frame slots and the compute pass that draws each frame.
package engine

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/frameloop/config"
	"github.com/vkngwrapper/frameloop/deletion"
	"github.com/vkngwrapper/frameloop/frame"
	"github.com/vkngwrapper/frameloop/gpu"
	"github.com/vkngwrapper/frameloop/swapchain"
	"github.com/vkngwrapper/frameloop/window"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

// ErrTerminated is returned by Run on an engine that has already shut down.
var ErrTerminated = errors.New("engine terminated")

const (
	drawFormat = gpu.FormatR16G16B16A16SFloat
	drawUsage  = gpu.UsageTransferSrc | gpu.UsageTransferDst | gpu.UsageStorage | gpu.UsageColorAttachment
)

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithSleep replaces the function used to wait while the window is not
// presentable.
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

type Engine struct {
	cfg      config.Config
	window   window.Source
	instance gpu.Instance
	log      *slog.Logger
	sleep    func(time.Duration)

	state State

	gpu       *gpu.Context
	swapchain *swapchain.Manager
	drawImage gpu.AllocatedImage
	frames    *frame.Ring
	// global holds objects that live as long as the engine.
	global        deletion.Queue
	pipelineCache gpu.Handle
	gradient      gpu.ComputePipeline

	frameNumber     uint64
	presentable     bool
	resizeRequested bool
	stats           *stats
}

// New initializes an engine on instance, presenting to window. The engine
// takes ownership of instance: on error, everything created so far,
// including the instance, has been destroyed.
func New(cfg config.Config, win window.Source, instance gpu.Instance, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		window:      win,
		instance:    instance,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:       time.Sleep,
		presentable: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stats = newStats(e.log)

	if err := cfg.Validate(); err != nil {
		e.destroy()
		return nil, errors.Wrap(err, "invalid configuration")
	}

	if err := e.init(); err != nil {
		e.log.Error("initialization failed", "error", err)
		e.destroy()
		return nil, err
	}

	e.state = Initialized
	win.Show()
	return e, nil
}

func (e *Engine) State() State {
	return e.state
}

// FrameNumber is the number of frames presented so far.
func (e *Engine) FrameNumber() uint64 {
	return e.frameNumber
}

func (e *Engine) init() error {
	req, err := e.cfg.Requirements()
	if err != nil {
		return err
	}

	e.gpu, err = gpu.Bootstrap(e.instance, req, e.log)
	if err != nil {
		return errors.Wrap(err, "bootstrap GPU")
	}
	e.global.Add(gpu.KindAllocator, e.gpu.Allocator)
	dev := e.gpu.Device

	// A window that starts minimized has nothing to present to yet. The
	// swapchain is then created by the first resize after it is restored,
	// and the draw image starts at the configured size.
	e.swapchain = swapchain.New(dev, e.log)
	drawExtent := gpu.Extent2D{Width: e.cfg.Width, Height: e.cfg.Height}
	width, height := e.window.DrawableSize()
	if width > 0 && height > 0 {
		if err := e.swapchain.Create(width, height); err != nil {
			return err
		}
		drawExtent = e.swapchain.Chain().Extent
	} else {
		e.log.Info("window not presentable, deferring swapchain creation")
		e.presentable = false
		e.resizeRequested = true
	}

	e.drawImage, err = e.createDrawImage(drawExtent)
	if err != nil {
		return err
	}

	e.frames, err = frame.NewRing(dev, &e.global)
	if err != nil {
		return err
	}

	return e.initPipelines()
}

func (e *Engine) createDrawImage(extent gpu.Extent2D) (gpu.AllocatedImage, error) {
	img, err := e.gpu.Device.CreateImage(gpu.ImageRequest{
		Allocator: e.gpu.Allocator,
		Extent:    extent,
		Format:    drawFormat,
		Usage:     drawUsage,
	})
	return img, errors.Wrapf(err, "create %s draw image", extent)
}

func (e *Engine) initPipelines() error {
	dev := e.gpu.Device

	initial := gpu.LoadPipelineCache(e.cfg.PipelineCachePath, e.gpu.PhysicalDevice, e.log)
	cache, err := dev.CreatePipelineCache(initial)
	if err != nil {
		return errors.Wrap(err, "create pipeline cache")
	}
	e.pipelineCache = cache
	e.global.Add(gpu.KindPipelineCache, cache)

	shader, err := os.ReadFile(e.cfg.ShaderPath)
	if err != nil {
		return errors.Wrap(err, "load compute shader")
	}

	e.gradient, err = dev.CreateComputePipeline(gpu.ComputePipelineRequest{
		Shader:           shader,
		Cache:            cache,
		PushConstantSize: pushConstantSize,
		StorageImage:     e.drawImage.View,
	})
	if err != nil {
		return errors.Wrapf(err, "create compute pipeline from %s", e.cfg.ShaderPath)
	}
	e.gradient.Release(&e.global)
	return nil
}

// Run drives the frame loop until the window asks to close or ctx is done,
// then shuts the engine down. The engine cannot run again afterwards.
func (e *Engine) Run(ctx context.Context) error {
	switch e.state {
	case Initialized:
	case Running:
		return errors.New("engine already running")
	default:
		return ErrTerminated
	}
	e.state = Running

	for {
		if err := ctx.Err(); err != nil {
			e.log.Info("stopping", "reason", err)
			break
		}
		if e.pollEvents() {
			break
		}

		if !e.presentable {
			e.sleep(e.cfg.IdleSleep)
			continue
		}

		if e.resizeRequested {
			if err := e.resize(); err != nil {
				return e.fail(err)
			}
			if !e.presentable {
				continue
			}
		}

		if err := e.draw(); err != nil {
			return e.fail(err)
		}
	}

	return e.shutdown()
}

// pollEvents handles every pending window event and reports whether the
// window asked to close.
func (e *Engine) pollEvents() bool {
	quit := false
	for _, ev := range e.window.Poll() {
		switch ev.Kind {
		case window.Quit:
			quit = true
		case window.Minimized:
			e.presentable = false
		case window.Restored:
			e.presentable = true
		case window.Resized:
			e.resizeRequested = true
			e.presentable = ev.Width > 0 && ev.Height > 0
		case window.KeyPress:
			e.log.Debug("key pressed", "key", ev.Key)
		}
	}
	return quit
}

// fail abandons the engine after an error the loop cannot recover from. The
// device is not trusted after such an error, so nothing is destroyed.
func (e *Engine) fail(err error) error {
	e.log.Error("fatal error", "frame", e.frameNumber, "error", err)
	e.state = Terminated
	return err
}

func (e *Engine) shutdown() error {
	e.state = ShuttingDown
	dev := e.gpu.Device

	var group errgroup.Group
	for i := 0; i < e.frames.Len(); i++ {
		fence := e.frames.At(i).RenderFence
		group.Go(func() error {
			return dev.WaitForFence(fence, e.cfg.FenceTimeout)
		})
	}
	if err := group.Wait(); err != nil {
		return e.fail(errors.Wrap(err, "wait for in-flight frames"))
	}
	if err := dev.WaitIdle(); err != nil {
		return e.fail(errors.Wrap(err, "wait for device idle"))
	}

	e.savePipelineCache()
	e.destroy()
	e.stats.summary()
	return nil
}

func (e *Engine) savePipelineCache() {
	if e.cfg.PipelineCachePath == "" {
		return
	}

	data, err := e.gpu.Device.PipelineCacheData(e.pipelineCache)
	if err == nil {
		err = gpu.SavePipelineCache(e.cfg.PipelineCachePath, data)
	}
	if err != nil {
		e.log.Warn("pipeline cache not saved", "path", e.cfg.PipelineCachePath, "error", err)
	}
}

// destroy releases everything the engine created, in dependency order. The
// device must be idle.
func (e *Engine) destroy() {
	if e.gpu != nil {
		dev := e.gpu.Device
		if e.frames != nil {
			e.frames.Flush(dev)
		}
		e.drawImage.Release(&e.global)
		e.drawImage = gpu.AllocatedImage{}
		e.global.Flush(dev)
		if e.swapchain != nil {
			e.swapchain.Destroy()
		}
	}

	e.instance.DestroySurface()
	if e.gpu != nil {
		e.gpu.Destroy()
	}
	e.instance.Destroy()
	e.state = Terminated
}
