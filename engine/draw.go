package engine

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/frameloop/gpu"
)

// workgroupSize matches local_size_x and local_size_y of the gradient shader.
const workgroupSize = 16

// pushConstants is the gradient shader's push constant block.
type pushConstants struct {
	Data1 mgl32.Vec4
	Data2 mgl32.Vec4
	Data3 mgl32.Vec4
	Data4 mgl32.Vec4
}

var pushConstantSize = binary.Size(pushConstants{})

func (p pushConstants) bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(pushConstantSize)
	// Writing fixed-size values to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, p)
	return buf.Bytes()
}

// gradientColors returns the two gradient colors at time t seconds.
func gradientColors(t float64) pushConstants {
	phase := float32(math.Sin(t)*0.5 + 0.5)
	return pushConstants{
		Data1: mgl32.Vec4{phase, 0, 1 - phase, 1},
		Data2: mgl32.Vec4{0, 1 - phase, phase, 1},
	}
}

func groups(n int) int {
	return (n + workgroupSize - 1) / workgroupSize
}

// draw renders and presents one frame using the slot of the current frame
// number.
func (e *Engine) draw() error {
	dev := e.gpu.Device
	slot := e.frames.Slot(e.frameNumber)

	if err := dev.WaitForFence(slot.RenderFence, e.cfg.FenceTimeout); err != nil {
		return errors.Wrapf(err, "wait for frame %d", e.frameNumber)
	}
	slot.Deletion.Flush(dev)

	chain := e.swapchain.Chain()
	index, err := dev.AcquireNextImage(chain.Handle, e.cfg.AcquireTimeout, slot.SwapchainSemaphore)
	if errors.Is(err, gpu.ErrOutOfDate) {
		// The fence is still signaled, so the slot is reused as is.
		e.resizeRequested = true
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "acquire swapchain image")
	}
	if index < 0 || index >= len(chain.Images) {
		return errors.Newf("acquired image %d of %d", index, len(chain.Images))
	}

	if err := dev.ResetFence(slot.RenderFence); err != nil {
		return err
	}

	push := gradientColors(e.stats.elapsed().Seconds()).bytes()
	err = dev.Record(slot.CommandBuffer, func(r gpu.Recorder) error {
		return e.record(r, push, chain.Images[index], chain.Extent)
	})
	if err != nil {
		return errors.Wrapf(err, "record frame %d", e.frameNumber)
	}

	err = dev.Submit(gpu.Submission{
		CommandBuffer: slot.CommandBuffer,
		Wait:          slot.SwapchainSemaphore,
		Signal:        slot.RenderSemaphore,
		Fence:         slot.RenderFence,
	})
	if err != nil {
		return errors.Wrapf(err, "submit frame %d", e.frameNumber)
	}

	err = dev.Present(gpu.Presentation{
		Swapchain:  chain.Handle,
		ImageIndex: index,
		Wait:       slot.RenderSemaphore,
	})
	if errors.Is(err, gpu.ErrOutOfDate) {
		e.resizeRequested = true
	} else if err != nil {
		return errors.Wrapf(err, "present frame %d", e.frameNumber)
	}

	e.frameNumber++
	e.stats.frame()
	return nil
}

func (e *Engine) record(r gpu.Recorder, push []byte, target gpu.Handle, targetExtent gpu.Extent2D) error {
	draw := e.drawImage

	if err := r.TransitionImage(draw.Image, gpu.LayoutUndefined, gpu.LayoutGeneral); err != nil {
		return err
	}
	if err := r.Dispatch(e.gradient, push, groups(draw.Extent.Width), groups(draw.Extent.Height)); err != nil {
		return err
	}

	if err := r.TransitionImage(draw.Image, gpu.LayoutGeneral, gpu.LayoutTransferSrc); err != nil {
		return err
	}
	if err := r.TransitionImage(target, gpu.LayoutUndefined, gpu.LayoutTransferDst); err != nil {
		return err
	}
	if err := r.BlitImage(draw.Image, target, draw.Extent, targetExtent); err != nil {
		return err
	}
	return r.TransitionImage(target, gpu.LayoutTransferDst, gpu.LayoutPresentSrc)
}

// resize recreates the swapchain and the draw image at the window's current
// size once the GPU has finished every frame in flight.
func (e *Engine) resize() error {
	width, height := e.window.DrawableSize()
	if width <= 0 || height <= 0 {
		e.presentable = false
		return nil
	}

	dev := e.gpu.Device
	if err := dev.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device idle before resize")
	}

	if err := e.swapchain.Recreate(width, height); err != nil {
		return errors.Wrap(err, "recreate swapchain")
	}

	extent := e.swapchain.Chain().Extent
	drawImage, err := e.createDrawImage(extent)
	if err != nil {
		return err
	}
	if err := dev.BindStorageImage(e.gradient.DescriptorSet, drawImage.View); err != nil {
		drawImage.Release(&e.global)
		return errors.Wrap(err, "bind draw image")
	}

	e.drawImage.Release(&e.frames.Slot(e.frameNumber).Deletion)
	e.drawImage = drawImage
	e.resizeRequested = false
	e.log.Info("resized", "extent", extent)
	return nil
}
