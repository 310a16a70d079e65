package vk

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/frameloop/deletion"
	"github.com/vkngwrapper/frameloop/gpu"
	"golang.org/x/exp/slog"
)

// Device is a logical device with one queue that runs graphics and compute
// work and presents to the instance's surface.
type Device struct {
	log *slog.Logger

	instanceDriver core1_0.CoreInstanceDriver
	physicalDevice core1_0.PhysicalDevice
	driver         core1_0.CoreDeviceDriver
	queue          core1_0.Queue
	queueFamily    int

	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface
	swapchainExt     khr_swapchain.ExtensionDriver

	objects    *objects
	destroyers deletion.Table
}

var _ gpu.Device = (*Device)(nil)

func (d *Device) QueueFamily() int {
	return d.queueFamily
}

func (d *Device) CreateAllocator() (gpu.Handle, error) {
	props := d.instanceDriver.GetPhysicalDeviceMemoryProperties(d.physicalDevice)
	if props == nil || len(props.MemoryTypes) == 0 {
		return 0, errors.New("physical device reports no memory types")
	}
	return d.objects.add(newAllocator(props)), nil
}

func (d *Device) CreateCommandPool() (gpu.Handle, error) {
	pool, res, err := d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: d.queueFamily,
	})
	if err != nil {
		return 0, gpu.Check("vkCreateCommandPool", res, err)
	}
	return d.objects.add(pool), nil
}

func (d *Device) AllocateCommandBuffer(poolHandle gpu.Handle) (gpu.Handle, error) {
	pool, err := lookup[core1_0.CommandPool](d.objects, poolHandle)
	if err != nil {
		return 0, err
	}

	buffers, res, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return 0, gpu.Check("vkAllocateCommandBuffers", res, err)
	}
	return d.objects.addChild(poolHandle, buffers[0]), nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Handle, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}

	fence, res, err := d.driver.CreateFence(nil, info)
	if err != nil {
		return 0, gpu.Check("vkCreateFence", res, err)
	}
	return d.objects.add(fence), nil
}

func (d *Device) CreateSemaphore() (gpu.Handle, error) {
	semaphore, res, err := d.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return 0, gpu.Check("vkCreateSemaphore", res, err)
	}
	return d.objects.add(semaphore), nil
}

func (d *Device) WaitForFence(fenceHandle gpu.Handle, timeout time.Duration) error {
	fence, err := lookup[core1_0.Fence](d.objects, fenceHandle)
	if err != nil {
		return err
	}

	res, err := d.driver.WaitForFences(true, timeout, fence)
	if res == core1_0.VKTimeout {
		return gpu.Check("vkWaitForFences", res, errors.Wrapf(gpu.ErrTimeout, "after %s", timeout))
	}
	return gpu.Check("vkWaitForFences", res, err)
}

func (d *Device) ResetFence(fenceHandle gpu.Handle) error {
	fence, err := lookup[core1_0.Fence](d.objects, fenceHandle)
	if err != nil {
		return err
	}

	res, err := d.driver.ResetFences(fence)
	return gpu.Check("vkResetFences", res, err)
}

func (d *Device) AcquireNextImage(swapchainHandle gpu.Handle, timeout time.Duration, signal gpu.Handle) (int, error) {
	swapchain, err := lookup[khr_swapchain.Swapchain](d.objects, swapchainHandle)
	if err != nil {
		return -1, err
	}
	semaphore, err := lookup[core1_0.Semaphore](d.objects, signal)
	if err != nil {
		return -1, err
	}

	imageIndex, res, err := d.swapchainExt.AcquireNextImage(swapchain, timeout, &semaphore, nil)
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return -1, gpu.Check("vkAcquireNextImageKHR", res, gpu.ErrOutOfDate)
	case res == core1_0.VKTimeout || res == core1_0.VKNotReady:
		return -1, gpu.Check("vkAcquireNextImageKHR", res, errors.Wrapf(gpu.ErrTimeout, "after %s", timeout))
	case err != nil:
		return -1, gpu.Check("vkAcquireNextImageKHR", res, err)
	}
	return imageIndex, nil
}

func (d *Device) Submit(s gpu.Submission) error {
	buffer, err := lookup[core1_0.CommandBuffer](d.objects, s.CommandBuffer)
	if err != nil {
		return err
	}
	fence, err := lookup[core1_0.Fence](d.objects, s.Fence)
	if err != nil {
		return err
	}

	info := core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{buffer},
	}
	if s.Wait.Valid() {
		wait, err := lookup[core1_0.Semaphore](d.objects, s.Wait)
		if err != nil {
			return err
		}
		info.WaitSemaphores = []core1_0.Semaphore{wait}
		// The first use of the acquired image is a layout transition, which
		// may run at any stage.
		info.WaitDstStageMask = []core1_0.PipelineStageFlags{core1_0.PipelineStageAllCommands}
	}
	if s.Signal.Valid() {
		signal, err := lookup[core1_0.Semaphore](d.objects, s.Signal)
		if err != nil {
			return err
		}
		info.SignalSemaphores = []core1_0.Semaphore{signal}
	}

	res, err := d.driver.QueueSubmit(d.queue, &fence, info)
	return gpu.Check("vkQueueSubmit", res, err)
}

func (d *Device) Present(p gpu.Presentation) error {
	swapchain, err := lookup[khr_swapchain.Swapchain](d.objects, p.Swapchain)
	if err != nil {
		return err
	}
	wait, err := lookup[core1_0.Semaphore](d.objects, p.Wait)
	if err != nil {
		return err
	}

	res, err := d.swapchainExt.QueuePresent(d.queue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait},
		Swapchains:     []khr_swapchain.Swapchain{swapchain},
		ImageIndices:   []int{p.ImageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return gpu.Check("vkQueuePresentKHR", res, gpu.ErrOutOfDate)
	}
	return gpu.Check("vkQueuePresentKHR", res, err)
}

func (d *Device) WaitIdle() error {
	res, err := d.driver.DeviceWaitIdle()
	return gpu.Check("vkDeviceWaitIdle", res, err)
}

// Destroy destroys one object. Destroying a pool frees the command buffers or
// descriptor sets allocated from it; destroying a swapchain releases its
// images.
func (d *Device) Destroy(kind gpu.Kind, h gpu.Handle) {
	d.destroyers.Destroy(kind, h)
}

func (d *Device) destroyTable() deletion.Table {
	return deletion.Table{
		gpu.KindAllocator: func(h gpu.Handle) {
			take[*allocator](d.objects, h)
		},
		gpu.KindAllocation: func(h gpu.Handle) {
			if memory, ok := take[core1_0.DeviceMemory](d.objects, h); ok {
				d.driver.FreeMemory(memory, nil)
			}
		},
		gpu.KindImage: func(h gpu.Handle) {
			if image, ok := take[core1_0.Image](d.objects, h); ok {
				d.driver.DestroyImage(image, nil)
			}
		},
		gpu.KindImageView: func(h gpu.Handle) {
			if view, ok := take[core1_0.ImageView](d.objects, h); ok {
				d.driver.DestroyImageView(view, nil)
			}
		},
		gpu.KindSwapchain: func(h gpu.Handle) {
			if swapchain, ok := take[khr_swapchain.Swapchain](d.objects, h); ok {
				d.swapchainExt.DestroySwapchain(swapchain, nil)
			}
		},
		gpu.KindCommandPool: func(h gpu.Handle) {
			if pool, ok := take[core1_0.CommandPool](d.objects, h); ok {
				d.driver.DestroyCommandPool(pool, nil)
			}
		},
		gpu.KindFence: func(h gpu.Handle) {
			if fence, ok := take[core1_0.Fence](d.objects, h); ok {
				d.driver.DestroyFence(fence, nil)
			}
		},
		gpu.KindSemaphore: func(h gpu.Handle) {
			if semaphore, ok := take[core1_0.Semaphore](d.objects, h); ok {
				d.driver.DestroySemaphore(semaphore, nil)
			}
		},
		gpu.KindPipeline: func(h gpu.Handle) {
			if pipeline, ok := take[core1_0.Pipeline](d.objects, h); ok {
				d.driver.DestroyPipeline(pipeline, nil)
			}
		},
		gpu.KindPipelineLayout: func(h gpu.Handle) {
			if layout, ok := take[core1_0.PipelineLayout](d.objects, h); ok {
				d.driver.DestroyPipelineLayout(layout, nil)
			}
		},
		gpu.KindDescriptorSetLayout: func(h gpu.Handle) {
			if layout, ok := take[core1_0.DescriptorSetLayout](d.objects, h); ok {
				d.driver.DestroyDescriptorSetLayout(layout, nil)
			}
		},
		gpu.KindDescriptorPool: func(h gpu.Handle) {
			if pool, ok := take[core1_0.DescriptorPool](d.objects, h); ok {
				d.driver.DestroyDescriptorPool(pool, nil)
			}
		},
		gpu.KindPipelineCache: func(h gpu.Handle) {
			if cache, ok := take[core1_0.PipelineCache](d.objects, h); ok {
				d.driver.DestroyPipelineCache(cache, nil)
			}
		},
	}
}

// Close destroys the logical device, logging any object that was never
// destroyed.
func (d *Device) Close() {
	if d.driver == nil {
		return
	}

	if leaked := d.objects.len(); leaked > 0 {
		d.log.Warn("closing device with live objects", "count", leaked)
	}
	d.driver.DestroyDevice(nil)
	d.driver = nil
}
