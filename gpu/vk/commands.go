package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/frameloop/gpu"
)

// Record resets cmd by beginning it for a single submission, runs record and
// ends it.
func (d *Device) Record(cmdHandle gpu.Handle, record func(gpu.Recorder) error) error {
	buffer, err := lookup[core1_0.CommandBuffer](d.objects, cmdHandle)
	if err != nil {
		return err
	}

	res, err := d.driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return gpu.Check("vkBeginCommandBuffer", res, err)
	}

	if err := record(&recorder{device: d, buffer: buffer}); err != nil {
		// Leave the buffer in the executable state so it can be begun again.
		_, _ = d.driver.EndCommandBuffer(buffer)
		return err
	}

	res, err = d.driver.EndCommandBuffer(buffer)
	return gpu.Check("vkEndCommandBuffer", res, err)
}

type recorder struct {
	device *Device
	buffer core1_0.CommandBuffer
}

func (r *recorder) TransitionImage(imageHandle gpu.Handle, from, to gpu.Layout) error {
	image, err := lookup[core1_0.Image](r.device.objects, imageHandle)
	if err != nil {
		return err
	}
	oldLayout, ok := toLayout(from)
	if !ok {
		return errors.Newf("unsupported layout %s", from)
	}
	newLayout, ok := toLayout(to)
	if !ok {
		return errors.Newf("unsupported layout %s", to)
	}
	src := layoutAccess[from]
	dst := layoutAccess[to]

	err = r.device.driver.CmdPipelineBarrier(r.buffer, src.stage, dst.stage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               image,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcAccessMask: src.mask,
			DstAccessMask: dst.mask,
		},
	})
	return gpu.Check("vkCmdPipelineBarrier", "", err)
}

func (r *recorder) Dispatch(p gpu.ComputePipeline, pushConstants []byte, groupsX, groupsY int) error {
	objs := r.device.objects
	pipeline, err := lookup[core1_0.Pipeline](objs, p.Pipeline)
	if err != nil {
		return err
	}
	layout, err := lookup[core1_0.PipelineLayout](objs, p.Layout)
	if err != nil {
		return err
	}
	set, err := lookup[core1_0.DescriptorSet](objs, p.DescriptorSet)
	if err != nil {
		return err
	}
	if len(pushConstants) != p.PushConstantSize {
		return errors.Newf("pipeline takes %d bytes of push constants, got %d", p.PushConstantSize, len(pushConstants))
	}

	driver := r.device.driver
	driver.CmdBindPipeline(r.buffer, core1_0.PipelineBindPointCompute, pipeline)
	driver.CmdBindDescriptorSets(r.buffer, core1_0.PipelineBindPointCompute, layout, 0, []core1_0.DescriptorSet{set}, nil)
	if len(pushConstants) > 0 {
		driver.CmdPushConstants(r.buffer, layout, core1_0.StageCompute, 0, pushConstants)
	}
	driver.CmdDispatch(r.buffer, groupsX, groupsY, 1)
	return nil
}

func (r *recorder) BlitImage(srcHandle, dstHandle gpu.Handle, srcExtent, dstExtent gpu.Extent2D) error {
	src, err := lookup[core1_0.Image](r.device.objects, srcHandle)
	if err != nil {
		return err
	}
	dst, err := lookup[core1_0.Image](r.device.objects, dstHandle)
	if err != nil {
		return err
	}

	subresource := core1_0.ImageSubresourceLayers{
		AspectMask:     core1_0.ImageAspectColor,
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
	err = r.device.driver.CmdBlitImage(r.buffer, src, core1_0.ImageLayoutTransferSrcOptimal, dst, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
		{
			SrcSubresource: subresource,
			SrcOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: srcExtent.Width, Y: srcExtent.Height, Z: 1},
			},
			DstSubresource: subresource,
			DstOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: dstExtent.Width, Y: dstExtent.Height, Z: 1},
			},
		},
	}, core1_0.FilterLinear)
	return gpu.Check("vkCmdBlitImage", "", err)
}
