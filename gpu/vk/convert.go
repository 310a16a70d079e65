package vk

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/frameloop/gpu"
)

var formats = map[gpu.Format]core1_0.Format{
	gpu.FormatUndefined:          core1_0.FormatUndefined,
	gpu.FormatB8G8R8A8UNorm:      core1_0.FormatB8G8R8A8UnsignedNormalized,
	gpu.FormatB8G8R8A8SRGB:       core1_0.FormatB8G8R8A8SRGB,
	gpu.FormatR16G16B16A16SFloat: core1_0.FormatR16G16B16A16SignedFloat,
}

func toFormat(f gpu.Format) core1_0.Format {
	return formats[f]
}

func fromFormat(f core1_0.Format) gpu.Format {
	for ours, theirs := range formats {
		if theirs == f {
			return ours
		}
	}
	return gpu.FormatUndefined
}

func toUsage(u gpu.ImageUsage) core1_0.ImageUsageFlags {
	var flags core1_0.ImageUsageFlags
	if u&gpu.UsageTransferSrc != 0 {
		flags |= core1_0.ImageUsageTransferSrc
	}
	if u&gpu.UsageTransferDst != 0 {
		flags |= core1_0.ImageUsageTransferDst
	}
	if u&gpu.UsageStorage != 0 {
		flags |= core1_0.ImageUsageStorage
	}
	if u&gpu.UsageColorAttachment != 0 {
		flags |= core1_0.ImageUsageColorAttachment
	}
	if u&gpu.UsageSampled != 0 {
		flags |= core1_0.ImageUsageSampled
	}
	return flags
}

func toPresentMode(m gpu.PresentMode) khr_surface.PresentMode {
	switch m {
	case gpu.PresentModeMailbox:
		return khr_surface.PresentModeMailbox
	case gpu.PresentModeImmediate:
		return khr_surface.PresentModeImmediate
	default:
		return khr_surface.PresentModeFIFO
	}
}

func fromDeviceType(t core1_0.PhysicalDeviceType) gpu.DeviceType {
	switch t {
	case core1_0.PhysicalDeviceTypeDiscreteGPU:
		return gpu.DeviceTypeDiscrete
	case core1_0.PhysicalDeviceTypeIntegratedGPU:
		return gpu.DeviceTypeIntegrated
	case core1_0.PhysicalDeviceTypeVirtualGPU:
		return gpu.DeviceTypeVirtual
	case core1_0.PhysicalDeviceTypeCPU:
		return gpu.DeviceTypeCPU
	default:
		return gpu.DeviceTypeOther
	}
}

// access is how commands touch an image while it is in a given layout: the
// pipeline stage that reads or writes it and the kind of access.
type access struct {
	stage core1_0.PipelineStageFlags
	mask  core1_0.AccessFlags
}

// Leaving Undefined discards the contents, but the image may still be in use
// by commands from an earlier submission, such as the previous frame's blit
// out of the draw image. Waiting on all commands orders the new writes after
// those.
var layoutAccess = map[gpu.Layout]access{
	gpu.LayoutUndefined:   {core1_0.PipelineStageAllCommands, core1_0.AccessMemoryWrite},
	gpu.LayoutGeneral:     {core1_0.PipelineStageComputeShader, core1_0.AccessShaderRead | core1_0.AccessShaderWrite},
	gpu.LayoutTransferSrc: {core1_0.PipelineStageTransfer, core1_0.AccessTransferRead},
	gpu.LayoutTransferDst: {core1_0.PipelineStageTransfer, core1_0.AccessTransferWrite},
	gpu.LayoutPresentSrc:  {core1_0.PipelineStageBottomOfPipe, 0},
}

var layouts = map[gpu.Layout]core1_0.ImageLayout{
	gpu.LayoutUndefined:   core1_0.ImageLayoutUndefined,
	gpu.LayoutGeneral:     core1_0.ImageLayoutGeneral,
	gpu.LayoutTransferSrc: core1_0.ImageLayoutTransferSrcOptimal,
	gpu.LayoutTransferDst: core1_0.ImageLayoutTransferDstOptimal,
	gpu.LayoutPresentSrc:  khr_swapchain.ImageLayoutPresentSrc,
}

func toLayout(l gpu.Layout) (core1_0.ImageLayout, bool) {
	layout, ok := layouts[l]
	return layout, ok
}
