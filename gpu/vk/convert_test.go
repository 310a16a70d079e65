package vk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/frameloop/gpu"
)

func TestFormats(t *testing.T) {
	for ours := range formats {
		require.Equal(t, ours, fromFormat(toFormat(ours)), ours.String())
	}
	require.Equal(t, gpu.FormatUndefined, fromFormat(core1_0.FormatR8G8B8A8SRGB))
}

func TestToUsage(t *testing.T) {
	require.Equal(t, core1_0.ImageUsageFlags(0), toUsage(0))
	require.Equal(t,
		core1_0.ImageUsageTransferSrc|core1_0.ImageUsageTransferDst|core1_0.ImageUsageStorage,
		toUsage(gpu.UsageTransferSrc|gpu.UsageTransferDst|gpu.UsageStorage),
	)
	require.Equal(t,
		core1_0.ImageUsageColorAttachment|core1_0.ImageUsageTransferDst,
		toUsage(gpu.UsageColorAttachment|gpu.UsageTransferDst),
	)
}

func TestLayouts(t *testing.T) {
	for _, l := range []gpu.Layout{gpu.LayoutUndefined, gpu.LayoutGeneral, gpu.LayoutTransferSrc, gpu.LayoutTransferDst, gpu.LayoutPresentSrc} {
		_, ok := toLayout(l)
		require.True(t, ok, l.String())
		require.Contains(t, layoutAccess, l)
	}

	_, ok := toLayout(gpu.Layout(99))
	require.False(t, ok)

	// A barrier out of Undefined must wait for whatever last touched the image.
	require.Equal(t, core1_0.PipelineStageAllCommands, layoutAccess[gpu.LayoutUndefined].stage)
	require.Equal(t, core1_0.AccessMemoryWrite, layoutAccess[gpu.LayoutUndefined].mask)

	require.Equal(t, core1_0.PipelineStageComputeShader, layoutAccess[gpu.LayoutGeneral].stage)
	require.Equal(t, core1_0.AccessShaderRead|core1_0.AccessShaderWrite, layoutAccess[gpu.LayoutGeneral].mask)
	require.Equal(t, core1_0.PipelineStageTransfer, layoutAccess[gpu.LayoutTransferSrc].stage)
	require.Equal(t, core1_0.AccessTransferRead, layoutAccess[gpu.LayoutTransferSrc].mask)
	require.Equal(t, core1_0.PipelineStageTransfer, layoutAccess[gpu.LayoutTransferDst].stage)
	require.Equal(t, core1_0.AccessTransferWrite, layoutAccess[gpu.LayoutTransferDst].mask)
	require.Equal(t, core1_0.PipelineStageBottomOfPipe, layoutAccess[gpu.LayoutPresentSrc].stage)
}

func TestChooseSwapExtent(t *testing.T) {
	fixed := &khr_surface.SurfaceCapabilities{
		CurrentExtent: core1_0.Extent2D{Width: 1024, Height: 768},
	}
	require.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, chooseSwapExtent(fixed, gpu.Extent2D{Width: 10, Height: 10}))

	free := &khr_surface.SurfaceCapabilities{
		CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
		MinImageExtent: core1_0.Extent2D{Width: 64, Height: 64},
		MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 2048},
	}
	require.Equal(t, core1_0.Extent2D{Width: 800, Height: 600}, chooseSwapExtent(free, gpu.Extent2D{Width: 800, Height: 600}))
	require.Equal(t, core1_0.Extent2D{Width: 64, Height: 2048}, chooseSwapExtent(free, gpu.Extent2D{Width: 1, Height: 5000}))
}

func TestChooseSwapSurfaceFormat(t *testing.T) {
	available := []khr_surface.SurfaceFormat{
		{Format: core1_0.FormatR8G8B8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
		{Format: core1_0.FormatB8G8R8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
	}

	got := chooseSwapSurfaceFormat(available, core1_0.FormatB8G8R8A8UnsignedNormalized)
	require.Equal(t, core1_0.FormatB8G8R8A8UnsignedNormalized, got.Format)

	got = chooseSwapSurfaceFormat(available, core1_0.FormatR16G16B16A16SignedFloat)
	require.Equal(t, core1_0.FormatR8G8B8A8SRGB, got.Format)
}

func TestChooseSwapPresentMode(t *testing.T) {
	available := []khr_surface.PresentMode{khr_surface.PresentModeImmediate, khr_surface.PresentModeFIFO}

	require.Equal(t, khr_surface.PresentModeImmediate, chooseSwapPresentMode(available, khr_surface.PresentModeImmediate))
	require.Equal(t, khr_surface.PresentModeFIFO, chooseSwapPresentMode(available, khr_surface.PresentModeMailbox))
}

func TestDebugMessageMapping(t *testing.T) {
	require.Equal(t, gpu.SeverityError, fromSeverity(ext_debug_utils.SeverityError))
	require.Equal(t, gpu.SeverityWarning, fromSeverity(ext_debug_utils.SeverityWarning))
	require.Equal(t, gpu.SeverityInfo, fromSeverity(ext_debug_utils.SeverityInfo))
	require.Equal(t, gpu.SeverityVerbose, fromSeverity(ext_debug_utils.SeverityVerbose))

	require.Equal(t, "validation", messageCategory(ext_debug_utils.TypeValidation|ext_debug_utils.TypeGeneral))
	require.Equal(t, "performance", messageCategory(ext_debug_utils.TypePerformance))
	require.Equal(t, "general", messageCategory(ext_debug_utils.TypeGeneral))
}

func TestDebugMessengerCallback(t *testing.T) {
	var got []string
	opts := debugMessengerOptions(func(severity gpu.Severity, category, message string) bool {
		got = append(got, severity.String()+" "+category+" "+message)
		return false
	})

	abort := opts.UserCallback(ext_debug_utils.TypeValidation, ext_debug_utils.SeverityError, &ext_debug_utils.DebugUtilsMessengerCallbackData{
		Message: "bad barrier",
	})
	require.False(t, abort)
	require.Equal(t, []string{gpu.SeverityError.String() + " validation bad barrier"}, got)

	silent := debugMessengerOptions(nil)
	require.False(t, silent.UserCallback(ext_debug_utils.TypeGeneral, ext_debug_utils.SeverityWarning, &ext_debug_utils.DebugUtilsMessengerCallbackData{}))
}
