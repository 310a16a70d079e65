package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/frameloop/gpu"
)

// CreateSwapchain builds a chain for the instance's surface with one view per
// image. The extent is clamped to what the surface allows, and the format
// and present mode fall back to what it supports.
func (d *Device) CreateSwapchain(req gpu.SwapchainRequest) (gpu.Swapchain, error) {
	capabilities, res, err := d.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(d.surface, d.physicalDevice)
	if err != nil {
		return gpu.Swapchain{}, gpu.Check("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res, err)
	}
	formats, res, err := d.surfaceExtension.GetPhysicalDeviceSurfaceFormats(d.surface, d.physicalDevice)
	if err != nil {
		return gpu.Swapchain{}, gpu.Check("vkGetPhysicalDeviceSurfaceFormatsKHR", res, err)
	}
	presentModes, res, err := d.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(d.surface, d.physicalDevice)
	if err != nil {
		return gpu.Swapchain{}, gpu.Check("vkGetPhysicalDeviceSurfacePresentModesKHR", res, err)
	}
	if len(formats) == 0 {
		return gpu.Swapchain{}, errors.New("surface reports no formats")
	}

	surfaceFormat := chooseSwapSurfaceFormat(formats, toFormat(req.Format))
	presentMode := chooseSwapPresentMode(presentModes, toPresentMode(req.PresentMode))
	extent := chooseSwapExtent(capabilities, req.Extent)
	if extent.Width == 0 || extent.Height == 0 {
		return gpu.Swapchain{}, errors.Newf("surface extent is %dx%d", extent.Width, extent.Height)
	}

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}

	swapchain, res, err := d.swapchainExt.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: d.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       toUsage(req.Usage),
		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return gpu.Swapchain{}, gpu.Check("vkCreateSwapchainKHR", res, err)
	}
	swapchainHandle := d.objects.add(swapchain)

	chain := gpu.Swapchain{
		Handle: swapchainHandle,
		Format: fromFormat(surfaceFormat.Format),
		Extent: gpu.Extent2D{Width: extent.Width, Height: extent.Height},
	}

	images, res, err := d.swapchainExt.GetSwapchainImages(swapchain)
	if err != nil {
		d.Destroy(gpu.KindSwapchain, swapchainHandle)
		return gpu.Swapchain{}, gpu.Check("vkGetSwapchainImagesKHR", res, err)
	}

	for _, image := range images {
		view, err := d.createImageView(image, surfaceFormat.Format)
		if err != nil {
			for _, created := range chain.Views {
				d.Destroy(gpu.KindImageView, created)
			}
			d.Destroy(gpu.KindSwapchain, swapchainHandle)
			return gpu.Swapchain{}, err
		}

		chain.Images = append(chain.Images, d.objects.addChild(swapchainHandle, image))
		chain.Views = append(chain.Views, d.objects.add(view))
	}

	return chain, nil
}

func chooseSwapSurfaceFormat(availableFormats []khr_surface.SurfaceFormat, preferred core1_0.Format) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == preferred && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

func chooseSwapPresentMode(availablePresentModes []khr_surface.PresentMode, preferred khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range availablePresentModes {
		if presentMode == preferred {
			return presentMode
		}
	}

	// The only mode every implementation must support.
	return khr_surface.PresentModeFIFO
}

func chooseSwapExtent(capabilities *khr_surface.SurfaceCapabilities, requested gpu.Extent2D) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	width := requested.Width
	height := requested.Height

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}
