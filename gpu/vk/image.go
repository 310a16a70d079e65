package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/frameloop/gpu"
)

// CreateImage creates a 2D device-local image with its own memory and a view
// of its single mip level.
func (d *Device) CreateImage(req gpu.ImageRequest) (gpu.AllocatedImage, error) {
	alloc, err := lookup[*allocator](d.objects, req.Allocator)
	if err != nil {
		return gpu.AllocatedImage{}, err
	}
	if req.Extent.Empty() {
		return gpu.AllocatedImage{}, errors.Newf("image extent is %s", req.Extent)
	}
	format := toFormat(req.Format)

	image, res, err := d.driver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  req.Extent.Width,
			Height: req.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         toUsage(req.Usage),
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return gpu.AllocatedImage{}, gpu.Check("vkCreateImage", res, err)
	}

	memReqs := d.driver.GetImageMemoryRequirements(image)
	memoryTypeIndex, err := chooseMemoryType(alloc.types, memReqs.MemoryTypeBits, deviceLocal)
	if err != nil {
		d.driver.DestroyImage(image, nil)
		return gpu.AllocatedImage{}, err
	}

	memory, res, err := d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		d.driver.DestroyImage(image, nil)
		return gpu.AllocatedImage{}, gpu.Check("vkAllocateMemory", res, err)
	}

	res, err = d.driver.BindImageMemory(image, memory, 0)
	if err != nil {
		d.driver.DestroyImage(image, nil)
		d.driver.FreeMemory(memory, nil)
		return gpu.AllocatedImage{}, gpu.Check("vkBindImageMemory", res, err)
	}

	view, err := d.createImageView(image, format)
	if err != nil {
		d.driver.DestroyImage(image, nil)
		d.driver.FreeMemory(memory, nil)
		return gpu.AllocatedImage{}, err
	}

	return gpu.AllocatedImage{
		Image:      d.objects.add(image),
		View:       d.objects.add(view),
		Allocation: d.objects.add(memory),
		Extent:     req.Extent,
		Format:     req.Format,
	}, nil
}

func (d *Device) createImageView(image core1_0.Image, format core1_0.Format) (core1_0.ImageView, error) {
	imageView, res, err := d.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return core1_0.ImageView{}, gpu.Check("vkCreateImageView", res, err)
	}
	return imageView, nil
}
