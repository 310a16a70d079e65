package gpu

import "fmt"

// Layout is the memory layout an image is in when commands access it.
type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

var layoutNames = map[Layout]string{
	LayoutUndefined:   "Undefined",
	LayoutGeneral:     "General",
	LayoutTransferSrc: "TransferSrc",
	LayoutTransferDst: "TransferDst",
	LayoutPresentSrc:  "PresentSrc",
}

func (l Layout) String() string {
	name, ok := layoutNames[l]
	if !ok {
		return fmt.Sprintf("Layout(%d)", int(l))
	}
	return name
}

type Format int

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8UNorm
	FormatB8G8R8A8SRGB
	FormatR16G16B16A16SFloat
)

var formatNames = map[Format]string{
	FormatUndefined:          "Undefined",
	FormatB8G8R8A8UNorm:      "B8G8R8A8UNorm",
	FormatB8G8R8A8SRGB:       "B8G8R8A8SRGB",
	FormatR16G16B16A16SFloat: "R16G16B16A16SFloat",
}

func (f Format) String() string {
	name, ok := formatNames[f]
	if !ok {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return name
}

type PresentMode int

const (
	PresentModeFIFO PresentMode = iota
	PresentModeMailbox
	PresentModeImmediate
)

type ImageUsage uint32

const (
	UsageTransferSrc ImageUsage = 1 << iota
	UsageTransferDst
	UsageStorage
	UsageColorAttachment
	UsageSampled
)

type Extent2D struct {
	Width  int
	Height int
}

// Empty reports whether either dimension is zero, as happens while a window
// is minimized.
func (e Extent2D) Empty() bool {
	return e.Width <= 0 || e.Height <= 0
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// AllocatedImage is a device-local image together with its view and the
// memory backing it.
type AllocatedImage struct {
	Image      Handle
	View       Handle
	Allocation Handle
	Extent     Extent2D
	Format     Format
}

// Release hands the image's objects to q. The view is destroyed first and the
// allocation last.
func (i AllocatedImage) Release(q Enqueuer) {
	if i.Allocation.Valid() {
		q.Add(KindAllocation, i.Allocation)
	}
	if i.Image.Valid() {
		q.Add(KindImage, i.Image)
	}
	if i.View.Valid() {
		q.Add(KindImageView, i.View)
	}
}

// Swapchain is the ordered chain of presentable images and one view per
// image.
type Swapchain struct {
	Handle Handle
	Images []Handle
	Views  []Handle
	Format Format
	Extent Extent2D
}

// ComputePipeline bundles a compute pipeline with the layout objects and the
// single descriptor set it binds.
type ComputePipeline struct {
	Pipeline            Handle
	Layout              Handle
	DescriptorSetLayout Handle
	DescriptorPool      Handle
	DescriptorSet       Handle
	PushConstantSize    int
}

// Release hands the pipeline's objects to q. The descriptor set is freed with
// its pool.
func (p ComputePipeline) Release(q Enqueuer) {
	if p.DescriptorSetLayout.Valid() {
		q.Add(KindDescriptorSetLayout, p.DescriptorSetLayout)
	}
	if p.DescriptorPool.Valid() {
		q.Add(KindDescriptorPool, p.DescriptorPool)
	}
	if p.Layout.Valid() {
		q.Add(KindPipelineLayout, p.Layout)
	}
	if p.Pipeline.Valid() {
		q.Add(KindPipeline, p.Pipeline)
	}
}
