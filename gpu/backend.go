package gpu

import "time"

// Instance is the process-level entry point of a graphics backend. It owns
// the presentation surface.
type Instance interface {
	// Candidates describes every physical device, evaluated against the
	// instance's surface.
	Candidates() ([]Candidate, error)
	// CreateDevice opens a logical device and its submission queue on the
	// given candidate with features enabled. Every feature must be one
	// c.Features reports.
	CreateDevice(c Candidate, features Features) (Device, error)
	DestroySurface()
	Destroy()
}

// Device is a logical device with a single queue used for graphics, compute
// and presentation. Every object it creates is returned as a Handle and
// destroyed through Destroy.
type Device interface {
	QueueFamily() int

	CreateAllocator() (Handle, error)
	CreateCommandPool() (Handle, error)
	AllocateCommandBuffer(pool Handle) (Handle, error)
	CreateFence(signaled bool) (Handle, error)
	CreateSemaphore() (Handle, error)

	// WaitForFence blocks until fence is signaled. It returns ErrTimeout if
	// that takes longer than timeout.
	WaitForFence(fence Handle, timeout time.Duration) error
	ResetFence(fence Handle) error

	CreateSwapchain(req SwapchainRequest) (Swapchain, error)
	// AcquireNextImage returns the index of the next presentable image and
	// arranges for signal to be signaled once it may be written.
	AcquireNextImage(swapchain Handle, timeout time.Duration, signal Handle) (int, error)

	CreateImage(req ImageRequest) (AllocatedImage, error)
	CreatePipelineCache(initialData []byte) (Handle, error)
	PipelineCacheData(cache Handle) ([]byte, error)
	CreateComputePipeline(req ComputePipelineRequest) (ComputePipeline, error)
	// BindStorageImage points the descriptor set's storage image binding at
	// view.
	BindStorageImage(set Handle, view Handle) error

	// Record begins cmd, lets record fill it and ends it.
	Record(cmd Handle, record func(Recorder) error) error
	Submit(s Submission) error
	Present(p Presentation) error

	WaitIdle() error
	Destroy(kind Kind, handle Handle)
	// Close destroys the logical device. Every object created from it must
	// already be destroyed.
	Close()
}

// Recorder appends commands to the command buffer being recorded.
type Recorder interface {
	TransitionImage(image Handle, from, to Layout) error
	// Dispatch binds the pipeline and its descriptor set, pushes constants
	// and dispatches the given number of workgroups.
	Dispatch(p ComputePipeline, pushConstants []byte, groupsX, groupsY int) error
	// BlitImage copies the whole of src onto the whole of dst, scaling with
	// linear filtering when the extents differ.
	BlitImage(src, dst Handle, srcExtent, dstExtent Extent2D) error
}

type SwapchainRequest struct {
	Extent      Extent2D
	Format      Format
	PresentMode PresentMode
	Usage       ImageUsage
}

type ImageRequest struct {
	Allocator Handle
	Extent    Extent2D
	Format    Format
	Usage     ImageUsage
}

type ComputePipelineRequest struct {
	Shader           []byte
	Cache            Handle
	PushConstantSize int
	StorageImage     Handle
}

// Submission orders a command buffer after Wait and before Signal; Fence is
// signaled when the GPU has finished executing it.
type Submission struct {
	CommandBuffer Handle
	Wait          Handle
	Signal        Handle
	Fence         Handle
}

type Presentation struct {
	Swapchain  Handle
	ImageIndex int
	Wait       Handle
}
