package gpu

import "fmt"

// Handle identifies an object owned by a backend. The zero Handle never
// refers to a live object.
type Handle uint64

func (h Handle) Valid() bool {
	return h != 0
}

// Kind tags the type of object a Handle refers to, so that a destroy record
// can be dispatched without knowing the backend's concrete types.
type Kind int

const (
	KindImage Kind = iota + 1
	KindImageView
	KindAllocation
	KindAllocator
	KindSwapchain
	KindCommandPool
	KindFence
	KindSemaphore
	KindPipeline
	KindPipelineLayout
	KindDescriptorSetLayout
	KindDescriptorPool
	KindPipelineCache
)

var kindNames = map[Kind]string{
	KindImage:               "Image",
	KindImageView:           "ImageView",
	KindAllocation:          "Allocation",
	KindAllocator:           "Allocator",
	KindSwapchain:           "Swapchain",
	KindCommandPool:         "CommandPool",
	KindFence:               "Fence",
	KindSemaphore:           "Semaphore",
	KindPipeline:            "Pipeline",
	KindPipelineLayout:      "PipelineLayout",
	KindDescriptorSetLayout: "DescriptorSetLayout",
	KindDescriptorPool:      "DescriptorPool",
	KindPipelineCache:       "PipelineCache",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return name
}

// Enqueuer receives destroy records for objects whose destruction must wait
// until the GPU has finished with them.
type Enqueuer interface {
	Add(kind Kind, handle Handle)
}
