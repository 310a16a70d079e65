// Package frame holds the resources of each frame the CPU may record while
// the GPU is still executing earlier ones.
package frame

import (
	"github.com/vkngwrapper/frameloop/deletion"
	"github.com/vkngwrapper/frameloop/gpu"
)

// Overlap is the number of frames that may be in flight at once.
const Overlap = 2

// Slot is the set of objects one in-flight frame records and synchronizes
// with. None of them may be touched by the CPU while RenderFence is
// unsignaled.
type Slot struct {
	CommandPool   gpu.Handle
	CommandBuffer gpu.Handle
	// RenderFence is signaled when the slot's last submission has finished.
	RenderFence gpu.Handle
	// SwapchainSemaphore is signaled when the acquired image may be written.
	SwapchainSemaphore gpu.Handle
	// RenderSemaphore is signaled when rendering has finished and the image
	// may be presented.
	RenderSemaphore gpu.Handle

	// Deletion holds objects that live until the slot is next reused.
	Deletion deletion.Queue
}

// Index returns the slot used by the given frame number.
func Index(frameNumber uint64) int {
	return int(frameNumber % Overlap)
}
