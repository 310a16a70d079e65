package frame

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/frameloop/deletion"
	"github.com/vkngwrapper/frameloop/gpu"
)

// Device creates the per-slot objects.
type Device interface {
	CreateCommandPool() (gpu.Handle, error)
	AllocateCommandBuffer(pool gpu.Handle) (gpu.Handle, error)
	CreateFence(signaled bool) (gpu.Handle, error)
	CreateSemaphore() (gpu.Handle, error)
}

type Ring struct {
	slots [Overlap]Slot
}

// NewRing creates every slot's objects and registers them in global, which
// outlives the ring. Fences start signaled so the first wait on each slot
// returns at once. On error the objects created so far are already in
// global.
func NewRing(dev Device, global *deletion.Queue) (*Ring, error) {
	r := &Ring{}
	for i := range r.slots {
		if err := r.slots[i].create(dev, global); err != nil {
			return nil, errors.Wrapf(err, "frame slot %d", i)
		}
	}
	return r, nil
}

func (s *Slot) create(dev Device, global *deletion.Queue) error {
	var err error

	s.CommandPool, err = dev.CreateCommandPool()
	if err != nil {
		return errors.Wrap(err, "create command pool")
	}
	global.Add(gpu.KindCommandPool, s.CommandPool)

	// Freed together with the pool.
	s.CommandBuffer, err = dev.AllocateCommandBuffer(s.CommandPool)
	if err != nil {
		return errors.Wrap(err, "allocate command buffer")
	}

	s.RenderFence, err = dev.CreateFence(true)
	if err != nil {
		return errors.Wrap(err, "create render fence")
	}
	global.Add(gpu.KindFence, s.RenderFence)

	s.SwapchainSemaphore, err = dev.CreateSemaphore()
	if err != nil {
		return errors.Wrap(err, "create swapchain semaphore")
	}
	global.Add(gpu.KindSemaphore, s.SwapchainSemaphore)

	s.RenderSemaphore, err = dev.CreateSemaphore()
	if err != nil {
		return errors.Wrap(err, "create render semaphore")
	}
	global.Add(gpu.KindSemaphore, s.RenderSemaphore)

	return nil
}

// Slot returns the slot used by the given frame number.
func (r *Ring) Slot(frameNumber uint64) *Slot {
	return &r.slots[Index(frameNumber)]
}

func (r *Ring) Len() int {
	return len(r.slots)
}

func (r *Ring) At(i int) *Slot {
	return &r.slots[i]
}

// Flush empties every slot's deletion queue. The caller must know that no
// slot has work in flight.
func (r *Ring) Flush(d deletion.Destroyer) {
	for i := range r.slots {
		r.slots[i].Deletion.Flush(d)
	}
}
