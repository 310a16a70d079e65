package vk

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// allocator hands out dedicated device memory for images. It only needs the
// memory types of the physical device; every allocation is a separate
// vkAllocateMemory.
type allocator struct {
	types []core1_0.MemoryPropertyFlags
}

func newAllocator(props *core1_0.PhysicalDeviceMemoryProperties) *allocator {
	a := &allocator{}
	for _, memoryType := range props.MemoryTypes {
		a.types = append(a.types, memoryType.PropertyFlags)
	}
	return a
}

// memoryPreferences steer the choice of memory type. Required flags must be
// present; every missing preferred flag and every present unwanted flag adds
// one to a type's cost.
type memoryPreferences struct {
	required     core1_0.MemoryPropertyFlags
	preferred    core1_0.MemoryPropertyFlags
	notPreferred core1_0.MemoryPropertyFlags
}

// deviceLocal suits images only the GPU touches.
var deviceLocal = memoryPreferences{
	required:     core1_0.MemoryPropertyDeviceLocal,
	notPreferred: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
}

// chooseMemoryType returns the cheapest memory type allowed by typeBits that
// has the required flags, preferring the lowest index among equal costs.
func chooseMemoryType(types []core1_0.MemoryPropertyFlags, typeBits uint32, prefs memoryPreferences) (int, error) {
	best := -1
	minCost := math.MaxInt

	for index, flags := range types {
		if typeBits&(1<<index) == 0 {
			continue
		}
		if flags&prefs.required != prefs.required {
			continue
		}

		missingPreferred := prefs.preferred &^ flags
		presentNotPreferred := prefs.notPreferred & flags
		cost := bits.OnesCount32(uint32(missingPreferred)) + bits.OnesCount32(uint32(presentNotPreferred))
		if cost == 0 {
			return index, nil
		}
		if cost < minCost {
			best = index
			minCost = cost
		}
	}

	if best < 0 {
		return -1, errors.Newf("no memory type in %#b has flags %v", typeBits, prefs.required)
	}
	return best, nil
}
