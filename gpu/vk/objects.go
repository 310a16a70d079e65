package vk

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/frameloop/gpu"
)

// objects maps the opaque handles the engine holds onto the driver objects
// behind them. Objects freed together with a parent (command buffers with
// their pool, descriptor sets with their pool, images with their swapchain)
// are recorded as children and dropped with it.
type objects struct {
	mu       sync.Mutex
	next     gpu.Handle
	items    map[gpu.Handle]any
	children map[gpu.Handle][]gpu.Handle
}

func newObjects() *objects {
	return &objects{
		items:    make(map[gpu.Handle]any),
		children: make(map[gpu.Handle][]gpu.Handle),
	}
}

func (o *objects) add(obj any) gpu.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.next++
	o.items[o.next] = obj
	return o.next
}

func (o *objects) addChild(parent gpu.Handle, obj any) gpu.Handle {
	h := o.add(obj)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.children[parent] = append(o.children[parent], h)
	return h
}

func (o *objects) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func lookup[T any](o *objects, h gpu.Handle) (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var zero T
	item, ok := o.items[h]
	if !ok {
		return zero, errors.Newf("unknown handle #%d", h)
	}
	obj, ok := item.(T)
	if !ok {
		return zero, errors.Newf("handle #%d is a %T, not a %T", h, item, zero)
	}
	return obj, nil
}

// take removes h and its children from the table and returns the object
// behind h.
func take[T any](o *objects, h gpu.Handle) (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var zero T
	item, ok := o.items[h]
	if !ok {
		return zero, false
	}
	obj, ok := item.(T)
	if !ok {
		return zero, false
	}

	delete(o.items, h)
	for _, child := range o.children[h] {
		delete(o.items, child)
	}
	delete(o.children, h)
	return obj, true
}
