// Package deletion defers the destruction of GPU objects until the GPU is
// known to be done with them.
package deletion

import (
	"fmt"

	"github.com/vkngwrapper/frameloop/gpu"
)

// Record names one object to destroy.
type Record struct {
	Kind   gpu.Kind
	Handle gpu.Handle
}

func (r Record) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, uint64(r.Handle))
}

// Destroyer destroys a single object. It must not fail; a backend that cannot
// destroy an object has lost the device and aborts.
type Destroyer interface {
	Destroy(kind gpu.Kind, handle gpu.Handle)
}

// Table dispatches destroy records by kind.
type Table map[gpu.Kind]func(gpu.Handle)

func (t Table) Destroy(kind gpu.Kind, handle gpu.Handle) {
	destroy, ok := t[kind]
	if !ok {
		panic(fmt.Sprintf("deletion: no destroy function registered for %s", kind))
	}
	destroy(handle)
}

// Queue is a stack of destroy records. Objects are destroyed in the reverse
// of the order they were added, so an object added after the objects it
// depends on is destroyed before them.
type Queue struct {
	records []Record
}

func (q *Queue) Add(kind gpu.Kind, handle gpu.Handle) {
	q.records = append(q.records, Record{Kind: kind, Handle: handle})
}

func (q *Queue) Len() int {
	return len(q.records)
}

// Records returns a copy of the pending records in registration order.
func (q *Queue) Records() []Record {
	return append([]Record(nil), q.records...)
}

// Flush destroys every pending object, last added first, and leaves the queue
// empty.
func (q *Queue) Flush(d Destroyer) {
	for i := len(q.records) - 1; i >= 0; i-- {
		r := q.records[i]
		d.Destroy(r.Kind, r.Handle)
	}
	q.records = q.records[:0]
}
