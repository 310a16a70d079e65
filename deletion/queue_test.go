package deletion

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/frameloop/gpu"
)

type recorder struct {
	destroyed []Record
}

func (r *recorder) Destroy(kind gpu.Kind, handle gpu.Handle) {
	r.destroyed = append(r.destroyed, Record{Kind: kind, Handle: handle})
}

func TestFlushReverseOrder(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7, 64} {
		var q Queue
		var added []Record
		for i := 0; i < n; i++ {
			kind := gpu.Kind(i%int(gpu.KindPipelineCache) + 1)
			q.Add(kind, gpu.Handle(i+1))
			added = append(added, Record{Kind: kind, Handle: gpu.Handle(i + 1)})
		}
		require.Equal(t, n, q.Len())

		r := &recorder{}
		q.Flush(r)

		require.Len(t, r.destroyed, n)
		for i := range added {
			require.Equal(t, added[n-1-i], r.destroyed[i])
		}
		require.Zero(t, q.Len())

		q.Flush(r)
		require.Len(t, r.destroyed, n, "second flush must be a no-op")
	}
}

func TestQueueReusableAfterFlush(t *testing.T) {
	var q Queue
	r := &recorder{}

	q.Add(gpu.KindFence, 1)
	q.Flush(r)
	q.Add(gpu.KindSemaphore, 2)
	q.Add(gpu.KindImageView, 3)
	q.Flush(r)

	require.Equal(t, []Record{
		{gpu.KindFence, 1},
		{gpu.KindImageView, 3},
		{gpu.KindSemaphore, 2},
	}, r.destroyed)
}

func TestAllocatedImageReleaseOrder(t *testing.T) {
	var q Queue
	r := &recorder{}

	gpu.AllocatedImage{Image: 10, View: 11, Allocation: 12}.Release(&q)
	q.Flush(r)

	require.Equal(t, []Record{
		{gpu.KindImageView, 11},
		{gpu.KindImage, 10},
		{gpu.KindAllocation, 12},
	}, r.destroyed)
}

func TestTableDispatch(t *testing.T) {
	var fences, views []gpu.Handle
	table := Table{
		gpu.KindFence:     func(h gpu.Handle) { fences = append(fences, h) },
		gpu.KindImageView: func(h gpu.Handle) { views = append(views, h) },
	}

	var q Queue
	q.Add(gpu.KindFence, 1)
	q.Add(gpu.KindImageView, 2)
	q.Add(gpu.KindFence, 3)
	q.Flush(table)

	require.Equal(t, []gpu.Handle{3, 1}, fences)
	require.Equal(t, []gpu.Handle{2}, views)

	require.Panics(t, func() {
		table.Destroy(gpu.KindPipeline, 4)
	})
}
