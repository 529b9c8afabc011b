// SPDX-License-Identifier: MIT

// Package timeline merges per-stream event runs into one time-ordered
// sequence and enforces per-stream clock monotonicity across chunks.
package timeline

import (
	"container/heap"

	"github.com/opentouch/touchstream/internal/wire"
)

type streamKey struct {
	sensor string
	stream string
}

// Regression records one event dropped because its time ran backwards
// relative to the last emitted event of its stream.
type Regression struct {
	Event    wire.RawEvent
	LastTime float64 // last emitted time for the stream
}

// Merger performs a k-way merge of stream event runs. The per-stream high
// water mark survives across chunks, so a regression at a chunk boundary is
// caught the same way as one inside a chunk.
type Merger struct {
	last map[streamKey]float64
}

// NewMerger returns a Merger with no history.
func NewMerger() *Merger {
	return &Merger{last: make(map[streamKey]float64)}
}

// MergeChunk orders one chunk's events by (time, sensor, stream), keeping
// the relative order of events within a stream. Events whose time is below
// their stream's high water mark are dropped and reported, never emitted.
func (m *Merger) MergeChunk(events []wire.RawEvent) ([]wire.RawEvent, []Regression) {
	if len(events) == 0 {
		return nil, nil
	}

	// Group into per-stream runs preserving encode order.
	var queues []*streamQueue
	index := make(map[streamKey]*streamQueue)
	for _, ev := range events {
		key := streamKey{ev.Sensor, ev.Stream}
		q, ok := index[key]
		if !ok {
			q = &streamQueue{key: key}
			index[key] = q
			queues = append(queues, q)
		}
		q.events = append(q.events, ev)
	}

	h := &mergeHeap{}
	for _, q := range queues {
		heap.Push(h, q)
	}

	ordered := make([]wire.RawEvent, 0, len(events))
	var dropped []Regression
	for h.Len() > 0 {
		q := heap.Pop(h).(*streamQueue)
		ev := q.events[q.pos]

		if last, seen := m.last[q.key]; seen && ev.TimeDelta < last {
			dropped = append(dropped, Regression{Event: ev, LastTime: last})
		} else {
			m.last[q.key] = ev.TimeDelta
			ordered = append(ordered, ev)
		}

		q.pos++
		if q.pos < len(q.events) {
			heap.Push(h, q)
		}
	}
	return ordered, dropped
}

// LastTime returns the high water mark for a stream, if any event of that
// stream has been emitted.
func (m *Merger) LastTime(sensor, stream string) (float64, bool) {
	v, ok := m.last[streamKey{sensor, stream}]
	return v, ok
}

type streamQueue struct {
	key    streamKey
	events []wire.RawEvent
	pos    int
}

func (q *streamQueue) head() wire.RawEvent { return q.events[q.pos] }

type mergeHeap []*streamQueue

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].head(), h[j].head()
	if a.TimeDelta != b.TimeDelta {
		return a.TimeDelta < b.TimeDelta
	}
	if a.Sensor != b.Sensor {
		return a.Sensor < b.Sensor
	}
	return a.Stream < b.Stream
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*streamQueue)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	q := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return q
}
