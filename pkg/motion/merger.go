// K-way step stream merger
//
// Merges the per-axis planner streams into one time-ordered event
// sequence on a min-heap keyed (time, axis). Axis streams can be
// dropped mid-merge, which is how homing retires a tower once its
// endstop asserts.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"container/heap"
	stderrors "errors"
)

type mergeItem struct {
	ev  StepEvent
	src StepSource
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if h[i].ev.Time != h[j].ev.Time {
		return h[i].ev.Time < h[j].ev.Time
	}
	return h[i].ev.Axis < h[j].ev.Axis
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Merger lazily merges step sources by ascending time. It holds one
// buffered head event per live source.
type Merger struct {
	h mergeHeap
}

// NewMerger primes one head event from each source. Sources that are
// already drained are skipped.
func NewMerger(sources ...StepSource) (*Merger, error) {
	m := &Merger{h: make(mergeHeap, 0, len(sources))}
	for _, src := range sources {
		ev, err := src.Next()
		if stderrors.Is(err, Done) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.h = append(m.h, mergeItem{ev: ev, src: src})
	}
	heap.Init(&m.h)
	return m, nil
}

// NewMoveMerger builds a merger over all four axis planners of a move.
func NewMoveMerger(mv *Move) (*Merger, error) {
	planners := mv.Planners()
	sources := make([]StepSource, len(planners))
	for i, p := range planners {
		sources[i] = p
	}
	return NewMerger(sources...)
}

// Next returns the earliest pending event, or Done when every source
// has drained.
func (m *Merger) Next() (StepEvent, error) {
	if m.h.Len() == 0 {
		return StepEvent{}, Done
	}
	it := heap.Pop(&m.h).(mergeItem)

	ev, err := it.src.Next()
	if stderrors.Is(err, Done) {
		return it.ev, nil
	}
	if err != nil {
		return StepEvent{}, err
	}
	heap.Push(&m.h, mergeItem{ev: ev, src: it.src})
	return it.ev, nil
}

// Drop removes one axis's stream, discarding its buffered head event.
func (m *Merger) Drop(axis int) {
	for i := 0; i < m.h.Len(); i++ {
		if m.h[i].ev.Axis == axis {
			heap.Remove(&m.h, i)
			return
		}
	}
}

// Live returns the number of axis streams still feeding the merge.
func (m *Merger) Live() int {
	return m.h.Len()
}
