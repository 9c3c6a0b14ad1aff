package engine

import (
	"bytes"
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// Entry is one scheduled occurrence in the index.
type Entry struct {
	JobID uuid.UUID
	DueAt time.Time
}

// Index is an identity-keyed, time-ordered priority structure over pending
// occurrences: at most one entry per job id, ordered by (DueAt, id bytes) so
// flush order is deterministic even for equal due times.
//
// The index is owned by the engine goroutine and is not safe for concurrent
// use.
type Index struct {
	h *entryHeap
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{h: &entryHeap{pos: make(map[uuid.UUID]int)}}
}

// Len returns the number of pending entries.
func (ix *Index) Len() int { return len(ix.h.items) }

// Upsert inserts the job's occurrence, replacing any existing entry for the
// same id regardless of its due time.
func (ix *Index) Upsert(jobID uuid.UUID, dueAt time.Time) {
	if i, ok := ix.h.pos[jobID]; ok {
		ix.h.items[i].DueAt = dueAt
		heap.Fix(ix.h, i)
		return
	}
	heap.Push(ix.h, Entry{JobID: jobID, DueAt: dueAt})
}

// PopIfDue removes and returns the minimum entry if its due time has passed
// (DueAt < now, strictly). Returns false when the index is empty or the
// earliest entry is due now or later.
func (ix *Index) PopIfDue(now time.Time) (Entry, bool) {
	if len(ix.h.items) == 0 {
		return Entry{}, false
	}
	if !ix.h.items[0].DueAt.Before(now) {
		return Entry{}, false
	}
	return heap.Pop(ix.h).(Entry), true
}

// Remove deletes the job's entry if present, reporting whether it was.
func (ix *Index) Remove(jobID uuid.UUID) bool {
	i, ok := ix.h.pos[jobID]
	if !ok {
		return false
	}
	heap.Remove(ix.h, i)
	return true
}

// Contains reports whether the job has a pending entry.
func (ix *Index) Contains(jobID uuid.UUID) bool {
	_, ok := ix.h.pos[jobID]
	return ok
}

// PeekMinDueAt returns the earliest due time without removing it. The second
// return is false when the index is empty; the engine uses this to size its
// idle sleep.
func (ix *Index) PeekMinDueAt() (time.Time, bool) {
	if len(ix.h.items) == 0 {
		return time.Time{}, false
	}
	return ix.h.items[0].DueAt, true
}

// entryHeap implements heap.Interface, keeping the position map in step with
// every move so Remove and Upsert stay O(log n).
type entryHeap struct {
	items []Entry
	pos   map[uuid.UUID]int
}

func (h *entryHeap) Len() int { return len(h.items) }

func (h *entryHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if !a.DueAt.Equal(b.DueAt) {
		return a.DueAt.Before(b.DueAt)
	}
	return bytes.Compare(a.JobID[:], b.JobID[:]) < 0
}

func (h *entryHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i].JobID] = i
	h.pos[h.items[j].JobID] = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(Entry)
	h.pos[e.JobID] = len(h.items)
	h.items = append(h.items, e)
}

func (h *entryHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	e := old[n-1]
	delete(h.pos, e.JobID)
	h.items = old[:n-1]
	return e
}
