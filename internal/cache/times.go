package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Times is an append-only index of block timestamps keyed by level.
// Readers load an immutable snapshot; writers copy on append.
type Times struct {
	mu   sync.Mutex
	snap atomic.Pointer[[]time.Time]
}

// NewTimes creates an index seeded with timestamps for levels 0..len(ts)-1.
func NewTimes(ts []time.Time) *Times {
	t := &Times{}
	seed := append([]time.Time(nil), ts...)
	t.snap.Store(&seed)
	return t
}

func (t *Times) load() []time.Time {
	if p := t.snap.Load(); p != nil {
		return *p
	}
	return nil
}

// At returns the timestamp of a level.
func (t *Times) At(level int64) (time.Time, bool) {
	ts := t.load()
	if level < 0 || level >= int64(len(ts)) {
		return time.Time{}, false
	}
	return ts[level], true
}

// Head returns the last indexed level, or -1 when the index is empty.
func (t *Times) Head() int64 {
	return int64(len(t.load())) - 1
}

// Append adds timestamps starting at level from, which must be Head()+1.
func (t *Times) Append(from int64, ts []time.Time) error {
	if len(ts) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.load()
	if from != int64(len(cur)) {
		return fmt.Errorf("level times: append at %d, expected %d", from, len(cur))
	}
	next := make([]time.Time, len(cur), len(cur)+len(ts))
	copy(next, cur)
	for _, v := range ts {
		next = append(next, v.UTC())
	}
	t.snap.Store(&next)
	return nil
}

// Truncate drops every level above head, e.g. after a chain reorganization.
func (t *Times) Truncate(head int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.load()
	if head+1 >= int64(len(cur)) {
		return
	}
	if head < -1 {
		head = -1
	}
	next := append([]time.Time(nil), cur[:head+1]...)
	t.snap.Store(&next)
}
