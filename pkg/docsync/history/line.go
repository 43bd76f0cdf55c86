// Package history implements HistoryLine: the per-peer append-only log of
// applied patches and their inverses, with pop-one/replay support for
// TimeMachine's rollback/rollforward procedure.
package history

import (
	"sync"

	"github.com/musius/collaboration/pkg/docsync/diffengine"
	"github.com/musius/collaboration/pkg/docsync/types"
)

// Entry is one recorded patch application.
type Entry struct {
	Patch        diffengine.Patch
	Timestamp    float64
	IsOwnerLocal bool
}

// Line holds the two parallel ordered sequences forward[] and backward[],
// with the invariant len(forward) == len(backward) held across every call
// boundary. It is not safe to touch concurrently from outside the single
// scheduler goroutine that owns a peer, but guards its own slices with a
// mutex anyway since HistoryLine is an exported type callers elsewhere may
// reach into (e.g. a diagnostics command).
type Line struct {
	mu       sync.Mutex
	forward  []Entry
	backward []Entry
}

// New returns an empty HistoryLine.
func New() *Line {
	return &Line{}
}

// Commit appends forward and backward atomically.
func (l *Line) Commit(forward, backward Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forward = append(l.forward, forward)
	l.backward = append(l.backward, backward)
}

// PopLatest removes and returns the newest (backward, forward) pair. It
// fails with ErrHistoryUnderflow when the history is empty.
func (l *Line) PopLatest() (backward, forward Entry, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.forward)
	if n == 0 {
		return Entry{}, Entry{}, types.ErrHistoryUnderflow
	}
	forward = l.forward[n-1]
	backward = l.backward[n-1]
	l.forward = l.forward[:n-1]
	l.backward = l.backward[:n-1]
	return backward, forward, nil
}

// Clean empties both sequences. Participant.retry calls it during a full
// resync, once the local history no longer describes the resynced text.
func (l *Line) Clean() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forward = nil
	l.backward = nil
}

// EntriesSince returns forward entries with Timestamp > ts, oldest first.
// Used by future catch-up; the transport does not yet wire a handler for
// it (see SPEC_FULL.md §5), but the operation itself is fully implemented.
func (l *Line) EntriesSince(ts float64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.forward {
		if e.Timestamp > ts {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of committed entries.
func (l *Line) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.forward)
}
