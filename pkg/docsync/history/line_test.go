package history

import (
	"errors"
	"testing"

	"github.com/musius/collaboration/pkg/docsync/diffengine"
	"github.com/musius/collaboration/pkg/docsync/types"
)

func TestLine_CommitAndPopLatest(t *testing.T) {
	l := New()
	e := diffengine.New(diffengine.Strict)
	forward := e.MakePatch("a", "ab")
	backward := e.MakePatch("ab", "a")

	l.Commit(Entry{Patch: forward, Timestamp: 1}, Entry{Patch: backward, Timestamp: 1})
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}

	gotBackward, gotForward, err := l.PopLatest()
	if err != nil {
		t.Fatalf("PopLatest: %v", err)
	}
	if gotForward.Timestamp != 1 || gotBackward.Timestamp != 1 {
		t.Fatalf("unexpected popped entries: %+v %+v", gotForward, gotBackward)
	}
	if l.Len() != 0 {
		t.Fatalf("Len() after pop = %d, want 0", l.Len())
	}
}

func TestLine_PopLatestUnderflow(t *testing.T) {
	l := New()
	_, _, err := l.PopLatest()
	if !errors.Is(err, types.ErrHistoryUnderflow) {
		t.Fatalf("err = %v, want ErrHistoryUnderflow", err)
	}
}

func TestLine_ForwardBackwardLengthInvariant(t *testing.T) {
	l := New()
	e := diffengine.New(diffengine.Strict)
	for i := 0; i < 5; i++ {
		p := e.MakePatch("x", "y")
		l.Commit(Entry{Patch: p}, Entry{Patch: p})
	}
	if l.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", l.Len())
	}
	for i := 0; i < 3; i++ {
		if _, _, err := l.PopLatest(); err != nil {
			t.Fatalf("PopLatest: %v", err)
		}
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after popping 3 of 5", l.Len())
	}
}

func TestLine_EntriesSince(t *testing.T) {
	l := New()
	e := diffengine.New(diffengine.Strict)
	p := e.MakePatch("x", "y")
	l.Commit(Entry{Patch: p, Timestamp: 1}, Entry{Patch: p, Timestamp: 1})
	l.Commit(Entry{Patch: p, Timestamp: 2}, Entry{Patch: p, Timestamp: 2})
	l.Commit(Entry{Patch: p, Timestamp: 3}, Entry{Patch: p, Timestamp: 3})

	entries := l.EntriesSince(1)
	if len(entries) != 2 {
		t.Fatalf("EntriesSince(1) returned %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Timestamp <= 1 {
			t.Fatalf("EntriesSince(1) returned entry with Timestamp %v", e.Timestamp)
		}
	}
}

func TestLine_Clean(t *testing.T) {
	l := New()
	e := diffengine.New(diffengine.Strict)
	p := e.MakePatch("x", "y")
	l.Commit(Entry{Patch: p}, Entry{Patch: p})
	l.Clean()
	if l.Len() != 0 {
		t.Fatalf("Len() after Clean = %d, want 0", l.Len())
	}
}
