package timemachine

import (
	"testing"

	"github.com/musius/collaboration/pkg/docsync/diffengine"
	"github.com/musius/collaboration/pkg/docsync/history"
	"github.com/musius/collaboration/pkg/docsync/types"
)

type silentLogger struct{}

func (silentLogger) Info(...interface{})           {}
func (silentLogger) Infof(string, ...interface{})  {}
func (silentLogger) Warn(...interface{})           {}
func (silentLogger) Warnf(string, ...interface{})  {}
func (silentLogger) Error(...interface{})          {}
func (silentLogger) Errorf(string, ...interface{}) {}
func (silentLogger) Debug(...interface{})          {}
func (silentLogger) Debugf(string, ...interface{}) {}
func (silentLogger) Fatal(...interface{})          {}
func (silentLogger) Fatalf(string, ...interface{}) {}

var _ types.Logger = silentLogger{}

func commit(t *testing.T, h *history.Line, e *diffengine.Engine, before, after string, ts float64) {
	t.Helper()
	forward := e.MakePatch(before, after)
	backward := e.MakePatch(after, before)
	h.Commit(history.Entry{Patch: forward, Timestamp: ts}, history.Entry{Patch: backward, Timestamp: ts})
}

// TestMachine_RecoverRewindsPastLocalEdit reproduces spec.md §4.5's core
// scenario: a local edit has been applied on top of "base", then a remote
// patch arrives whose context is only valid against "base". Recovery must
// rewind the local edit, insert the remote patch, then replay the local
// edit back on top.
func TestMachine_RecoverRewindsPastLocalEdit(t *testing.T) {
	strict := diffengine.New(diffengine.Strict)
	loose := diffengine.New(diffengine.Loose)
	m := New(strict, loose, silentLogger{})

	base := "the quick fox"
	localEdited := "the quick brown fox"

	h := history.New()
	commit(t, h, strict, base, localEdited, 1)

	remote := strict.MakePatch(base, "the slow fox")

	result, err := m.Recover(h, localEdited, remote, 2)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}

	const want = "the slow brown fox"
	if result.ModelText != want {
		t.Fatalf("ModelText = %q, want %q", result.ModelText, want)
	}
	if h.Len() != 0 {
		t.Fatalf("expected history to be drained of the rewound entry, Len() = %d", h.Len())
	}
}

func TestMachine_RecoverFailsOnExhaustedHistory(t *testing.T) {
	strict := diffengine.New(diffengine.Strict)
	loose := diffengine.New(diffengine.Loose)
	m := New(strict, loose, silentLogger{})

	h := history.New()
	remote := strict.MakePatch("never seen", "never seen changed")

	_, err := m.Recover(h, "current", remote, 1)
	if err == nil {
		t.Fatalf("expected an error when history is exhausted without the patch applying")
	}
}
