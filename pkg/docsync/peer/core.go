// Package peer implements PeerAlgorithm and CoordinatorAlgorithm: the
// per-peer convergence state machine that reacts to local edits and remote
// force-patches, owning a HistoryLine and (for Participants) a TimeMachine.
//
// Coordinator and Participant are modeled as two named types embedding a
// shared Core, rather than a class hierarchy — spec.md §9 asks for the
// Coordinator/Participant split to be a tagged union of shared operations,
// and Go's embedding plus method shadowing is the idiomatic way to get
// that: Coordinator simply never gets an OnForcePatch method, instead of
// inheriting and overriding one to panic.
package peer

import (
	"sync"

	"github.com/musius/collaboration/pkg/docsync/clock"
	"github.com/musius/collaboration/pkg/docsync/diffengine"
	"github.com/musius/collaboration/pkg/docsync/history"
	"github.com/musius/collaboration/pkg/docsync/timemachine"
	"github.com/musius/collaboration/pkg/docsync/types"
)

// EditorSink is the recovery-protocol-glue interface the external editor
// integration implements: replaying the concrete insert/delete commands a
// patch application or recovery produced, without re-diffing. It is the
// one interface this module calls into rather than implements — the editor
// integration itself is out of scope per spec.md §1.
type EditorSink interface {
	Apply(commands []diffengine.EditorCommand)
}

// ApplyResult reports the outcome of a local edit being processed.
type ApplyResult struct {
	// NoWork is true when the edit produced an empty diff (S1 in
	// spec.md §8) — nothing was committed or sent.
	NoWork bool
	// Succeed reflects the Coordinator's {succeed} response when a patch
	// was actually submitted; meaningless when NoWork is true.
	Succeed bool
}

// Core holds the state shared by a Coordinator and a Participant: the
// current text, its bidirectional history, the two diff engines, a clock,
// and a logger. It has no notion of role.
type Core struct {
	mu sync.Mutex

	name        string
	currentText string
	haveText    bool
	lastEditAt  float64

	history *history.Line
	strict  *diffengine.Engine
	loose   *diffengine.Engine
	clock   clock.Source
	log     types.Logger
}

func newCore(name string, clk clock.Source, log types.Logger) *Core {
	return &Core{
		name:    name,
		history: history.New(),
		strict:  diffengine.New(diffengine.Strict),
		loose:   diffengine.New(diffengine.Loose),
		clock:   clk,
		log:     log,
	}
}

// LocalText returns the current committed text.
func (c *Core) LocalText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentText
}

// SetLocalText replaces currentText with no side effects — used to seed a
// Participant's text from GetText, or a Coordinator's from configuration.
func (c *Core) SetLocalText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentText = text
	c.haveText = true
}

// LastEditAt returns the clock reading of the most recent successful local
// or remote apply. Exposed for a future idle-GC policy; nothing in this
// module acts on it yet (see SPEC_FULL.md §5).
func (c *Core) LastEditAt() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEditAt
}

// RemoteGetText returns the current text, or ErrNoTextAvailable if none has
// ever been set.
func (c *Core) RemoteGetText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveText {
		return "", types.ErrNoTextAvailable
	}
	return c.currentText, nil
}

// History exposes the underlying HistoryLine for diagnostics and tests.
func (c *Core) History() *history.Line {
	return c.history
}

// applyForceLocked strict-applies patch against currentText, updating
// state and history on success. Caller must hold c.mu... except it
// doesn't: history, haveText and lastEditAt are the only shared mutable
// pieces besides currentText, and all of them are touched together here, so this method
// takes the lock itself; it must not be called while already holding it.
func (c *Core) applyForceLocked(patch diffengine.Patch, ts float64, isOwnerLocal bool) (patchedText string, commands []diffengine.EditorCommand, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	patchedText, okPerHunk, commands := c.strict.Apply(patch, c.currentText)
	if hasFalse(okPerHunk) {
		return "", nil, false
	}

	backward := c.strict.MakePatch(patchedText, c.currentText)
	c.history.Commit(
		history.Entry{Patch: patch, Timestamp: ts, IsOwnerLocal: isOwnerLocal},
		history.Entry{Patch: backward, Timestamp: ts, IsOwnerLocal: isOwnerLocal},
	)
	c.currentText = patchedText
	c.haveText = true
	c.lastEditAt = ts
	return patchedText, commands, true
}

// commitLocal records a local edit's forward/backward patch pair and
// advances currentText to next immediately, before the edit has even been
// acknowledged by the Coordinator — spec.md §4.3 steps 4-5's order. This
// matters for recovery: a force-patch that lands while this edit is still
// in flight must see it already in history so TimeMachine can roll it back
// and replay it (scenario S4). If the Coordinator later rejects the patch,
// the caller must undo this via rollbackLastLocal (scenario S5).
func (c *Core) commitLocal(forward diffengine.Patch, next string, ts float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	backward := c.strict.MakePatch(next, c.currentText)
	c.history.Commit(
		history.Entry{Patch: forward, Timestamp: ts, IsOwnerLocal: true},
		history.Entry{Patch: backward, Timestamp: ts, IsOwnerLocal: true},
	)
	c.currentText = next
	c.haveText = true
	c.lastEditAt = ts
}

// rollbackLastLocal undoes the most recent commitLocal call by popping it
// back off history and strict-applying its inverse. Used when the
// Coordinator rejects a patch commitLocal already applied optimistically,
// so the participant's end state still matches invariant 5: unchanged on
// reject.
func (c *Core) rollbackLastLocal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	backward, _, err := c.history.PopLatest()
	if err != nil {
		return err
	}
	restored, okPerHunk, _ := c.strict.Apply(backward.Patch, c.currentText)
	if hasFalse(okPerHunk) {
		return types.ErrRollbackFailed
	}
	c.currentText = restored
	return nil
}

// recoverLocked hands off to TimeMachine and, on success, commits one
// composite history entry representing the net change — spec.md §4.5's
// "post-recovery commit", the recovered state becomes the new ground
// truth rather than many small entries.
func (c *Core) recoverLocked(tm *timemachine.Machine, patch diffengine.Patch, ts float64) (timemachine.Result, error) {
	c.mu.Lock()
	before := c.currentText
	c.mu.Unlock()

	result, err := tm.Recover(c.history, before, patch, ts)
	if err != nil {
		return timemachine.Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	composite := c.strict.MakePatch(before, result.ModelText)
	compositeBackward := c.strict.MakePatch(result.ModelText, before)
	c.history.Commit(
		history.Entry{Patch: composite, Timestamp: ts, IsOwnerLocal: false},
		history.Entry{Patch: compositeBackward, Timestamp: ts, IsOwnerLocal: false},
	)
	c.currentText = result.ModelText
	c.haveText = true
	c.lastEditAt = ts
	return result, nil
}

func hasFalse(okPerHunk []bool) bool {
	for _, ok := range okPerHunk {
		if !ok {
			return true
		}
	}
	return false
}
