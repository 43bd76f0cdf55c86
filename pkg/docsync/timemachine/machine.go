// Package timemachine implements the recovery algorithm: rewinding a
// peer's history until a remote force-patch applies cleanly, then replaying
// the rewound local edits on top with loose matching.
package timemachine

import (
	"fmt"

	"github.com/musius/collaboration/pkg/docsync/diffengine"
	"github.com/musius/collaboration/pkg/docsync/history"
	"github.com/musius/collaboration/pkg/docsync/types"
)

// Result carries everything a caller needs to both apply the recovered
// state locally and hand the editor integration a replayable command
// stream.
type Result struct {
	// ModelText is the document text after recovery completes: the remote
	// patch applied against a rewound state, with local edits replayed
	// back on top.
	ModelText string

	// RollbackCommands are the editor commands performed while rewinding,
	// in the order they were applied (oldest rollback first).
	RollbackCommands []diffengine.EditorCommand

	// RollforwardCommands are the editor commands that take the
	// just-inserted remote patch's result (d1+d3) to ModelText in one
	// composite step.
	RollforwardCommands []diffengine.EditorCommand
}

// popped remembers one popped (backward, forward) pair for the rollforward
// phase, which walks them in reverse.
type popped struct {
	backward history.Entry
	forward  history.Entry
}

// Machine runs Recover using a strict engine for rollback/insertion and a
// loose engine for rollforward, matching spec.md §4.5's rationale: inverse
// patches were recorded with full context so rollback must be exact, while
// local patches' contexts shift once a concurrent remote edit lands, so
// rollforward must tolerate drift.
type Machine struct {
	strict *diffengine.Engine
	loose  *diffengine.Engine
	log    types.Logger
}

// New builds a Machine from the two policy-configured engines a peer
// already holds.
func New(strict, loose *diffengine.Engine, log types.Logger) *Machine {
	return &Machine{strict: strict, loose: loose, log: log}
}

// Recover runs the rollback/rollforward procedure against h, starting from
// currentText, trying to insert remote at each rewound point in history.
func (m *Machine) Recover(h *history.Line, currentText string, remote diffengine.Patch, ts float64) (Result, error) {
	modelText := currentText
	var popStack []popped
	var rollbackCommands []diffengine.EditorCommand

	var d1d3 string
	for {
		backward, forward, err := h.PopLatest()
		if err != nil {
			return Result{}, fmt.Errorf("%w: history exhausted while recovering patch at ts=%v", types.ErrHistoryInconsistent, ts)
		}

		rolledBack, okPerHunk, commands := m.strict.Apply(backward.Patch, modelText)
		if hasFalse(okPerHunk) {
			return Result{}, fmt.Errorf("%w: %v", types.ErrRollbackFailed, m.strict.ToText(backward.Patch))
		}
		modelText = rolledBack
		rollbackCommands = append(rollbackCommands, commands...)
		popStack = append(popStack, popped{backward: backward, forward: forward})

		m.log.Debugf("rolled back: %s", m.strict.ToText(backward.Patch))

		candidate, okPerHunk, _ := m.strict.Apply(remote, modelText)
		if !hasFalse(okPerHunk) {
			modelText = candidate
			d1d3 = modelText
			break
		}
	}

	for i := len(popStack) - 1; i >= 0; i-- {
		fwd := popStack[i].forward
		rolled, okPerHunk, _ := m.loose.Apply(fwd.Patch, modelText)
		if hasFalse(okPerHunk) {
			m.log.Warnf("could not roll forward even with loose matching: %s", m.loose.ToText(fwd.Patch))
		}
		modelText = rolled
		m.log.Debugf("rolled forward: %s", m.loose.ToText(fwd.Patch))
	}

	patches := m.strict.MakePatch(d1d3, modelText)
	_, _, rollforwardCommands := m.strict.Apply(patches, d1d3)

	return Result{
		ModelText:           modelText,
		RollbackCommands:    rollbackCommands,
		RollforwardCommands: rollforwardCommands,
	}, nil
}

func hasFalse(okPerHunk []bool) bool {
	for _, ok := range okPerHunk {
		if !ok {
			return true
		}
	}
	return false
}
