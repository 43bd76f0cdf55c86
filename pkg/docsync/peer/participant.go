package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/musius/collaboration/pkg/docsync/clock"
	"github.com/musius/collaboration/pkg/docsync/diffengine"
	"github.com/musius/collaboration/pkg/docsync/timemachine"
	"github.com/musius/collaboration/pkg/docsync/transport"
	"github.com/musius/collaboration/pkg/docsync/types"
)

// Participant is PeerAlgorithm: a peer that edits locally, sends its
// patches to the Coordinator, and recovers via TimeMachine whenever a
// force-patch from the Coordinator does not apply cleanly against its own
// pending edits.
type Participant struct {
	*Core

	tm     *timemachine.Machine
	editor EditorSink

	connMu  sync.Mutex
	conn    transport.PeerHandle
	session *transport.Session
	addr    string
}

// NewParticipant builds a Participant with no upstream connection yet;
// call Connect before driving it.
func NewParticipant(name string, clk clock.Source, log types.Logger, editor EditorSink) *Participant {
	core := newCore(name, clk, log)
	return &Participant{
		Core:   core,
		tm:     timemachine.New(core.strict, core.loose, log),
		editor: editor,
	}
}

// Connect attaches the upstream Coordinator handle and registers this
// Participant's ApplyPatch handler on session so inbound force-patches are
// dispatched to OnForcePatch. addr is remembered so a later history-
// corruption resync or reconnect can re-dial without the caller having to
// hold onto it. Call once per handle; reconnects go through retry.
func (p *Participant) Connect(session *transport.Session, conn transport.PeerHandle, addr string) {
	p.connMu.Lock()
	p.conn = conn
	p.session = session
	p.addr = addr
	p.connMu.Unlock()

	session.RegisterHandler(transport.CommandApplyPatch, p.handleApplyPatch)
}

func (p *Participant) currentConn() (transport.PeerHandle, error) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn == nil {
		return nil, types.ErrNotConnected
	}
	return p.conn, nil
}

// FetchText pulls the Coordinator's current text over the wire and seeds
// Core with it — used once at startup before the local editor opens.
func (p *Participant) FetchText(ctx context.Context) (string, error) {
	conn, err := p.currentConn()
	if err != nil {
		return "", err
	}
	var resp transport.GetTextResponse
	if err := conn.Call(ctx, transport.CommandGetText, struct{}{}, &resp); err != nil {
		return "", err
	}
	p.SetLocalText(resp.Text)
	return resp.Text, nil
}

// OnLocalTextChanged is called whenever the local editor's buffer settles
// into a new state. It diffs against the last known text, and — if that
// diff is non-empty — submits it to the Coordinator as a TryApplyPatch.
// An empty diff is S1 from spec.md §8: nothing is committed or sent.
func (p *Participant) OnLocalTextChanged(ctx context.Context, next string) (ApplyResult, error) {
	before := p.LocalText()
	diff := p.strict.MakePatch(before, next)
	if diff.Empty() {
		return ApplyResult{NoWork: true}, nil
	}

	ts := p.clock.Now()
	conn, err := p.currentConn()
	if err != nil {
		return ApplyResult{}, err
	}

	// Commit and advance currentText before the round trip completes, not
	// after: see Core.commitLocal. Rolled back below on any rejection.
	p.commitLocal(diff, next, ts)

	req := transport.TryApplyPatchRequest{Patch: p.strict.ToText(diff), Timestamp: ts}
	var resp transport.SucceedResponse
	if err := conn.Call(ctx, transport.CommandTryApplyPatch, req, &resp); err != nil {
		if rbErr := p.rollbackLastLocal(); rbErr != nil {
			p.log.Warnf("rollback after failed TryApplyPatch call: %v", rbErr)
		}
		return ApplyResult{}, err
	}
	if !resp.Succeed {
		if rbErr := p.rollbackLastLocal(); rbErr != nil {
			p.log.Warnf("rollback after rejected patch: %v", rbErr)
		}
		return ApplyResult{Succeed: false}, nil
	}
	return ApplyResult{Succeed: true}, nil
}

// OnForcePatch is registered as the handler for inbound ApplyPatch
// commands: the Coordinator pushing an authoritative patch (its own, or
// another Participant's, relayed). It first tries a plain strict apply;
// only on failure — meaning local history has diverged from what the
// patch's context expects — does it fall back to full TimeMachine
// recovery, per spec.md §4.5.
func (p *Participant) OnForcePatch(ctx context.Context, patchText string, ts float64) ([]diffengine.EditorCommand, error) {
	patch, err := p.strict.FromText(patchText)
	if err != nil {
		return nil, err
	}

	if _, commands, ok := p.applyForceLocked(patch, ts, false); ok {
		p.replay(commands)
		return commands, nil
	}

	result, err := p.recoverLocked(p.tm, patch, ts)
	if err != nil {
		if errors.Is(err, types.ErrHistoryInconsistent) || errors.Is(err, types.ErrRollbackFailed) {
			// History has diverged beyond what rollback/rollforward can
			// repair. spec.md §7: history-corruption errors escalate to a
			// full resync rather than surfacing to the caller (scenario
			// S6) — re-fetch ground truth from the Coordinator instead of
			// leaving this peer stuck out of sync.
			p.log.Warnf("history inconsistent, resyncing: %v", err)
			if resyncErr := p.retry(ctx); resyncErr != nil {
				return nil, resyncErr
			}
			return nil, nil
		}
		return nil, err
	}
	commands := append(append([]diffengine.EditorCommand{}, result.RollbackCommands...), result.RollforwardCommands...)
	p.replay(commands)
	return commands, nil
}

func (p *Participant) replay(commands []diffengine.EditorCommand) {
	if p.editor == nil || len(commands) == 0 {
		return
	}
	p.editor.Apply(commands)
}

func (p *Participant) handleApplyPatch(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req transport.ApplyPatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if _, err := p.OnForcePatch(ctx, req.Patch, req.Timestamp); err != nil {
		return nil, err
	}
	return transport.SucceedResponse{Succeed: true}, nil
}

// retry re-dials the Coordinator with backoff, re-registers this
// Participant as the ApplyPatch target, clears local history (it no longer
// describes any lineage the resynced text actually went through), and
// re-fetches ground truth via GetText. It is the full-resync path
// OnForcePatch takes when recovery gives up with a history-corruption
// error: stop trusting local state and start over from what the
// Coordinator has. A dropped upstream connection does not trigger it;
// nothing in this package watches for that disconnect.
func (p *Participant) retry(ctx context.Context) error {
	if old, err := p.currentConn(); err == nil {
		_ = old.Close()
	}
	conn, err := p.session.DialWithRetry(ctx, p.addr)
	if err != nil {
		return err
	}
	p.Connect(p.session, conn, p.addr)
	p.History().Clean()
	_, err = p.FetchText(ctx)
	return err
}
