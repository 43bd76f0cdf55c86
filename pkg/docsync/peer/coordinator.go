package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/musius/collaboration/pkg/docsync/clock"
	"github.com/musius/collaboration/pkg/docsync/transport"
	"github.com/musius/collaboration/pkg/docsync/types"
)

// fanoutTarget serializes every ApplyPatch send bound for one connected
// peer on a single dedicated goroutine, so accepting two patches back to
// back fans them out to that peer in the same order they were committed —
// spec.md §5's FIFO-per-connection guarantee — while still letting sends to
// different peers run concurrently with each other.
type fanoutTarget struct {
	handle transport.PeerHandle
	jobs   chan func()
	done   chan struct{}
}

func newFanoutTarget(h transport.PeerHandle) *fanoutTarget {
	ft := &fanoutTarget{handle: h, jobs: make(chan func(), 256), done: make(chan struct{})}
	go ft.run()
	return ft
}

func (f *fanoutTarget) run() {
	for {
		select {
		case job := <-f.jobs:
			job()
		case <-f.done:
			return
		}
	}
}

// submit enqueues job to run on this target's goroutine, FIFO relative to
// every other job submitted for the same target.
func (f *fanoutTarget) submit(job func()) {
	select {
	case f.jobs <- job:
	case <-f.done:
	}
}

func (f *fanoutTarget) close() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	_ = f.handle.Close()
}

// Coordinator is CoordinatorAlgorithm: the single authoritative peer at the
// center of the star topology. It never recovers — a patch it cannot apply
// cleanly is simply rejected — and every accepted patch is serialized and
// fanned out to every other connected Participant as a force-patch, per
// spec.md §4.3/§4.4. Note what Coordinator does NOT have: an
// OnForcePatch/recovery method. That asymmetry is expressed by the type
// simply not exposing one, rather than by a base-class method it overrides
// to panic.
type Coordinator struct {
	*Core

	peersMu sync.Mutex
	peers   map[string]*fanoutTarget
}

// NewCoordinator builds a Coordinator seeded with initialText.
func NewCoordinator(initialText string, clk clock.Source, log types.Logger) *Coordinator {
	core := newCore("coordinator", clk, log)
	core.SetLocalText(initialText)
	return &Coordinator{
		Core:  core,
		peers: make(map[string]*fanoutTarget),
	}
}

// Attach registers this Coordinator's handlers on session: GetText and
// TryApplyPatch are answered synchronously; newly accepted connections are
// tracked as fanout targets via AddPeer, which the Session's accept loop
// does not know to call on its own, so callers must do so explicitly from
// their connection-accepted hook.
func (c *Coordinator) Attach(session *transport.Session) {
	session.RegisterHandler(transport.CommandGetText, c.handleGetText)
	session.RegisterHandler(transport.CommandTryApplyPatch, c.handleTryApplyPatch)
}

// AddPeer registers h as a fanout target for future accepted patches.
func (c *Coordinator) AddPeer(id string, h transport.PeerHandle) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	if old, ok := c.peers[id]; ok {
		old.close()
	}
	c.peers[id] = newFanoutTarget(h)
}

// RemovePeer drops id from the fanout set, e.g. once its connection closes.
func (c *Coordinator) RemovePeer(id string) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	if ft, ok := c.peers[id]; ok {
		ft.close()
		delete(c.peers, id)
	}
}

func (c *Coordinator) peerSnapshot(except string) []*fanoutTarget {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	out := make([]*fanoutTarget, 0, len(c.peers))
	for id, ft := range c.peers {
		if id == except {
			continue
		}
		out = append(out, ft)
	}
	return out
}

// TryApplyPatch is the Coordinator's half of PeerAlgorithm.OnLocalTextChanged:
// it strict-applies the incoming patch against its own text, and — on
// success — fans the same patch out to every other connected Participant as
// an ApplyPatch force-command. Fanout is fire-and-forget (spec.md §9's
// open-question decision, recorded in DESIGN.md): a slow or dead
// Participant does not block acceptance for the others, and is left to
// discover the gap itself via a future CatchUp request. What fanout is not
// is unordered: each target's send is enqueued here, on the Session's
// single job-queue goroutine, in the same order patches are committed, and
// fanoutTarget.submit hands it to that peer's own dedicated goroutine,
// which drains its queue FIFO — so two patches accepted back to back reach
// every participant in commit order even though different peers' sends
// still run concurrently with each other.
func (c *Coordinator) TryApplyPatch(ctx context.Context, sourcePeerID, patchText string, ts float64) (bool, error) {
	patch, err := c.strict.FromText(patchText)
	if err != nil {
		return false, err
	}

	if _, _, ok := c.applyForceLocked(patch, ts, false); !ok {
		return false, types.ErrPatchNotApplicable
	}

	for _, target := range c.peerSnapshot(sourcePeerID) {
		ft := target
		ft.submit(func() {
			req := transport.ApplyPatchRequest{Patch: patchText, Timestamp: ts}
			var resp transport.SucceedResponse
			if err := ft.handle.Call(ctx, transport.CommandApplyPatch, req, &resp); err != nil {
				c.log.Warnf("fanout to %s failed: %v", ft.handle.ID(), err)
			}
		})
	}
	return true, nil
}

// Shutdown closes every tracked peer handle. The underlying Session owns
// the listening socket and is closed separately by the caller.
func (c *Coordinator) Shutdown() error {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	for id, ft := range c.peers {
		ft.close()
		delete(c.peers, id)
	}
	return nil
}

func (c *Coordinator) handleGetText(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	text, err := c.RemoteGetText()
	if err != nil {
		return nil, err
	}
	return transport.GetTextResponse{Text: text}, nil
}

func (c *Coordinator) handleTryApplyPatch(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req transport.TryApplyPatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	succeed, err := c.TryApplyPatch(ctx, transport.PeerIDFromContext(ctx), req.Patch, req.Timestamp)
	if err != nil {
		// A clean rejection (invariant 3) is reported as {succeed:false} on
		// the wire, same as the original core.py applyRemotePatch — not as
		// a transport-level error, which is reserved for things the caller
		// cannot meaningfully react to by resubmitting.
		if errors.Is(err, types.ErrPatchNotApplicable) {
			return transport.SucceedResponse{Succeed: false}, nil
		}
		return nil, err
	}
	return transport.SucceedResponse{Succeed: succeed}, nil
}
