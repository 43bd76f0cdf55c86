package peer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/musius/collaboration/pkg/docsync/clock"
	"github.com/musius/collaboration/pkg/docsync/diffengine"
	"github.com/musius/collaboration/pkg/docsync/transport"
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

type recordingEditor struct {
	applied [][]diffengine.EditorCommand
}

func (r *recordingEditor) Apply(commands []diffengine.EditorCommand) {
	r.applied = append(r.applied, commands)
}

// harness wires one Coordinator and one Participant over a real loopback
// TCP connection, each driven by its own Session event loop — this
// exercises the full wire protocol rather than calling algorithm methods
// directly in-process.
type harness struct {
	t           *testing.T
	ctx         context.Context
	cancel      context.CancelFunc
	addr        string
	coordSess   *transport.Session
	partSess    *transport.Session
	coordinator *Coordinator
	participant *Participant
	editor      *recordingEditor
}

func newHarness(t *testing.T, initialText string) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	coordSess := transport.NewSession(silentLogger{})
	coordinator := NewCoordinator(initialText, clock.Local{}, silentLogger{})
	coordinator.Attach(coordSess)
	coordSess.OnPeerConnected = func(h transport.PeerHandle) { coordinator.AddPeer(h.ID(), h) }
	coordSess.OnPeerDisconnected = coordinator.RemovePeer
	go coordSess.Run(ctx)

	port, err := coordSess.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	partSess := transport.NewSession(silentLogger{})
	go partSess.Run(ctx)

	editor := &recordingEditor{}
	participant := NewParticipant("p1", clock.Local{}, silentLogger{}, editor)

	conn, err := partSess.Connect(ctx, port.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	participant.Connect(partSess, conn, port.Addr().String())

	if _, err := participant.FetchText(ctx); err != nil {
		t.Fatalf("FetchText: %v", err)
	}

	return &harness{
		t: t, ctx: ctx, cancel: cancel,
		addr:      port.Addr().String(),
		coordSess: coordSess, partSess: partSess,
		coordinator: coordinator, participant: participant,
		editor: editor,
	}
}

func (h *harness) close() {
	h.cancel()
	_ = h.partSess.Close()
	_ = h.coordSess.Close()
}

func TestIntegration_NoOpEditCommitsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, "hello world")
	defer h.close()

	result, err := h.participant.OnLocalTextChanged(h.ctx, "hello world")
	if err != nil {
		t.Fatalf("OnLocalTextChanged: %v", err)
	}
	if !result.NoWork {
		t.Fatalf("expected NoWork for an identical resubmission")
	}
	if h.participant.History().Len() != 0 {
		t.Fatalf("no-op edit must not be committed to history")
	}
}

func TestIntegration_LocalEditPropagatesAndCommits(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, "hello world")
	defer h.close()

	result, err := h.participant.OnLocalTextChanged(h.ctx, "hello brave world")
	if err != nil {
		t.Fatalf("OnLocalTextChanged: %v", err)
	}
	if !result.Succeed {
		t.Fatalf("expected the Coordinator to accept the patch")
	}
	if got := h.participant.LocalText(); got != "hello brave world" {
		t.Fatalf("participant text = %q, want %q", got, "hello brave world")
	}
	if got := h.coordinator.LocalText(); got != "hello brave world" {
		t.Fatalf("coordinator text = %q, want %q", got, "hello brave world")
	}
	if h.participant.History().Len() != 1 {
		t.Fatalf("expected exactly one committed history entry")
	}
}

// TestIntegration_ForcePatchAppliesOnParticipant drives an edit from a
// second Participant and checks that the first Participant under test
// receives it as an ApplyPatch force-command and converges to the same
// text, replaying the derived commands through its EditorSink.
func TestIntegration_ForcePatchAppliesOnParticipant(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, "hello world")
	defer h.close()

	secondSess := transport.NewSession(silentLogger{})
	go secondSess.Run(h.ctx)
	second := NewParticipant("p2", clock.Local{}, silentLogger{}, nil)
	conn, err := secondSess.Connect(h.ctx, h.addr)
	if err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	second.Connect(secondSess, conn, h.addr)
	if _, err := second.FetchText(h.ctx); err != nil {
		t.Fatalf("second FetchText: %v", err)
	}

	result, err := second.OnLocalTextChanged(h.ctx, "hello cruel world")
	if err != nil {
		t.Fatalf("second OnLocalTextChanged: %v", err)
	}
	if !result.Succeed {
		t.Fatalf("expected second participant's edit to be accepted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.participant.LocalText() == "hello cruel world" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.participant.LocalText(); got != "hello cruel world" {
		t.Fatalf("participant text = %q after fanout, want %q", got, "hello cruel world")
	}
	if len(h.editor.applied) == 0 {
		t.Fatalf("expected the force-patch to be replayed through the EditorSink")
	}

	_ = secondSess.Close()
}
