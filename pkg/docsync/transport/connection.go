package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/musius/collaboration/pkg/docsync/types"
)

// maxFrameBytes bounds a single envelope's wire size, guarding against a
// corrupt or malicious length prefix turning into an unbounded allocation.
const maxFrameBytes = 16 << 20 // 16 MiB

// HandlerFunc processes one inbound command and returns the value to
// marshal back as the response payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

type peerIDKey struct{}

// PeerIDFromContext returns the connection ID a dispatched request arrived
// on, letting a Coordinator handler exclude the sender from its fanout.
func PeerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(peerIDKey{}).(string)
	return id
}

// PeerHandle is what a peer algorithm actually needs from a connection: the
// ability to call a named command and get a typed reply back.
type PeerHandle interface {
	ID() string
	Call(ctx context.Context, command string, arg, reply interface{}) error
	Close() error
}

// Connection wraps one net.Conn, multiplexing outbound Call()s awaiting a
// response against inbound requests dispatched to the owning Session's
// handler table. Framing is a 4-byte big-endian length prefix followed by
// JSON, matching the teacher's core/transport.go json.Marshal idiom
// adapted from a pub/sub group transport to point-to-point duplex RPC.
type Connection struct {
	id      string
	conn    net.Conn
	session *Session

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Envelope
}

func newConnection(conn net.Conn, session *Session) *Connection {
	return &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		session: session,
		pending: make(map[string]chan Envelope),
	}
}

// ID returns the connection's unique, process-local identifier.
func (c *Connection) ID() string { return c.id }

// Close tears down the underlying connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Call sends command with arg marshaled as its payload and blocks for a
// matching response, unmarshaling it into reply (may be nil).
func (c *Connection) Call(ctx context.Context, command string, arg, reply interface{}) error {
	payload, err := json.Marshal(arg)
	if err != nil {
		return err
	}

	reqID := uuid.NewString()
	ch := make(chan Envelope, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	env := Envelope{
		ProtocolVersion: ProtocolVersion,
		RequestID:       reqID,
		Command:         command,
		Payload:         payload,
	}
	if err := c.writeEnvelope(env); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != "" {
			return mapNamedError(resp.Error)
		}
		if reply != nil && len(resp.Payload) > 0 {
			return json.Unmarshal(resp.Payload, reply)
		}
		return nil
	}
}

func (c *Connection) writeEnvelope(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if len(data) > maxFrameBytes {
		return fmt.Errorf("transport: outbound frame too large (%d bytes)", len(data))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = c.conn.Write(data)
	return err
}

func readEnvelope(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return Envelope{}, fmt.Errorf("transport: inbound frame too large (%d bytes)", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// readLoop is the per-connection goroutine that must block on network I/O;
// everything it reads is either delivered to a waiting Call() or handed to
// the Session's single-threaded job queue for dispatch, so inbound command
// handlers only ever run on that one goroutine (spec.md §5).
func (c *Connection) readLoop(ctx context.Context) {
	defer c.session.onDisconnect(c)
	for {
		env, err := readEnvelope(c.conn)
		if err != nil {
			return
		}

		if env.IsResponse {
			c.pendingMu.Lock()
			ch, ok := c.pending[env.RequestID]
			c.pendingMu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		envelope := env
		c.session.submit(func() {
			c.dispatch(ctx, envelope)
		})
	}
}

func (c *Connection) dispatch(ctx context.Context, env Envelope) {
	ctx = context.WithValue(ctx, peerIDKey{}, c.id)
	if env.ProtocolVersion != ProtocolVersion {
		c.respondError(env.RequestID, types.ErrEncodingUnsupported)
		return
	}

	handler, ok := c.session.handler(env.Command)
	if !ok {
		c.respondError(env.RequestID, types.ErrCommandUnknown)
		return
	}

	result, err := handler(ctx, env.Payload)
	if err != nil {
		c.respondError(env.RequestID, err)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		c.respondError(env.RequestID, err)
		return
	}
	_ = c.writeEnvelope(Envelope{
		ProtocolVersion: ProtocolVersion,
		RequestID:       env.RequestID,
		IsResponse:      true,
		Payload:         payload,
	})
}

func (c *Connection) respondError(reqID string, err error) {
	_ = c.writeEnvelope(Envelope{
		ProtocolVersion: ProtocolVersion,
		RequestID:       reqID,
		IsResponse:      true,
		Error:           namedError(err),
	})
}
