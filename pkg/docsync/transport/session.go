package transport

import (
	"context"
	"net"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"

	"github.com/musius/collaboration/pkg/docsync/types"
)

// BoundPort is a listening socket, released on Close. Modeled on the
// teacher's note (spec.md §9) that a scoped resource pattern for server
// ports needs an explicit, guaranteed-release handle.
type BoundPort interface {
	Addr() net.Addr
	Close() error
}

type boundPort struct {
	ln net.Listener
}

func (b *boundPort) Addr() net.Addr { return b.ln.Addr() }
func (b *boundPort) Close() error   { return b.ln.Close() }

// Session is the SessionManager: it listens for inbound peer connections,
// dials out to reach a Coordinator, tracks peer handles, and dispatches
// inbound command frames to registered handlers — all command handlers run
// on the single job-queue goroutine started by Run, matching the
// single-threaded cooperative event loop of spec.md §5. Responses to
// outbound Calls are handed to the waiting caller directly by each
// connection's reader goroutine, not through the job queue.
type Session struct {
	log types.Logger

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	mu       sync.Mutex
	listener net.Listener
	peers    map[string]*Connection

	jobs   chan func()
	closed chan struct{}
	once   sync.Once

	// OnPeerConnected and OnPeerDisconnected, when set, let a Coordinator
	// keep its own fanout target set in sync with the connections this
	// Session actually has open, without Session needing to know anything
	// about the peer algorithm.
	OnPeerConnected    func(PeerHandle)
	OnPeerDisconnected func(id string)
}

// NewSession builds a Session with no handlers and no peers.
func NewSession(log types.Logger) *Session {
	return &Session{
		log:      log,
		handlers: make(map[string]HandlerFunc),
		peers:    make(map[string]*Connection),
		jobs:     make(chan func(), 64),
		closed:   make(chan struct{}),
	}
}

// RegisterHandler binds command to fn. Dispatch for an unregistered command
// name returns ErrCommandUnknown to the caller.
func (s *Session) RegisterHandler(command string, fn HandlerFunc) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[command] = fn
}

func (s *Session) handler(command string) (HandlerFunc, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	fn, ok := s.handlers[command]
	return fn, ok
}

// Run drains the job queue until ctx is cancelled. It is the single
// goroutine from which every handler invocation happens.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.jobs:
			fn()
		}
	}
}

func (s *Session) submit(fn func()) {
	select {
	case s.jobs <- fn:
	case <-s.closed:
	}
}

// Listen opens a server endpoint at addr and accepts inbound connections
// until the returned BoundPort (or the Session) is closed; cancelling ctx
// alone does not stop a pending Accept, it only keeps the resulting
// Accept error from being logged. Each accepted connection is added to the
// peer set and polled by its own reader goroutine.
func (s *Session) Listen(ctx context.Context, addr string) (BoundPort, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ctx, ln)
	return &boundPort{ln: ln}, nil
}

func (s *Session) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warnf("accept failed: %v", err)
			return
		}
		c := newConnection(conn, s)
		s.addPeer(c)
		if s.OnPeerConnected != nil {
			s.OnPeerConnected(c)
		}
		go c.readLoop(ctx)
	}
}

// Connect dials addr once and registers the resulting connection as a peer.
func (s *Session) Connect(ctx context.Context, addr string) (*Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c := newConnection(conn, s)
	s.addPeer(c)
	go c.readLoop(ctx)
	return c, nil
}

// DialWithRetry dials addr with exponential backoff until it succeeds or ctx
// is cancelled — a Participant's reconnect-to-Coordinator loop.
func (s *Session) DialWithRetry(ctx context.Context, addr string) (*Connection, error) {
	var c *Connection
	operation := func() error {
		conn, err := s.Connect(ctx, addr)
		if err != nil {
			s.log.Warnf("dial %s failed, retrying: %v", addr, err)
			return err
		}
		c = conn
		return nil
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 0 // never give up on elapsed time; only ctx stops the loop
	policy := backoff.WithContext(expBackoff, ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Session) addPeer(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[c.ID()] = c
}

func (s *Session) onDisconnect(c *Connection) {
	s.mu.Lock()
	delete(s.peers, c.ID())
	s.mu.Unlock()
	s.log.Warnf("peer %s disconnected", c.ID())
	if s.OnPeerDisconnected != nil {
		s.OnPeerDisconnected(c.ID())
	}
}

// Peers returns a snapshot of the currently connected peer handles. The
// Coordinator does not fan out through it; it keeps its own fanout set,
// fed by OnPeerConnected/OnPeerDisconnected.
func (s *Session) Peers() []PeerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerHandle, 0, len(s.peers))
	for _, c := range s.peers {
		out = append(out, c)
	}
	return out
}

// RemovePeer forcibly drops and closes a peer connection, used when a
// Coordinator decides a participant should be evicted (e.g. the connection
// decorator no longer matches any open socket).
func (s *Session) RemovePeer(id string) {
	s.mu.Lock()
	c, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Close tears down the listener and every tracked peer connection,
// aggregating any failures instead of stopping at the first one.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.closed) })

	var result *multierror.Error

	s.mu.Lock()
	ln := s.listener
	peers := make([]*Connection, 0, len(s.peers))
	for _, c := range s.peers {
		peers = append(peers, c)
	}
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, c := range peers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
