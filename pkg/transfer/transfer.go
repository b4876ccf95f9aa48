// Package transfer implements the GET/PUT stream protocol: manifest frame,
// per-file chunk frames, overwrite arbitration and the trailing outcome
// frame.
//
// The server side of a transfer is a Transfer: a one-shot TCP listener on an
// ephemeral port, advertised through the get/put RPC response, accepting a
// single connection from the session's peer address. The client side is
// driven by Receive (GET) and Send (PUT).
package transfer

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/pathres"
	"github.com/easyshare/easyshare/internal/proto"
)

// Direction of a transfer, from the server's point of view.
type Direction string

const (
	DirectionGet Direction = "get" // server to client
	DirectionPut Direction = "put" // client to server
)

// State of a transfer endpoint.
type State int

const (
	StateCreated State = iota
	StateStreaming
	StateFinalised
	StateAborted
)

// AcceptTimeout is how long the endpoint waits for the client to connect.
const AcceptTimeout = 30 * time.Second

// Transfer is one server-side transfer endpoint.
type Transfer struct {
	ID        string
	Direction Direction

	resolver *pathres.Resolver
	cwd      string
	policy   proto.OverwritePolicy
	entries  []manifestEntry // GET only

	tcpListener *net.TCPListener
	listener    net.Listener
	peerHost    string

	mu        sync.Mutex
	state     State
	conn      net.Conn
	outcome   proto.TransferOutcome
	decisions map[int]chan bool
	closed    chan struct{}
	done      chan struct{}
}

// NewGet creates a GET endpoint. The requested paths are resolved and
// walked immediately, so path and existence errors surface in the RPC
// response rather than mid-stream.
func NewGet(resolver *pathres.Resolver, cwd string, paths []string, peerHost string, tlsConf *tls.Config) (*Transfer, error) {
	if len(paths) == 0 {
		paths = []string{""}
	}
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := resolver.Resolve(cwd, p)
		if err != nil {
			return nil, err
		}
		abs = append(abs, a)
	}
	entries, err := buildManifest(resolver.Root(), abs)
	if err != nil {
		return nil, err
	}

	t, err := newTransfer(DirectionGet, peerHost, tlsConf)
	if err != nil {
		return nil, err
	}
	t.resolver = resolver
	t.cwd = cwd
	t.entries = entries
	return t, nil
}

// NewPut creates a PUT endpoint rooted at the session's working directory.
func NewPut(resolver *pathres.Resolver, cwd string, policy proto.OverwritePolicy, peerHost string, tlsConf *tls.Config) (*Transfer, error) {
	t, err := newTransfer(DirectionPut, peerHost, tlsConf)
	if err != nil {
		return nil, err
	}
	t.resolver = resolver
	t.cwd = cwd
	t.policy = policy
	return t, nil
}

func newTransfer(dir Direction, peerHost string, tlsConf *tls.Config) (*Transfer, error) {
	tcpLn, err := net.ListenTCP("tcp", &net.TCPAddr{})
	if err != nil {
		return nil, proto.Errorf(proto.ErrTransport, "allocate transfer endpoint: %v", err)
	}
	var ln net.Listener = tcpLn
	if tlsConf != nil {
		ln = tls.NewListener(tcpLn, tlsConf)
	}
	return &Transfer{
		ID:          uuid.NewString(),
		Direction:   dir,
		tcpListener: tcpLn,
		listener:    ln,
		peerHost:    peerHost,
		decisions:   make(map[int]chan bool),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Port returns the endpoint's listening port.
func (t *Transfer) Port() int {
	return t.tcpListener.Addr().(*net.TCPAddr).Port
}

// State returns the current transfer state.
func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Outcome returns the recorded outcome. Meaningful once the transfer is
// finalised or aborted.
func (t *Transfer) Outcome() proto.TransferOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Done is closed when the transfer worker exits.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Start launches the transfer worker: accept one matching connection, run
// the stream protocol, record the outcome.
func (t *Transfer) Start() {
	go t.run()
}

func (t *Transfer) run() {
	defer close(t.done)
	defer t.listener.Close()

	conn, err := t.acceptPeer()
	if err != nil {
		t.abort(proto.TransferError{Error: proto.ErrTransport})
		return
	}
	defer conn.Close()

	t.mu.Lock()
	if t.state != StateCreated {
		t.mu.Unlock()
		return
	}
	t.conn = conn
	t.state = StateStreaming
	t.mu.Unlock()

	if t.Direction == DirectionGet {
		t.serveGet(conn)
	} else {
		t.servePut(conn)
	}
}

// acceptPeer accepts connections until one arrives from the session's peer
// address; connections from anyone else are dropped.
func (t *Transfer) acceptPeer() (net.Conn, error) {
	deadline := time.Now().Add(AcceptTimeout)
	for {
		_ = t.tcpListener.SetDeadline(deadline)
		conn, err := t.listener.Accept()
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil || host != t.peerHost {
			logger.Warn("Transfer connection from unexpected peer dropped",
				"transfer_id", t.ID, "peer", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}
		return conn, nil
	}
}

// Decide resolves a pending prompt arbitration for the given manifest index.
// It is called from the session's control-channel worker when a
// put_decision RPC arrives.
func (t *Transfer) Decide(fileID int, accept bool) error {
	t.mu.Lock()
	ch, ok := t.decisions[fileID]
	t.mu.Unlock()
	if !ok {
		return proto.Errorf(proto.ErrInvalidArgument, "no pending decision for file %d", fileID)
	}
	select {
	case ch <- accept:
		return nil
	case <-t.closed:
		return proto.NewError(proto.ErrAborted, "transfer closed")
	}
}

// registerDecision publishes a pending arbitration slot. It must happen
// before the undecided reply reaches the client, or a prompt put_decision
// could race the registration.
func (t *Transfer) registerDecision(fileID int) chan bool {
	ch := make(chan bool, 1)
	t.mu.Lock()
	t.decisions[fileID] = ch
	t.mu.Unlock()
	return ch
}

// awaitDecision parks the PUT worker until put_decision arrives or the
// transfer is torn down.
func (t *Transfer) awaitDecision(fileID int, ch chan bool) (bool, error) {
	defer func() {
		t.mu.Lock()
		delete(t.decisions, fileID)
		t.mu.Unlock()
	}()

	select {
	case accept := <-ch:
		return accept, nil
	case <-t.closed:
		return false, proto.NewError(proto.ErrAborted, "transfer closed")
	}
}

// Close aborts the transfer: the listener and any live connection are
// closed and pending decisions unblocked. Idempotent.
func (t *Transfer) Close() {
	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return
	default:
	}
	close(t.closed)
	if t.state == StateCreated || t.state == StateStreaming {
		t.state = StateAborted
	}
	conn := t.conn
	t.mu.Unlock()

	_ = t.listener.Close()
	if conn != nil {
		_ = conn.Close()
	}
}

// abort records a terminal failure.
func (t *Transfer) abort(errs ...proto.TransferError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateFinalised || t.state == StateAborted {
		return
	}
	t.state = StateAborted
	t.outcome.Outcome = "aborted"
	t.outcome.Errors = append(t.outcome.Errors, errs...)
}

// finalise records a clean completion.
func (t *Transfer) finalise(outcome proto.TransferOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateAborted {
		return
	}
	t.state = StateFinalised
	t.outcome = outcome
}
