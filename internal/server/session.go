package server

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
	"github.com/easyshare/easyshare/internal/rexec"
	"github.com/easyshare/easyshare/internal/server/sharingsvc"
	"github.com/easyshare/easyshare/pkg/metrics"
	"github.com/easyshare/easyshare/pkg/transfer"
)

// Session is the per-connection authenticated context: login state, the
// bound sharing with its working directory, and the session's live
// transfer and rexec endpoints.
//
// Session state is mutated only by the session's own worker; other
// goroutines reach it solely through the control channel's RPC dispatch.
type Session struct {
	id         string
	server     *Server
	conn       net.Conn
	remoteHost string

	authenticated bool
	svc           *sharingsvc.Service // nil when no sharing is bound
	cwd           string

	mu        sync.Mutex
	transfers map[string]*transfer.Transfer
	rexecs    []*rexec.Endpoint
	closed    bool
}

func newSession(s *Server, conn net.Conn) *Session {
	return &Session{
		id:         uuid.NewString(),
		server:     s,
		conn:       conn,
		remoteHost: peerHost(conn.RemoteAddr()),
		transfers:  make(map[string]*transfer.Transfer),
	}
}

// serve runs the strict request/response loop until disconnect, idle
// timeout or a protocol violation.
func (sess *Session) serve() {
	defer sess.close()

	for {
		if idle := sess.server.idleTimeout(); idle > 0 {
			_ = sess.conn.SetReadDeadline(time.Now().Add(idle))
		}

		payload, err := proto.ReadFrame(sess.conn)
		if err != nil {
			switch {
			case err == io.EOF:
				logger.Debug("Session disconnected", "session_id", sess.id)
			case errors.Is(err, os.ErrDeadlineExceeded):
				logger.Info("Session idle timeout", "session_id", sess.id)
			default:
				logger.Debug("Session read failed", "session_id", sess.id, "error", err)
			}
			return
		}

		req, err := decodeRequest(payload)
		if err != nil {
			// Protocol errors drop the connection without a reply.
			logger.Warn("Malformed request, dropping connection",
				"session_id", sess.id, "error", err)
			return
		}

		resp := sess.dispatch(req)
		if err := proto.WriteMessage(sess.conn, resp); err != nil {
			logger.Debug("Session write failed", "session_id", sess.id, "error", err)
			return
		}
	}
}

// close tears the session down: the control connection, every live
// transfer and every rexec endpoint. Idempotent.
func (sess *Session) close() {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	transfers := make([]*transfer.Transfer, 0, len(sess.transfers))
	for _, t := range sess.transfers {
		transfers = append(transfers, t)
	}
	rexecs := sess.rexecs
	sess.mu.Unlock()

	_ = sess.conn.Close()
	for _, t := range transfers {
		t.Close()
	}
	for _, e := range rexecs {
		e.Close()
	}
}

// addTransfer registers a live transfer and arranges its bookkeeping once
// the worker finishes.
func (sess *Session) addTransfer(t *transfer.Transfer) {
	sess.mu.Lock()
	sess.transfers[t.ID] = t
	sess.mu.Unlock()

	go func() {
		<-t.Done()
		outcome := t.Outcome()
		direction := string(t.Direction)
		result := "ok"
		if t.State() != transfer.StateFinalised {
			result = "aborted"
		}
		metrics.RecordTransfer(direction, result)
		metrics.AddTransferBytes(direction, outcome.BytesOK)

		sess.mu.Lock()
		delete(sess.transfers, t.ID)
		sess.mu.Unlock()
	}()
}

// findTransfer looks a live transfer up by id.
func (sess *Session) findTransfer(id string) (*transfer.Transfer, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	t, ok := sess.transfers[id]
	if !ok {
		return nil, proto.Errorf(proto.ErrInvalidArgument, "no transfer %q", id)
	}
	return t, nil
}

// addRexec registers a live rexec endpoint.
func (sess *Session) addRexec(e *rexec.Endpoint) {
	sess.mu.Lock()
	sess.rexecs = append(sess.rexecs, e)
	sess.mu.Unlock()
}
