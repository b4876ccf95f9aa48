// Package rexec exposes server-side command execution as a bidirectional
// byte stream. A dedicated listener accepts one connection from the
// session's peer; the requested command is spawned and its stdio is mapped
// onto the stream: stdout and stderr travel as tagged frames, inbound bytes
// become stdin, and a final exit frame closes the channel.
//
// The service is policy-gated: servers refuse rexec unless started with the
// rexec flag or config key.
package rexec

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
)

// AcceptTimeout is how long the endpoint waits for the client to connect.
const AcceptTimeout = 30 * time.Second

// DefaultShell is used by rshell when $SHELL is unset.
const DefaultShell = "/bin/sh"

// Endpoint is one pending rexec stream.
type Endpoint struct {
	cmdline  string
	shell    bool
	peerHost string

	tcpListener *net.TCPListener
	listener    net.Listener

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	done   chan struct{}
}

// New allocates a listener for a command execution.
func New(cmdline string, peerHost string, tlsConf *tls.Config) (*Endpoint, error) {
	return newEndpoint(cmdline, false, peerHost, tlsConf)
}

// NewShell allocates a listener for an interactive shell. The shell is
// $SHELL, falling back to /bin/sh.
func NewShell(peerHost string, tlsConf *tls.Config) (*Endpoint, error) {
	return newEndpoint("", true, peerHost, tlsConf)
}

func newEndpoint(cmdline string, shell bool, peerHost string, tlsConf *tls.Config) (*Endpoint, error) {
	tcpLn, err := net.ListenTCP("tcp", &net.TCPAddr{})
	if err != nil {
		return nil, proto.Errorf(proto.ErrTransport, "allocate rexec endpoint: %v", err)
	}
	var ln net.Listener = tcpLn
	if tlsConf != nil {
		ln = tls.NewListener(tcpLn, tlsConf)
	}
	return &Endpoint{
		cmdline:     cmdline,
		shell:       shell,
		peerHost:    peerHost,
		tcpListener: tcpLn,
		listener:    ln,
		done:        make(chan struct{}),
	}, nil
}

// Port returns the endpoint's listening port.
func (e *Endpoint) Port() int {
	return e.tcpListener.Addr().(*net.TCPAddr).Port
}

// Done is closed when the endpoint worker exits.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Start launches the endpoint worker.
func (e *Endpoint) Start() {
	go e.run()
}

// Close tears the endpoint down; a running subprocess is terminated through
// context cancellation when its stream closes.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	conn := e.conn
	e.mu.Unlock()

	_ = e.listener.Close()
	if conn != nil {
		_ = conn.Close()
	}
}

func (e *Endpoint) run() {
	defer close(e.done)
	defer e.listener.Close()

	conn, err := e.acceptPeer()
	if err != nil {
		return
	}
	defer conn.Close()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.conn = conn
	e.mu.Unlock()

	e.serve(conn)
}

func (e *Endpoint) acceptPeer() (net.Conn, error) {
	deadline := time.Now().Add(AcceptTimeout)
	for {
		_ = e.tcpListener.SetDeadline(deadline)
		conn, err := e.listener.Accept()
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil || host != e.peerHost {
			logger.Warn("Rexec connection from unexpected peer dropped",
				"peer", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}
		return conn, nil
	}
}

// command builds the subprocess. Commands run through the shell so the
// client can pass a full command line; rshell runs the bare shell.
func (e *Endpoint) command(ctx context.Context) *exec.Cmd {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = DefaultShell
	}
	if e.shell {
		return exec.CommandContext(ctx, shell)
	}
	return exec.CommandContext(ctx, shell, "-c", e.cmdline)
}

func (e *Endpoint) serve(conn net.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := e.command(ctx)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = proto.WriteRexecExit(conn, 127)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = proto.WriteRexecExit(conn, 127)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = proto.WriteRexecExit(conn, 127)
		return
	}

	if err := cmd.Start(); err != nil {
		logger.Warn("Rexec spawn failed", "cmd", e.cmdline, "error", err)
		_ = proto.WriteRexecExit(conn, 127)
		return
	}
	logger.Info("Rexec subprocess started", "cmd", e.cmdline, "pid", cmd.Process.Pid)

	// Outbound frames are serialized: stdout and stderr pumps share the
	// connection.
	var wmu sync.Mutex
	writeFrame := func(tag byte, payload []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		return proto.WriteRexecFrame(conn, tag, payload)
	}

	var pumps sync.WaitGroup
	pump := func(tag byte, r io.Reader) {
		defer pumps.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if werr := writeFrame(tag, buf[:n]); werr != nil {
					cancel()
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
	pumps.Add(2)
	go pump(proto.RexecTagStdout, stdout)
	go pump(proto.RexecTagStderr, stderr)

	// Stdin pump: inbound stream bytes feed the subprocess and inbound EOF
	// closes its stdin. A broken or closed stream cancels the context,
	// terminating the subprocess.
	go func() {
		_, err := io.Copy(stdin, conn)
		_ = stdin.Close()
		if err != nil {
			cancel()
		}
	}()

	// Pipes must be drained before Wait, which closes them.
	pumps.Wait()
	err = cmd.Wait()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 127
		}
	}
	wmu.Lock()
	_ = proto.WriteRexecExit(conn, code)
	wmu.Unlock()
	logger.Info("Rexec subprocess exited", "cmd", e.cmdline, "code", code)
}
