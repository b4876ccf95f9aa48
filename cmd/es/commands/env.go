package commands

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/easyshare/easyshare/internal/cli/prompt"
	"github.com/easyshare/easyshare/internal/proto"
	"github.com/easyshare/easyshare/pkg/client"
	"github.com/easyshare/easyshare/pkg/config"
)

// env is the client session context every command operates on: the current
// connection, the open sharing and the discovery settings.
type env struct {
	client       *client.Client
	serverName   string
	discoverPort int
	discoverWait time.Duration
}

func newEnv(discoverPort int, discoverWait time.Duration) *env {
	return &env{
		discoverPort: discoverPort,
		discoverWait: discoverWait,
	}
}

// connected reports whether a control channel is up.
func (e *env) connected() bool {
	return e.client != nil
}

// requireConnection fails commands that need a server.
func (e *env) requireConnection() error {
	if !e.connected() {
		return fmt.Errorf("not connected; use 'connect' or 'open'")
	}
	return nil
}

// requireSharing fails commands that need an open sharing.
func (e *env) requireSharing() error {
	if err := e.requireConnection(); err != nil {
		return err
	}
	if !e.client.Bound() {
		return fmt.Errorf("no sharing open; use 'open'")
	}
	return nil
}

// connectTo opens a control channel and authenticates if the server
// requires it.
func (e *env) connectTo(address string, port int, ssl bool) error {
	e.disconnect()

	c, err := client.Connect(address, port, ssl)
	if err != nil {
		return describeError(err)
	}

	info, err := c.Info()
	if err != nil {
		_ = c.Close()
		return describeError(err)
	}
	if info.Auth {
		password, perr := prompt.Password(fmt.Sprintf("Password for %s", info.Name))
		if perr != nil {
			_ = c.Close()
			return perr
		}
		if err := c.Auth(password); err != nil {
			_ = c.Close()
			return describeError(err)
		}
	}

	e.client = c
	e.serverName = info.Name
	fmt.Printf("connected to %s (%s:%d)\n", info.Name, address, port)
	return nil
}

// connectAddr parses HOST[:PORT] and connects.
func (e *env) connectAddr(addr string, ssl bool) error {
	host := addr
	port := config.DefaultPort
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port %q", p)
		}
		port = n
	}
	return e.connectTo(host, port, ssl)
}

// openSharing binds a sharing, discovering a server that carries it when
// no connection exists yet.
func (e *env) openSharing(name string) error {
	if !e.connected() {
		desc, err := e.discoverSharing(name)
		if err != nil {
			return err
		}
		if desc == nil {
			return fmt.Errorf("no server on the network shares %q", name)
		}
		if err := e.connectTo(desc.Address, desc.Port, desc.SSL); err != nil {
			return err
		}
	}
	if e.client.Bound() {
		if err := e.client.CloseSharing(); err != nil {
			return describeError(err)
		}
	}
	desc, err := e.client.Open(name)
	if err != nil {
		return describeError(err)
	}
	fmt.Printf("opened sharing %s\n", desc.Name)
	return nil
}

// discoverSharing scans for a server exposing the named sharing.
func (e *env) discoverSharing(name string) (*proto.ServerDescriptor, error) {
	results, err := client.Scan(e.discoverPort, e.discoverWait)
	if err != nil {
		return nil, err
	}
	for desc := range results {
		for _, s := range desc.Sharings {
			if s.Name == name {
				d := desc
				return &d, nil
			}
		}
	}
	return nil, nil
}

// disconnect closes the control channel if any.
func (e *env) disconnect() {
	if e.client != nil {
		_ = e.client.Close()
		e.client = nil
		e.serverName = ""
	}
}

// describeError maps a wire error code to a one-line diagnostic.
func describeError(err error) error {
	switch proto.CodeOf(err) {
	case proto.ErrAuthRequired:
		return fmt.Errorf("authentication required")
	case proto.ErrAuthFailed:
		return fmt.Errorf("authentication failed")
	case proto.ErrNotBound:
		return fmt.Errorf("no sharing open")
	case proto.ErrAlreadyBound:
		return fmt.Errorf("a sharing is already open; close it first")
	case proto.ErrNoSuchSharing:
		return fmt.Errorf("no such sharing")
	case proto.ErrReadOnly:
		return fmt.Errorf("sharing is read-only")
	case proto.ErrPathEscapesSharing:
		return fmt.Errorf("path is outside the sharing")
	case proto.ErrNotFound:
		return fmt.Errorf("no such file or directory")
	case proto.ErrNotADirectory:
		return fmt.Errorf("not a directory")
	case proto.ErrIsADirectory:
		return fmt.Errorf("is a directory")
	case proto.ErrExists:
		return fmt.Errorf("already exists")
	case proto.ErrPermissionDenied:
		return fmt.Errorf("permission denied")
	case proto.ErrRexecDisabled:
		return fmt.Errorf("remote execution is disabled on the server")
	case proto.ErrTruncated:
		return fmt.Errorf("transfer truncated")
	case proto.ErrAborted:
		return fmt.Errorf("transfer aborted")
	case proto.ErrTransport:
		return fmt.Errorf("connection lost: %v", err)
	default:
		return err
	}
}

// prompt string for the interactive loop.
func (e *env) promptString() string {
	if !e.connected() {
		return "es> "
	}
	if !e.client.Bound() {
		return fmt.Sprintf("%s> ", e.serverName)
	}
	cwd := e.client.Cwd
	if cwd == "" {
		cwd = "/"
	}
	return fmt.Sprintf("%s:%s%s> ", e.serverName, e.client.SharingName, strings.TrimSuffix(cwd, "/"))
}
