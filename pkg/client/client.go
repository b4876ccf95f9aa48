// Package client implements the easyshare client core: the control-channel
// connection with its typed RPC wrappers, the transfer drivers and the
// discovery scan.
//
// A Client is the explicit session context every command operates on: the
// connected server, the open sharing and the remote working directory.
package client

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
)

// DialTimeout bounds control and transfer channel dials.
const DialTimeout = 10 * time.Second

// Client is one control-channel connection to a server.
type Client struct {
	conn net.Conn
	host string

	// Fingerprint is the SHA-256 of the server certificate when TLS is
	// active, hex encoded.
	Fingerprint string

	// SSL reports whether the control channel is TLS-wrapped; transfer
	// and rexec channels inherit it.
	SSL bool

	// SharingName is the currently open sharing, empty when none.
	SharingName string

	// Cwd is the remote working directory in sharing-relative form.
	Cwd string
}

// Connect opens a control channel. With ssl set the stream is wrapped in
// TLS before the first frame; self-signed certificates are accepted and
// the presented certificate's fingerprint is recorded.
func Connect(address string, port int, ssl bool) (*Client, error) {
	addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, proto.Errorf(proto.ErrTransport, "connect %s: %v", addr, err)
	}

	c := &Client{conn: conn, host: address, SSL: ssl}
	if ssl {
		tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
		if err := tlsConn.Handshake(); err != nil {
			_ = conn.Close()
			return nil, proto.Errorf(proto.ErrTransport, "TLS handshake: %v", err)
		}
		if certs := tlsConn.ConnectionState().PeerCertificates; len(certs) > 0 {
			sum := sha256.Sum256(certs[0].Raw)
			c.Fingerprint = hex.EncodeToString(sum[:])
		}
		c.conn = tlsConn
	}

	logger.Debug("Control channel connected", "address", addr, "ssl", ssl)
	return c, nil
}

// Close shuts the control channel down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Bound reports whether a sharing is open.
func (c *Client) Bound() bool {
	return c.SharingName != ""
}

// call performs one strict request/response RPC round trip.
func (c *Client) call(method string, params any, out any) error {
	req := proto.Request{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return proto.NewError(proto.ErrInvalidArgument, err.Error())
		}
		if err := json.Unmarshal(raw, &req.Params); err != nil {
			return proto.NewError(proto.ErrInvalidArgument, err.Error())
		}
	}

	if err := proto.WriteMessage(c.conn, req); err != nil {
		return proto.NewError(proto.ErrTransport, err.Error())
	}
	var resp proto.Response
	if err := proto.ReadMessage(c.conn, &resp); err != nil {
		return proto.NewError(proto.ErrTransport, err.Error())
	}

	if resp.Error != "" {
		return proto.NewError(resp.Error, string(resp.Error))
	}
	if !resp.Success {
		return proto.NewError(proto.ErrProtocol, "response is neither success nor error")
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return proto.NewError(proto.ErrProtocol, err.Error())
		}
	}
	return nil
}

// Ping round-trips an echo token.
func (c *Client) Ping(echo string) (proto.PingData, error) {
	var data proto.PingData
	err := c.call(proto.MethodPing, map[string]any{"echo": echo}, &data)
	return data, err
}

// Info fetches the server descriptor. The fingerprint observed at the TLS
// handshake is attached so the operator can compare.
func (c *Client) Info() (proto.ServerDescriptor, error) {
	var desc proto.ServerDescriptor
	err := c.call(proto.MethodInfo, nil, &desc)
	if err == nil && c.Fingerprint != "" {
		desc.CertFingerprint = c.Fingerprint
	}
	return desc, err
}

// List fetches the sharings list.
func (c *Client) List() ([]proto.SharingDescriptor, error) {
	var sharings []proto.SharingDescriptor
	err := c.call(proto.MethodList, nil, &sharings)
	return sharings, err
}

// Auth authenticates the session.
func (c *Client) Auth(password string) error {
	return c.call(proto.MethodAuth, proto.AuthParams{Password: password}, nil)
}

// Open binds the session to a named sharing.
func (c *Client) Open(name string) (proto.SharingDescriptor, error) {
	var desc proto.SharingDescriptor
	if err := c.call(proto.MethodOpen, proto.OpenParams{Name: name}, &desc); err != nil {
		return desc, err
	}
	c.SharingName = desc.Name
	c.Cwd = "/"
	return desc, nil
}

// CloseSharing unbinds the current sharing.
func (c *Client) CloseSharing() error {
	if err := c.call(proto.MethodClose, nil, nil); err != nil {
		return err
	}
	c.SharingName = ""
	c.Cwd = ""
	return nil
}

// Rpwd returns the remote working directory.
func (c *Client) Rpwd() (string, error) {
	var data proto.PwdData
	if err := c.call(proto.MethodRpwd, nil, &data); err != nil {
		return "", err
	}
	c.Cwd = data.Path
	return data.Path, nil
}

// Rcd changes the remote working directory.
func (c *Client) Rcd(path string) (string, error) {
	var data proto.PwdData
	if err := c.call(proto.MethodRcd, proto.PathParams{Path: path}, &data); err != nil {
		return "", err
	}
	c.Cwd = data.Path
	return data.Path, nil
}

// Rls lists a remote directory.
func (c *Client) Rls(path string, flags proto.LsFlags) ([]proto.FileInfo, error) {
	var data proto.LsData
	err := c.call(proto.MethodRls, proto.LsParams{Path: path, Flags: flags}, &data)
	return data.Entries, err
}

// Rtree walks a remote directory tree.
func (c *Client) Rtree(path string, maxDepth int, flags proto.LsFlags) ([]proto.TreeEntry, error) {
	var data proto.TreeData
	err := c.call(proto.MethodRtree, proto.TreeParams{Path: path, MaxDepth: maxDepth, Flags: flags}, &data)
	return data.Entries, err
}

// Rmkdir creates a remote directory.
func (c *Client) Rmkdir(path string) error {
	return c.call(proto.MethodRmkdir, proto.PathParams{Path: path}, nil)
}

// Rmv moves remote entries.
func (c *Client) Rmv(sources []string, dest string) ([]proto.EntryOutcome, error) {
	var data proto.BatchData
	err := c.call(proto.MethodRmv, proto.MoveParams{Sources: sources, Dest: dest}, &data)
	return data.Outcomes, err
}

// Rcp copies remote entries.
func (c *Client) Rcp(sources []string, dest string) ([]proto.EntryOutcome, error) {
	var data proto.BatchData
	err := c.call(proto.MethodRcp, proto.MoveParams{Sources: sources, Dest: dest}, &data)
	return data.Outcomes, err
}

// Rrm removes remote entries.
func (c *Client) Rrm(paths []string) ([]proto.EntryOutcome, error) {
	var data proto.BatchData
	err := c.call(proto.MethodRrm, proto.PathsParams{Paths: paths}, &data)
	return data.Outcomes, err
}

// Rfind globs remote paths under the working directory.
func (c *Client) Rfind(pattern string, caseInsensitive bool) ([]string, error) {
	var data proto.FindData
	err := c.call(proto.MethodRfind, proto.FindParams{Pattern: pattern, CaseInsensitive: caseInsensitive}, &data)
	return data.Matches, err
}

// dialTransfer opens a data channel to a server-advertised ephemeral port.
func (c *Client) dialTransfer(port int) (net.Conn, error) {
	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, proto.Errorf(proto.ErrTransport, "connect transfer %s: %v", addr, err)
	}
	if c.SSL {
		tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
		if err := tlsConn.Handshake(); err != nil {
			_ = conn.Close()
			return nil, proto.Errorf(proto.ErrTransport, "transfer TLS handshake: %v", err)
		}
		return tlsConn, nil
	}
	return conn, nil
}
