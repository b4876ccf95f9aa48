package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyshare/easyshare/internal/proto"
	"github.com/easyshare/easyshare/pkg/client"
	"github.com/easyshare/easyshare/pkg/config"
	"github.com/easyshare/easyshare/pkg/registry"
)

type testServer struct {
	srv  *Server
	root string // root of the sharing named "s1"
}

// startServer boots a server on an ephemeral port with one directory
// sharing "s1" and returns it ready for connections.
func startServer(t *testing.T, mutate func(cfg *config.ServerConfig)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Name = "testsrv"
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.DiscoverPort = 0

	root := t.TempDir()
	reg := registry.New()
	sharing, err := registry.NewSharing("s1", root, false)
	require.NoError(t, err)
	require.NoError(t, reg.Add(sharing))

	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, reg, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Stop()
		<-done
	})

	// Wait for the listener to come up.
	require.Eventually(t, func() bool {
		return srv.listener != nil
	}, 2*time.Second, 10*time.Millisecond)

	return &testServer{srv: srv, root: sharing.Root}
}

func connect(t *testing.T, ts *testServer) *client.Client {
	t.Helper()
	c, err := client.Connect("127.0.0.1", ts.srv.Port(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestPingInfoList(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)

	ping, err := c.Ping("hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", ping.Echo)
	assert.NotZero(t, ping.Time)

	info, err := c.Info()
	require.NoError(t, err)
	assert.Equal(t, "testsrv", info.Name)
	assert.False(t, info.Auth)
	assert.False(t, info.Rexec)
	require.Len(t, info.Sharings, 1)
	assert.Equal(t, "s1", info.Sharings[0].Name)

	sharings, err := c.List()
	require.NoError(t, err)
	require.Len(t, sharings, 1)
	assert.Equal(t, proto.KindDirectory, sharings[0].Kind)
}

func TestOpenAndRpwd(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)

	desc, err := c.Open("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", desc.Name)

	pwd, err := c.Rpwd()
	require.NoError(t, err)
	assert.Equal(t, "/", pwd)
}

func TestOpenNoSuchSharing(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)

	_, err := c.Open("ghost")
	require.Error(t, err)
	assert.Equal(t, proto.ErrNoSuchSharing, proto.CodeOf(err))
}

func TestOpenTwiceFails(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)

	_, err := c.Open("s1")
	require.NoError(t, err)
	_, err = c.Open("s1")
	assert.Equal(t, proto.ErrAlreadyBound, proto.CodeOf(err))

	require.NoError(t, c.CloseSharing())
	_, err = c.Open("s1")
	require.NoError(t, err)
}

func TestBoundMethodsRequireOpen(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)

	_, err := c.Rpwd()
	assert.Equal(t, proto.ErrNotBound, proto.CodeOf(err))

	err = c.CloseSharing()
	assert.Equal(t, proto.ErrNotBound, proto.CodeOf(err))
}

func TestAuthFlow(t *testing.T) {
	ts := startServer(t, func(cfg *config.ServerConfig) {
		cfg.Password = "sesame"
	})
	c := connect(t, ts)

	info, err := c.Info()
	require.NoError(t, err)
	assert.True(t, info.Auth)

	// Non-public methods are gated until authentication.
	_, err = c.Open("s1")
	assert.Equal(t, proto.ErrAuthRequired, proto.CodeOf(err))

	err = c.Auth("wrong")
	assert.Equal(t, proto.ErrAuthFailed, proto.CodeOf(err))

	require.NoError(t, c.Auth("sesame"))
	_, err = c.Open("s1")
	require.NoError(t, err)
}

func TestPathEscapeLeavesCwdUnchanged(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)

	_, err := c.Open("s1")
	require.NoError(t, err)

	_, err = c.Rcd("../../etc")
	require.Error(t, err)
	assert.Equal(t, proto.ErrPathEscapesSharing, proto.CodeOf(err))

	pwd, err := c.Rpwd()
	require.NoError(t, err)
	assert.Equal(t, "/", pwd)
}

func TestRemoteFilesystemOps(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)
	_, err := c.Open("s1")
	require.NoError(t, err)

	require.NoError(t, c.Rmkdir("docs/archive"))

	writeFile(t, filepath.Join(ts.root, "docs/a.txt"), "a")
	writeFile(t, filepath.Join(ts.root, "docs/b.txt"), "bb")

	entries, err := c.Rls("docs", proto.LsFlags{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "archive", entries[1].Name)
	assert.Equal(t, "b.txt", entries[2].Name)

	tree, err := c.Rtree("", 0, proto.LsFlags{})
	require.NoError(t, err)
	var paths []string
	for _, e := range tree {
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, "/docs/a.txt")

	outcomes, err := c.Rcp([]string{"docs/a.txt"}, "docs/archive")
	require.NoError(t, err)
	assert.True(t, outcomes[0].OK)
	assert.FileExists(t, filepath.Join(ts.root, "docs/archive/a.txt"))

	outcomes, err = c.Rmv([]string{"docs/b.txt"}, "docs/archive")
	require.NoError(t, err)
	assert.True(t, outcomes[0].OK)
	assert.NoFileExists(t, filepath.Join(ts.root, "docs/b.txt"))

	matches, err := c.Rfind("docs/*.txt", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/a.txt"}, matches)

	outcomes, err = c.Rrm([]string{"docs"})
	require.NoError(t, err)
	assert.True(t, outcomes[0].OK)
	assert.NoDirExists(t, filepath.Join(ts.root, "docs"))
}

func TestRcdIntoFileFails(t *testing.T) {
	ts := startServer(t, nil)
	writeFile(t, filepath.Join(ts.root, "plain"), "x")

	c := connect(t, ts)
	_, err := c.Open("s1")
	require.NoError(t, err)

	_, err = c.Rcd("plain")
	assert.Equal(t, proto.ErrNotADirectory, proto.CodeOf(err))
}

func TestGetEndToEnd(t *testing.T) {
	ts := startServer(t, nil)
	writeFile(t, filepath.Join(ts.root, "a/f1"), "hello\n")
	writeFile(t, filepath.Join(ts.root, "a/f2"), "")

	c := connect(t, ts)
	_, err := c.Open("s1")
	require.NoError(t, err)

	dest := t.TempDir()
	outcome, err := c.Get([]string{"a"}, dest, proto.PolicyYes, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.FilesOK)
	assert.Equal(t, int64(6), outcome.BytesOK)

	content, err := os.ReadFile(filepath.Join(dest, "a/f1"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))

	fi, err := os.Stat(filepath.Join(dest, "a/f2"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), fi.Size())
}

func TestPutGetRoundTrip(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)
	_, err := c.Open("s1")
	require.NoError(t, err)

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "tree/x"), "XX")
	writeFile(t, filepath.Join(src, "tree/deep/y"), "YYY")

	putOutcome, err := c.Put([]string{filepath.Join(src, "tree")}, proto.PolicyYes, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, putOutcome.FilesOK)
	assert.Equal(t, int64(5), putOutcome.BytesOK)

	dest := t.TempDir()
	getOutcome, err := c.Get([]string{"tree"}, dest, proto.PolicyYes, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, getOutcome.FilesOK)

	x, err := os.ReadFile(filepath.Join(dest, "tree/x"))
	require.NoError(t, err)
	assert.Equal(t, "XX", string(x))
	y, err := os.ReadFile(filepath.Join(dest, "tree/deep/y"))
	require.NoError(t, err)
	assert.Equal(t, "YYY", string(y))
}

func TestPutPolicyNoKeepsExisting(t *testing.T) {
	ts := startServer(t, nil)
	writeFile(t, filepath.Join(ts.root, "f1"), "old")

	c := connect(t, ts)
	_, err := c.Open("s1")
	require.NoError(t, err)

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "f1"), "ninechars")

	outcome, err := c.Put([]string{filepath.Join(src, "f1")}, proto.PolicyNo, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.FilesOK)
	assert.Equal(t, 1, outcome.FilesSkipped)

	content, err := os.ReadFile(filepath.Join(ts.root, "f1"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))
}

func TestPutPromptViaControlChannel(t *testing.T) {
	ts := startServer(t, nil)
	writeFile(t, filepath.Join(ts.root, "f"), "old")

	c := connect(t, ts)
	_, err := c.Open("s1")
	require.NoError(t, err)

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "f"), "new")

	prompted := 0
	prompt := func(entry proto.FileEntry, target string) bool {
		prompted++
		return true
	}
	outcome, err := c.Put([]string{filepath.Join(src, "f")}, proto.PolicyPrompt, prompt, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, prompted)
	assert.Equal(t, 1, outcome.FilesOK)

	content, err := os.ReadFile(filepath.Join(ts.root, "f"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestReadOnlySharingRejectsWrites(t *testing.T) {
	cfg := config.Default()
	cfg.Name = "rosrv"
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.DiscoverPort = 0

	reg := registry.New()
	sharing, err := registry.NewSharing("ro", t.TempDir(), true)
	require.NoError(t, err)
	require.NoError(t, reg.Add(sharing))

	srv, err := New(cfg, reg, "test")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	defer func() {
		cancel()
		srv.Stop()
		<-done
	}()
	require.Eventually(t, func() bool { return srv.listener != nil }, 2*time.Second, 10*time.Millisecond)

	c, err := client.Connect("127.0.0.1", srv.Port(), false)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Open("ro")
	require.NoError(t, err)

	_, err = c.Put(nil, proto.PolicyYes, nil, nil)
	assert.Equal(t, proto.ErrReadOnly, proto.CodeOf(err))

	err = c.Rmkdir("sub")
	assert.Equal(t, proto.ErrReadOnly, proto.CodeOf(err))

	_, err = c.Rrm([]string{"x"})
	assert.Equal(t, proto.ErrReadOnly, proto.CodeOf(err))
}

func TestRexecDisabledByDefault(t *testing.T) {
	ts := startServer(t, nil)
	c := connect(t, ts)

	_, err := c.Rexec("whoami", nil, nil, nil)
	assert.Equal(t, proto.ErrRexecDisabled, proto.CodeOf(err))

	_, err = c.Rshell(nil, nil, nil)
	assert.Equal(t, proto.ErrRexecDisabled, proto.CodeOf(err))
}

func TestSessionSurvivesAbortedTransfer(t *testing.T) {
	ts := startServer(t, nil)
	writeFile(t, filepath.Join(ts.root, "big"), "0123456789")

	// Drive the control channel directly so the data channel can be
	// dropped mid-transfer.
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", ts.srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	call := func(method string, params map[string]any) proto.Response {
		require.NoError(t, proto.WriteMessage(conn, proto.Request{Method: method, Params: params}))
		var resp proto.Response
		require.NoError(t, proto.ReadMessage(conn, &resp))
		return resp
	}

	resp := call(proto.MethodOpen, map[string]any{"name": "s1"})
	require.True(t, resp.Success)

	resp = call(proto.MethodGet, map[string]any{"paths": []any{"big"}})
	require.True(t, resp.Success)
	var data proto.TransferData
	require.NoError(t, jsonUnmarshal(resp.Data, &data))

	// Connect to the transfer endpoint, read the manifest, then hang up.
	dataConn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", data.Port))
	require.NoError(t, err)
	var manifest proto.Manifest
	require.NoError(t, proto.ReadMessage(dataConn, &manifest))
	require.Len(t, manifest.Files, 1)
	_ = dataConn.Close()

	// The session keeps working after the transfer-level failure.
	resp = call(proto.MethodRpwd, nil)
	assert.True(t, resp.Success)
	resp = call(proto.MethodPing, map[string]any{"echo": "still-alive"})
	assert.True(t, resp.Success)
}

func jsonUnmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

func TestUnknownMethodIsInvalidArgument(t *testing.T) {
	ts := startServer(t, nil)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", ts.srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, proto.WriteMessage(conn, proto.Request{Method: "frobnicate"}))
	var resp proto.Response
	require.NoError(t, proto.ReadMessage(conn, &resp))
	assert.Equal(t, proto.ErrInvalidArgument, resp.Error)
}

func TestMalformedFrameDropsConnection(t *testing.T) {
	ts := startServer(t, nil)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", ts.srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, proto.WriteFrame(conn, []byte("this is not json")))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	assert.Error(t, err) // connection closed without a reply
}

func TestIdleSessionIsClosed(t *testing.T) {
	ts := startServer(t, func(cfg *config.ServerConfig) {
		cfg.IdleTimeout = 1
	})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", ts.srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	assert.Error(t, err) // server closed the idle session
}
