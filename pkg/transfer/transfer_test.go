package transfer

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyshare/easyshare/internal/pathres"
	"github.com/easyshare/easyshare/internal/proto"
)

func newResolver(t *testing.T) *pathres.Resolver {
	t.Helper()
	r, err := pathres.New(t.TempDir())
	require.NoError(t, err)
	return r
}

func dialTransfer(t *testing.T, tr *Transfer) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", tr.Port()), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitDone(t *testing.T, tr *Transfer) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not finish")
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestGetDirectoryRoundTrip(t *testing.T) {
	res := newResolver(t)
	root := res.Root()
	writeTestFile(t, filepath.Join(root, "a/f1"), "hello\n")
	writeTestFile(t, filepath.Join(root, "a/f2"), "")

	tr, err := NewGet(res, root, []string{"a"}, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)
	dest := t.TempDir()
	outcome, err := Receive(conn, dest, proto.PolicyYes, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.FilesOK)
	assert.Equal(t, int64(6), outcome.BytesOK)

	content, err := os.ReadFile(filepath.Join(dest, "a/f1"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))

	fi, err := os.Stat(filepath.Join(dest, "a/f2"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), fi.Size())

	waitDone(t, tr)
	assert.Equal(t, StateFinalised, tr.State())
	assert.Equal(t, "ok", tr.Outcome().Outcome)
}

func TestGetFileSharingRoot(t *testing.T) {
	// A file-kind sharing: the resolver root is the file itself.
	dir := t.TempDir()
	file := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(file, []byte("filebytes"), 0644))
	res, err := pathres.New(file)
	require.NoError(t, err)

	tr, err := NewGet(res, res.Root(), nil, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)
	dest := t.TempDir()
	outcome, err := Receive(conn, dest, proto.PolicyYes, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.FilesOK)

	content, err := os.ReadFile(filepath.Join(dest, "payload.bin"))
	require.NoError(t, err)
	assert.Equal(t, "filebytes", string(content))
	waitDone(t, tr)
}

func TestGetFailsEarlyOnMissingPath(t *testing.T) {
	res := newResolver(t)
	_, err := NewGet(res, res.Root(), []string{"ghost"}, "127.0.0.1", nil)
	require.Error(t, err)
	assert.Equal(t, proto.ErrNotFound, proto.CodeOf(err))
}

func TestGetRejectsEscapingPath(t *testing.T) {
	res := newResolver(t)
	_, err := NewGet(res, res.Root(), []string{"../../etc"}, "127.0.0.1", nil)
	require.Error(t, err)
	assert.Equal(t, proto.ErrPathEscapesSharing, proto.CodeOf(err))
}

func TestGetPreservesMtime(t *testing.T) {
	res := newResolver(t)
	root := res.Root()
	writeTestFile(t, filepath.Join(root, "f"), "data")
	mtime := time.Date(2023, 5, 4, 3, 2, 1, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "f"), mtime, mtime))

	tr, err := NewGet(res, root, []string{"f"}, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)
	dest := t.TempDir()
	_, err = Receive(conn, dest, proto.PolicyYes, nil, nil)
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(dest, "f"))
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(mtime))
	waitDone(t, tr)
}

func TestGetSkipPolicyNo(t *testing.T) {
	res := newResolver(t)
	root := res.Root()
	writeTestFile(t, filepath.Join(root, "f1"), "incoming!")

	dest := t.TempDir()
	writeTestFile(t, filepath.Join(dest, "f1"), "old")

	tr, err := NewGet(res, root, []string{"f1"}, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)
	outcome, err := Receive(conn, dest, proto.PolicyNo, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.FilesOK)
	assert.Equal(t, 1, outcome.FilesSkipped)

	content, err := os.ReadFile(filepath.Join(dest, "f1"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))
	waitDone(t, tr)
}

func TestPutRoundTrip(t *testing.T) {
	res := newResolver(t)

	src := t.TempDir()
	writeTestFile(t, filepath.Join(src, "tree/one"), "1")
	writeTestFile(t, filepath.Join(src, "tree/sub/two"), "22")

	tr, err := NewPut(res, res.Root(), proto.PolicyYes, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)
	outcome, err := Send(conn, []string{filepath.Join(src, "tree")}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "ok", outcome.Outcome)
	assert.Equal(t, 2, outcome.FilesOK)
	assert.Equal(t, int64(3), outcome.BytesOK)

	content, err := os.ReadFile(filepath.Join(res.Root(), "tree/sub/two"))
	require.NoError(t, err)
	assert.Equal(t, "22", string(content))

	waitDone(t, tr)
	assert.Equal(t, StateFinalised, tr.State())
}

func TestPutPolicyNoSkipsExisting(t *testing.T) {
	res := newResolver(t)
	writeTestFile(t, filepath.Join(res.Root(), "f1"), "old")

	src := t.TempDir()
	writeTestFile(t, filepath.Join(src, "f1"), "muchnewer")

	tr, err := NewPut(res, res.Root(), proto.PolicyNo, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)
	outcome, err := Send(conn, []string{filepath.Join(src, "f1")}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.FilesOK)
	assert.Equal(t, 1, outcome.FilesSkipped)

	content, err := os.ReadFile(filepath.Join(res.Root(), "f1"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))
	waitDone(t, tr)
}

func TestPutPolicyNewer(t *testing.T) {
	res := newResolver(t)
	target := filepath.Join(res.Root(), "f")
	writeTestFile(t, target, "existing")
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(target, base, base))

	src := t.TempDir()
	writeTestFile(t, filepath.Join(src, "f"), "incoming")

	// Incoming file older than the target: skipped.
	old := base.Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(src, "f"), old, old))

	tr, err := NewPut(res, res.Root(), proto.PolicyNewer, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()
	outcome, err := Send(dialTransfer(t, tr), []string{filepath.Join(src, "f")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.FilesSkipped)
	waitDone(t, tr)

	// Incoming file newer than the target: accepted.
	newer := base.Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(src, "f"), newer, newer))

	tr2, err := NewPut(res, res.Root(), proto.PolicyNewer, "127.0.0.1", nil)
	require.NoError(t, err)
	tr2.Start()
	outcome, err = Send(dialTransfer(t, tr2), []string{filepath.Join(src, "f")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.FilesOK)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "incoming", string(content))
	waitDone(t, tr2)
}

func TestPutPromptDecisionFlow(t *testing.T) {
	res := newResolver(t)
	writeTestFile(t, filepath.Join(res.Root(), "f"), "old")

	src := t.TempDir()
	writeTestFile(t, filepath.Join(src, "f"), "new")

	tr, err := NewPut(res, res.Root(), proto.PolicyPrompt, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)
	onUndecided := func(fileID int, entry proto.FileEntry) error {
		// Stands in for the control-channel put_decision RPC.
		return tr.Decide(fileID, true)
	}
	outcome, err := Send(conn, []string{filepath.Join(src, "f")}, onUndecided, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.FilesOK)

	content, err := os.ReadFile(filepath.Join(res.Root(), "f"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
	waitDone(t, tr)
}

func TestPutTruncatedStreamAborts(t *testing.T) {
	res := newResolver(t)
	tr, err := NewPut(res, res.Root(), proto.PolicyYes, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)

	// Promise 10 bytes, deliver 3, drop the connection.
	manifest := proto.Manifest{
		Files:      []proto.FileEntry{{Path: "f", Kind: proto.KindFile, Size: 10}},
		TotalBytes: 10,
	}
	require.NoError(t, proto.WriteMessage(conn, manifest))
	require.NoError(t, proto.WriteMessage(conn, proto.PutFileHeader{Idx: 0}))

	var resp proto.PutFileResponse
	require.NoError(t, proto.ReadMessage(conn, &resp))
	require.Equal(t, proto.DecisionAccept, resp.Decision)

	require.NoError(t, proto.WriteChunkHeader(conn, 0, 3))
	_, err = conn.Write([]byte("abc"))
	require.NoError(t, err)
	_ = conn.Close()

	waitDone(t, tr)
	assert.Equal(t, StateAborted, tr.State())
	outcome := tr.Outcome()
	assert.Equal(t, "aborted", outcome.Outcome)
	require.NotEmpty(t, outcome.Errors)
	assert.Equal(t, proto.ErrTruncated, outcome.Errors[0].Error)
}

func TestPutRejectsEscapingManifestPath(t *testing.T) {
	res := newResolver(t)
	tr, err := NewPut(res, res.Root(), proto.PolicyYes, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	conn := dialTransfer(t, tr)
	manifest := proto.Manifest{
		Files: []proto.FileEntry{{Path: "../evil", Kind: proto.KindFile, Size: 1}},
	}
	require.NoError(t, proto.WriteMessage(conn, manifest))

	waitDone(t, tr)
	assert.Equal(t, StateAborted, tr.State())
	require.NotEmpty(t, tr.Outcome().Errors)
	assert.Equal(t, proto.ErrPathEscapesSharing, tr.Outcome().Errors[0].Error)
}

func TestTransferCloseAborts(t *testing.T) {
	res := newResolver(t)
	tr, err := NewPut(res, res.Root(), proto.PolicyYes, "127.0.0.1", nil)
	require.NoError(t, err)
	tr.Start()

	tr.Close()
	waitDone(t, tr)
	assert.Equal(t, StateAborted, tr.State())
}
