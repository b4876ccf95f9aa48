package transfer

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/easyshare/easyshare/internal/proto"
)

// ProgressFunc observes transfer progress: transferred is the cumulative
// byte count for the entry. May be nil.
type ProgressFunc func(entry proto.FileEntry, transferred int64)

func notify(progress ProgressFunc, entry proto.FileEntry, n int64) {
	if progress != nil {
		progress(entry, n)
	}
}

// sendFileChunks streams one file as chunk frames. Byte counts are
// authoritative: exactly entry.Size bytes travel, regardless of concurrent
// file growth or truncation; a shrunk source is a Truncated error.
func sendFileChunks(w io.Writer, idx int, entry proto.FileEntry, abs string, progress ProgressFunc) (int64, error) {
	f, err := os.Open(abs)
	if err != nil {
		return 0, proto.MapFSError(err)
	}
	defer f.Close()

	var sent int64
	buf := make([]byte, proto.ChunkSize)
	for sent < entry.Size {
		want := entry.Size - sent
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, err := io.ReadFull(f, buf[:want])
		if err != nil {
			return sent, proto.Errorf(proto.ErrTruncated, "read %q: %v", entry.Path, err)
		}
		if err := proto.WriteChunkHeader(w, idx, n); err != nil {
			return sent, proto.NewError(proto.ErrTransport, err.Error())
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return sent, proto.NewError(proto.ErrTransport, err.Error())
		}
		sent += int64(n)
		notify(progress, entry, sent)
	}
	return sent, nil
}

// recvFileChunks reads entry.Size bytes of chunk frames into the target
// file, then restores mode and mtime from the manifest.
func recvFileChunks(r io.Reader, idx int, entry proto.FileEntry, target string, progress ProgressFunc) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, proto.MapFSError(err)
	}
	mode := os.FileMode(entry.Mode)
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return 0, proto.MapFSError(err)
	}

	received, err := copyChunks(r, f, idx, entry, progress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = proto.MapFSError(cerr)
	}
	if err != nil {
		return received, err
	}

	if entry.Mtime > 0 {
		mtime := time.Unix(0, entry.Mtime)
		_ = os.Chtimes(target, mtime, mtime)
	}
	return received, nil
}

// discardFileChunks consumes a skipped file's bytes from the stream.
func discardFileChunks(r io.Reader, idx int, entry proto.FileEntry) error {
	_, err := copyChunks(r, io.Discard, idx, entry, nil)
	return err
}

func copyChunks(r io.Reader, w io.Writer, idx int, entry proto.FileEntry, progress ProgressFunc) (int64, error) {
	var received int64
	for received < entry.Size {
		length, err := proto.ReadChunkHeader(r, idx)
		if err != nil {
			return received, proto.Errorf(proto.ErrTruncated, "read chunk header for %q: %v", entry.Path, err)
		}
		if int64(length) > entry.Size-received {
			return received, proto.Errorf(proto.ErrProtocol, "chunk overruns manifest size for %q", entry.Path)
		}
		if _, err := io.CopyN(w, r, int64(length)); err != nil {
			return received, proto.Errorf(proto.ErrTruncated, "read chunk for %q: %v", entry.Path, err)
		}
		received += int64(length)
		notify(progress, entry, received)
	}
	return received, nil
}

// makeDir realises a directory manifest entry on the receiving side.
func makeDir(target string, entry proto.FileEntry) error {
	mode := os.FileMode(entry.Mode)
	if mode == 0 {
		mode = 0755
	}
	if err := os.MkdirAll(target, mode); err != nil {
		return proto.MapFSError(err)
	}
	return nil
}

// makeSymlink realises a symlink manifest entry on the receiving side.
func makeSymlink(target string, entry proto.FileEntry) error {
	if entry.Target == "" {
		return proto.Errorf(proto.ErrInvalidArgument, "symlink entry %q has no target", entry.Path)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return proto.MapFSError(err)
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return proto.MapFSError(err)
	}
	if err := os.Symlink(entry.Target, target); err != nil {
		return proto.MapFSError(err)
	}
	return nil
}
