package sharingsvc

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/easyshare/easyshare/internal/proto"
)

// isCrossDevice reports whether a rename failed because source and target
// live on different filesystems.
func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

// copyTree copies src to dst recursively, preserving mode and mtime.
// Symlinks are recreated, not followed.
func copyTree(src, dst string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return proto.MapFSError(err)
	}

	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		return copySymlink(src, dst)
	case fi.IsDir():
		return copyDir(src, dst, fi)
	default:
		return copyFile(src, dst, fi)
	}
}

func copyDir(src, dst string, fi fs.FileInfo) error {
	if err := os.MkdirAll(dst, fi.Mode().Perm()); err != nil {
		return proto.MapFSError(err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return proto.MapFSError(err)
	}
	for _, e := range entries {
		if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	// Directory mtime is restored after children are written.
	return chtimes(dst, fi)
}

func copyFile(src, dst string, fi fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return proto.MapFSError(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return proto.MapFSError(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return proto.MapFSError(err)
	}
	if err := out.Close(); err != nil {
		return proto.MapFSError(err)
	}
	return chtimes(dst, fi)
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return proto.MapFSError(err)
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return proto.MapFSError(err)
	}
	if err := os.Symlink(target, dst); err != nil {
		return proto.MapFSError(err)
	}
	return nil
}

func chtimes(p string, fi fs.FileInfo) error {
	if err := os.Chtimes(p, fi.ModTime(), fi.ModTime()); err != nil {
		return proto.MapFSError(err)
	}
	return nil
}
