package transfer

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/easyshare/easyshare/internal/proto"
)

// manifestEntry pairs a wire FileEntry with the absolute source path its
// bytes are read from.
type manifestEntry struct {
	proto.FileEntry
	abs string
}

// buildManifest walks the requested absolute paths and produces the ordered
// transfer manifest. Each requested path contributes itself and, for
// directories, its whole subtree; entry paths are relative to the requested
// path's parent so a requested directory recreates itself on the receiver.
//
// Symlink policy: a symlink resolving to a regular file inside root is sent
// as a file; any other symlink is sent as a symlink entry carrying its
// target name, never followed.
func buildManifest(root string, paths []string) ([]manifestEntry, error) {
	var entries []manifestEntry
	for _, abs := range paths {
		base := filepath.Dir(abs)
		if abs == root {
			if fi, err := os.Lstat(abs); err == nil && fi.IsDir() {
				// Requesting the sharing root itself transfers its
				// contents, not a directory named after the root. A
				// file-kind sharing root transfers as the file it is.
				base = root
			}
		}
		sub, err := walkPath(root, base, abs)
		if err != nil {
			return nil, err
		}
		entries = append(entries, sub...)
	}
	return entries, nil
}

func walkPath(root, base, abs string) ([]manifestEntry, error) {
	rel := func(p string) string {
		r, err := filepath.Rel(base, p)
		if err != nil {
			return filepath.Base(p)
		}
		return filepath.ToSlash(r)
	}

	fi, err := os.Lstat(abs)
	if err != nil {
		return nil, proto.MapFSError(err)
	}

	var entries []manifestEntry
	var visit func(p string, fi fs.FileInfo) error
	visit = func(p string, fi fs.FileInfo) error {
		// rel "." is the root-as-base case: descend without emitting an
		// entry for the root itself.
		if r := rel(p); r != "." {
			entry, include := classify(root, p, r, fi)
			if include {
				entries = append(entries, entry)
			}
			if fi.Mode()&fs.ModeSymlink != 0 || !fi.IsDir() {
				return nil
			}
		}
		dirents, err := os.ReadDir(p)
		if err != nil {
			return proto.MapFSError(err)
		}
		sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name() < dirents[j].Name() })
		for _, de := range dirents {
			info, err := de.Info()
			if err != nil {
				continue
			}
			if err := visit(filepath.Join(p, de.Name()), info); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(abs, fi); err != nil {
		return nil, err
	}
	return entries, nil
}

// classify maps one filesystem entry to its manifest form.
func classify(root, abs, rel string, fi fs.FileInfo) (manifestEntry, bool) {
	entry := manifestEntry{abs: abs}
	entry.Path = rel
	entry.Mtime = fi.ModTime().UnixNano()
	entry.Mode = uint32(fi.Mode().Perm())

	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		resolved, target, ok := resolveLinkInRoot(root, abs)
		if ok {
			// In-root symlink to a regular file travels as that file.
			rfi, err := os.Stat(resolved)
			if err == nil && rfi.Mode().IsRegular() {
				entry.abs = resolved
				entry.Kind = proto.KindFile
				entry.Size = rfi.Size()
				entry.Mtime = rfi.ModTime().UnixNano()
				entry.Mode = uint32(rfi.Mode().Perm())
				return entry, true
			}
		}
		entry.Kind = proto.KindSymlink
		entry.Target = target
		return entry, true
	case fi.IsDir():
		entry.Kind = proto.KindDirectory
		return entry, true
	case fi.Mode().IsRegular():
		entry.Kind = proto.KindFile
		entry.Size = fi.Size()
		return entry, true
	default:
		// Sockets, devices and the like do not travel.
		return entry, false
	}
}

// resolveLinkInRoot resolves a symlink and reports whether the resolution
// stays inside root. The raw target name is returned either way.
func resolveLinkInRoot(root, link string) (resolved, target string, inRoot bool) {
	target, err := os.Readlink(link)
	if err != nil {
		return "", "", false
	}
	resolved = target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(link), resolved)
	}
	resolved, err = filepath.EvalSymlinks(resolved)
	if err != nil {
		return "", target, false
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return resolved, target, false
	}
	return resolved, target, true
}

// toManifest converts build output to the wire manifest.
func toManifest(entries []manifestEntry) proto.Manifest {
	m := proto.Manifest{Files: make([]proto.FileEntry, 0, len(entries))}
	for _, e := range entries {
		m.Files = append(m.Files, e.FileEntry)
		if e.Kind == proto.KindFile {
			m.TotalBytes += e.Size
		}
	}
	return m
}
