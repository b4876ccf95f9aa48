// Package sharingsvc implements the filesystem operations scoped to one
// sharing: listing, tree walking, mkdir, move, copy, remove and find.
//
// Every client-supplied path runs through the sharing's path resolver before
// touching the filesystem, so all operations are confined to the sharing
// root. Batch operations never fail wholesale: each entry reports its own
// outcome.
package sharingsvc

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/easyshare/easyshare/internal/pathres"
	"github.com/easyshare/easyshare/internal/proto"
	"github.com/easyshare/easyshare/pkg/registry"
)

// Service executes filesystem operations inside one sharing.
type Service struct {
	sharing  *registry.Sharing
	resolver *pathres.Resolver
}

// New builds a service for the given sharing.
func New(sharing *registry.Sharing) (*Service, error) {
	resolver, err := pathres.New(sharing.Root)
	if err != nil {
		return nil, err
	}
	return &Service{sharing: sharing, resolver: resolver}, nil
}

// Sharing returns the sharing this service operates on.
func (s *Service) Sharing() *registry.Sharing {
	return s.sharing
}

// Resolver returns the sharing's path resolver.
func (s *Service) Resolver() *pathres.Resolver {
	return s.resolver
}

// fileInfo converts an os.FileInfo into the wire row.
func fileInfo(fi fs.FileInfo) proto.FileInfo {
	kind := proto.KindFile
	switch {
	case fi.IsDir():
		kind = proto.KindDirectory
	case fi.Mode()&fs.ModeSymlink != 0:
		kind = proto.KindSymlink
	}
	size := fi.Size()
	if kind != proto.KindFile {
		size = 0
	}
	return proto.FileInfo{
		Name:  fi.Name(),
		Kind:  kind,
		Size:  size,
		Mtime: fi.ModTime().UnixNano(),
		Mode:  uint32(fi.Mode().Perm()),
	}
}

// sortEntries orders a listing: lexical by default, optionally by size,
// optionally directories first, optionally reversed.
func sortEntries(entries []proto.FileInfo, flags proto.LsFlags) {
	sort.SliceStable(entries, func(i, j int) bool {
		if flags.SortBySize {
			if entries[i].Size != entries[j].Size {
				return entries[i].Size < entries[j].Size
			}
		}
		return entries[i].Name < entries[j].Name
	})
	if flags.GroupDirsFirst {
		sort.SliceStable(entries, func(i, j int) bool {
			iDir := entries[i].Kind == proto.KindDirectory
			jDir := entries[j].Kind == proto.KindDirectory
			return iDir && !jDir
		})
	}
	if flags.Reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
}

// Ls lists a directory. Listing a plain file yields that single entry, so
// file sharings list themselves.
func (s *Service) Ls(cwd, dir string, flags proto.LsFlags) ([]proto.FileInfo, error) {
	p, err := s.resolver.Resolve(cwd, dir)
	if err != nil {
		return nil, err
	}

	fi, err := os.Lstat(p)
	if err != nil {
		return nil, proto.MapFSError(err)
	}
	if !fi.IsDir() {
		return []proto.FileInfo{fileInfo(fi)}, nil
	}

	dirents, err := os.ReadDir(p)
	if err != nil {
		return nil, proto.MapFSError(err)
	}
	entries := make([]proto.FileInfo, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			continue // entry vanished between readdir and stat
		}
		entries = append(entries, fileInfo(info))
	}
	sortEntries(entries, flags)
	return entries, nil
}

// Tree walks a directory pre-order depth-first, tagging entries with their
// depth. Symlinks are listed but never followed. maxDepth <= 0 means
// unlimited.
func (s *Service) Tree(cwd, dir string, maxDepth int, flags proto.LsFlags) ([]proto.TreeEntry, error) {
	p, err := s.resolver.Resolve(cwd, dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(p); err != nil {
		return nil, proto.MapFSError(err)
	}

	var out []proto.TreeEntry
	var walk func(abs string, depth int) error
	walk = func(abs string, depth int) error {
		dirents, err := os.ReadDir(abs)
		if err != nil {
			return proto.MapFSError(err)
		}
		entries := make([]proto.FileInfo, 0, len(dirents))
		for _, de := range dirents {
			info, err := de.Info()
			if err != nil {
				continue
			}
			entries = append(entries, fileInfo(info))
		}
		sortEntries(entries, flags)

		for _, e := range entries {
			child := filepath.Join(abs, e.Name)
			out = append(out, proto.TreeEntry{
				FileInfo: e,
				Path:     s.resolver.Rel(child),
				Depth:    depth,
			})
			if e.Kind == proto.KindDirectory && (maxDepth <= 0 || depth+1 < maxDepth) {
				if err := walk(child, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(p, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// Mkdir creates a directory and any missing parents. It is idempotent when
// the path already is a directory.
func (s *Service) Mkdir(cwd, dir string) error {
	p, err := s.resolver.Resolve(cwd, dir)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(p); err == nil {
		if fi.IsDir() {
			return nil
		}
		return proto.Errorf(proto.ErrNotADirectory, "%q exists and is not a directory", dir)
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return proto.MapFSError(err)
	}
	return nil
}

// Mv moves sources to dest. One source follows rename-or-move-into-dir
// semantics; several sources require dest to be an existing directory.
// Cross-device renames fall back to copy plus unlink.
func (s *Service) Mv(cwd string, srcs []string, dest string) ([]proto.EntryOutcome, error) {
	return s.moveOrCopy(cwd, srcs, dest, true)
}

// Cp copies sources to dest, recursively for directories, preserving mode
// and mtime.
func (s *Service) Cp(cwd string, srcs []string, dest string) ([]proto.EntryOutcome, error) {
	return s.moveOrCopy(cwd, srcs, dest, false)
}

func (s *Service) moveOrCopy(cwd string, srcs []string, dest string, move bool) ([]proto.EntryOutcome, error) {
	if len(srcs) == 0 {
		return nil, proto.NewError(proto.ErrInvalidArgument, "no sources given")
	}
	destAbs, err := s.resolver.Resolve(cwd, dest)
	if err != nil {
		return nil, err
	}

	destInfo, statErr := os.Stat(destAbs)
	destIsDir := statErr == nil && destInfo.IsDir()
	if len(srcs) > 1 && !destIsDir {
		return nil, proto.Errorf(proto.ErrNotADirectory, "%q is not an existing directory", dest)
	}

	outcomes := make([]proto.EntryOutcome, 0, len(srcs))
	for _, src := range srcs {
		outcome := proto.EntryOutcome{Path: src, OK: true}
		if err := s.moveOne(cwd, src, destAbs, destIsDir, move); err != nil {
			outcome.OK = false
			outcome.Error = proto.CodeOf(err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) moveOne(cwd, src, destAbs string, destIsDir, move bool) error {
	srcAbs, err := s.resolver.Resolve(cwd, src)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(srcAbs); err != nil {
		return proto.MapFSError(err)
	}

	target := destAbs
	if destIsDir {
		target = filepath.Join(destAbs, filepath.Base(srcAbs))
	}
	if srcAbs == target {
		return proto.NewError(proto.ErrInvalidArgument, "source and destination are the same")
	}

	if !move {
		return copyTree(srcAbs, target)
	}
	if err := os.Rename(srcAbs, target); err != nil {
		if !isCrossDevice(err) {
			return proto.MapFSError(err)
		}
		if err := copyTree(srcAbs, target); err != nil {
			return err
		}
		if err := os.RemoveAll(srcAbs); err != nil {
			return proto.MapFSError(err)
		}
	}
	return nil
}

// Rm removes paths recursively. Missing entries are silently skipped.
func (s *Service) Rm(cwd string, paths []string) ([]proto.EntryOutcome, error) {
	if len(paths) == 0 {
		return nil, proto.NewError(proto.ErrInvalidArgument, "no paths given")
	}
	outcomes := make([]proto.EntryOutcome, 0, len(paths))
	for _, p := range paths {
		outcome := proto.EntryOutcome{Path: p, OK: true}
		if err := s.rmOne(cwd, p); err != nil {
			outcome.OK = false
			outcome.Error = proto.CodeOf(err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) rmOne(cwd, p string) error {
	abs, err := s.resolver.Resolve(cwd, p)
	if err != nil {
		return err
	}
	if abs == s.resolver.Root() {
		return proto.NewError(proto.ErrInvalidArgument, "refusing to remove the sharing root")
	}
	if err := os.RemoveAll(abs); err != nil {
		return proto.MapFSError(err)
	}
	return nil
}

// Find returns sharing-relative paths under cwd matching a glob pattern.
// The pattern is matched against the cwd-relative path of each entry.
func (s *Service) Find(cwd, pattern string, caseInsensitive bool) ([]string, error) {
	base, err := s.resolver.Resolve(cwd, "")
	if err != nil {
		return nil, err
	}
	if caseInsensitive {
		pattern = strings.ToLower(pattern)
	}
	// Validate the pattern up front so a bad glob is one error, not a
	// silent empty result.
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, proto.Errorf(proto.ErrInvalidArgument, "bad pattern %q", pattern)
	}

	var matches []string
	err = filepath.WalkDir(base, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if abs == base {
			return nil
		}
		rel, relErr := filepath.Rel(base, abs)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		candidate := rel
		if caseInsensitive {
			candidate = strings.ToLower(candidate)
		}
		if ok, _ := path.Match(pattern, candidate); ok {
			matches = append(matches, s.resolver.Rel(abs))
		}
		return nil
	})
	if err != nil {
		return nil, proto.MapFSError(err)
	}
	sort.Strings(matches)
	return matches, nil
}
