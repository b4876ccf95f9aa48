// Package pathres constrains client-supplied paths to a sharing root.
//
// Every path argument of every RPC runs through a Resolver before touching
// the filesystem. The resolver guarantees that the returned absolute path
// equals the sharing root or is a proper descendant of it after resolving
// all intermediate symlinks: a symlink may not redirect outside the sharing.
package pathres

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/easyshare/easyshare/internal/proto"
)

// maxNameLen is the per-component name limit (NAME_MAX on every supported
// platform).
const maxNameLen = 255

// maxSymlinkHops bounds symlink chains to defend against loops.
const maxSymlinkHops = 40

// Resolver canonicalises client paths against one sharing root. The root is
// absolute and symlink-free, fixed at construction.
type Resolver struct {
	root string
}

// New builds a Resolver for the given sharing root. The root must exist; it
// is resolved to an absolute, symlink-free path once, so later containment
// checks are plain prefix comparisons.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, proto.Errorf(proto.ErrInvalidArgument, "sharing root %q: %v", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if e := proto.MapFSError(err); e != nil {
			return nil, e
		}
		return nil, err
	}
	return &Resolver{root: resolved}, nil
}

// Root returns the canonical sharing root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve canonicalises a client-supplied path against the session's working
// directory. Input may be empty (returns cwd), sharing-root-relative (leading
// slash) or cwd-relative. The result is inside the sharing root or the call
// fails with PathEscapesSharing.
func (r *Resolver) Resolve(cwd, input string) (string, error) {
	if strings.ContainsRune(input, 0) {
		return "", proto.NewError(proto.ErrInvalidArgument, "path contains NUL")
	}
	if cwd == "" {
		cwd = r.root
	}

	var p string
	switch {
	case input == "":
		p = cwd
	case strings.HasPrefix(input, "/"):
		p = filepath.Join(r.root, input)
	default:
		p = filepath.Join(cwd, input)
	}
	p = filepath.Clean(p)

	if !r.contains(p) {
		return "", proto.Errorf(proto.ErrPathEscapesSharing, "%q escapes sharing", input)
	}

	resolved, err := r.walkSymlinks(p)
	if err != nil {
		return "", err
	}
	if !r.contains(resolved) {
		return "", proto.Errorf(proto.ErrPathEscapesSharing, "%q escapes sharing", input)
	}
	return resolved, nil
}

// Rel maps an absolute inside-root path to its sharing-relative display form
// with a leading slash. The root itself maps to "/".
func (r *Resolver) Rel(p string) string {
	if p == r.root {
		return "/"
	}
	rel := strings.TrimPrefix(p, r.root)
	return filepath.ToSlash(rel)
}

// contains reports whether p equals the root or descends from it.
func (r *Resolver) contains(p string) bool {
	return p == r.root || strings.HasPrefix(p, r.root+string(filepath.Separator))
}

// walkSymlinks resolves p component by component, re-checking ancestry after
// every symlink resolution. Components past the first nonexistent one are
// appended lexically (the path may name an entry about to be created).
func (r *Resolver) walkSymlinks(p string) (string, error) {
	rel := strings.TrimPrefix(p, r.root)
	rel = strings.Trim(rel, string(filepath.Separator))
	if rel == "" {
		return r.root, nil
	}

	components := strings.Split(rel, string(filepath.Separator))
	cur := r.root
	for i, comp := range components {
		if len(comp) > maxNameLen {
			return "", proto.Errorf(proto.ErrInvalidArgument, "path component exceeds %d bytes", maxNameLen)
		}
		next := filepath.Join(cur, comp)
		fi, err := os.Lstat(next)
		if err != nil {
			if os.IsNotExist(err) {
				// The remainder does not exist yet; it is already clean of
				// dot segments, so a lexical join is safe.
				return filepath.Join(append([]string{cur}, components[i:]...)...), nil
			}
			return "", proto.MapFSError(err)
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			cur = next
			continue
		}
		resolved, err := r.resolveLink(next, 0)
		if err != nil {
			return "", err
		}
		if !r.contains(resolved) {
			return "", proto.Errorf(proto.ErrPathEscapesSharing, "symlink %q escapes sharing", comp)
		}
		cur = resolved
	}
	return cur, nil
}

// resolveLink chases one symlink, following chains up to maxSymlinkHops.
// Dangling links resolve to their lexical target.
func (r *Resolver) resolveLink(link string, hops int) (string, error) {
	if hops >= maxSymlinkHops {
		return "", proto.Errorf(proto.ErrInvalidArgument, "too many levels of symbolic links")
	}
	target, err := os.Readlink(link)
	if err != nil {
		return "", proto.MapFSError(err)
	}
	if strings.ContainsRune(target, 0) {
		return "", proto.NewError(proto.ErrInvalidArgument, "symlink target contains NUL")
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	target = filepath.Clean(target)

	fi, err := os.Lstat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return target, nil
		}
		return "", proto.MapFSError(err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return r.resolveLink(target, hops+1)
	}
	return target, nil
}
