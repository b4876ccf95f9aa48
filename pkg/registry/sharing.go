package registry

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/easyshare/easyshare/internal/proto"
)

// MaxSharingNameLen bounds sharing names; the name also appears in server
// descriptors, which cap printable names at 64 characters.
const MaxSharingNameLen = 64

var sharingNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Sharing is a named, root-anchored view of part of the server filesystem.
// The root is normalised and absolute; once registered a sharing is
// immutable for the life of the process.
type Sharing struct {
	Name     string
	Root     string
	Kind     proto.EntryKind
	ReadOnly bool
}

// NewSharing validates a name/path pair and builds a Sharing. An empty name
// takes the on-disk basename. The path must exist; its kind (file or
// directory) is captured here.
func NewSharing(name, path string, readOnly bool) (*Sharing, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, proto.Errorf(proto.ErrInvalidArgument, "sharing path %q: %v", path, err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		if e := proto.MapFSError(err); e != nil {
			return nil, e
		}
		return nil, err
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, proto.MapFSError(err)
	}

	if name == "" {
		name = filepath.Base(abs)
		// Basenames can carry characters the sharing grammar forbids.
		name = sanitizeName(name)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	kind := proto.KindFile
	if fi.IsDir() {
		kind = proto.KindDirectory
	}

	return &Sharing{
		Name:     name,
		Root:     abs,
		Kind:     kind,
		ReadOnly: readOnly,
	}, nil
}

// ValidateName checks a sharing name against the wire grammar.
func ValidateName(name string) error {
	if name == "" {
		return proto.NewError(proto.ErrInvalidArgument, "sharing name is empty")
	}
	if len(name) > MaxSharingNameLen {
		return proto.Errorf(proto.ErrInvalidArgument, "sharing name exceeds %d characters", MaxSharingNameLen)
	}
	if !sharingNameRe.MatchString(name) {
		return proto.Errorf(proto.ErrInvalidArgument, "sharing name %q contains invalid characters", name)
	}
	return nil
}

// sanitizeName rewrites characters outside the sharing grammar to
// underscores so directory basenames with spaces still make usable names.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Descriptor returns the public view of the sharing.
func (s *Sharing) Descriptor() proto.SharingDescriptor {
	return proto.SharingDescriptor{
		Name:     s.Name,
		Kind:     s.Kind,
		ReadOnly: s.ReadOnly,
	}
}
