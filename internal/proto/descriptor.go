package proto

// EntryKind classifies a filesystem entry on the wire.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
	KindSymlink   EntryKind = "symlink"
)

// SharingDescriptor is the public view of a sharing, as listed by discovery
// replies and the list/info methods. The name, not the on-disk path, is what
// clients pass to open.
type SharingDescriptor struct {
	Name     string    `json:"name"`
	Kind     EntryKind `json:"kind"`
	ReadOnly bool      `json:"read_only"`
}

// ServerDescriptor is the public view of a server instance. It is the
// payload of a discovery reply and of the info method. Name, address and
// port together identify an instance; clients may cache by name.
type ServerDescriptor struct {
	Name            string              `json:"name"`
	Address         string              `json:"address"`
	Port            int                 `json:"port"`
	DiscoverPort    int                 `json:"discover_port"`
	SSL             bool                `json:"ssl"`
	Auth            bool                `json:"auth"`
	Rexec           bool                `json:"rexec"`
	Version         string              `json:"version"`
	CertFingerprint string              `json:"cert_fingerprint,omitempty"`
	Sharings        []SharingDescriptor `json:"sharings"`
}
