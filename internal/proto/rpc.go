package proto

import "encoding/json"

// RPC method names. The server dispatches on these through a fixed handler
// table; unknown names produce InvalidArgument.
const (
	MethodPing        = "ping"
	MethodInfo        = "info"
	MethodList        = "list"
	MethodAuth        = "auth"
	MethodOpen        = "open"
	MethodClose       = "close"
	MethodRpwd        = "rpwd"
	MethodRcd         = "rcd"
	MethodRls         = "rls"
	MethodRtree       = "rtree"
	MethodRmkdir      = "rmkdir"
	MethodRmv         = "rmv"
	MethodRcp         = "rcp"
	MethodRrm         = "rrm"
	MethodRfind       = "rfind"
	MethodGet         = "get"
	MethodPut         = "put"
	MethodPutDecision = "put_decision"
	MethodRexec       = "rexec"
	MethodRshell      = "rshell"
)

// Request is the control-channel RPC envelope.
type Request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is the control-channel RPC reply envelope. Exactly one of
// Success/Error is meaningful per response.
type Response struct {
	Success bool            `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   ErrorCode       `json:"error,omitempty"`
}

// OkResponse builds a success response with an optional data payload.
func OkResponse(data any) (*Response, error) {
	resp := &Response{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		resp.Data = raw
	}
	return resp, nil
}

// ErrResponse builds a failure response carrying the taxonomy code of err.
func ErrResponse(err error) *Response {
	return &Response{Error: CodeOf(err)}
}

// Typed argument records for each method. The dispatch table decodes the
// request params object into these with mapstructure.

// AuthParams carries the password for the auth method.
type AuthParams struct {
	Password string `json:"password" mapstructure:"password"`
}

// OpenParams names the sharing to bind.
type OpenParams struct {
	Name string `json:"name" mapstructure:"name"`
}

// PathParams is shared by rcd, rmkdir and other single-path methods.
type PathParams struct {
	Path string `json:"path" mapstructure:"path"`
}

// LsFlags selects ordering of directory listings.
type LsFlags struct {
	SortBySize     bool `json:"sort_by_size,omitempty" mapstructure:"sort_by_size"`
	Reverse        bool `json:"reverse,omitempty" mapstructure:"reverse"`
	GroupDirsFirst bool `json:"group_dirs_first,omitempty" mapstructure:"group_dirs_first"`
}

// LsParams carries the directory and ordering flags for rls.
type LsParams struct {
	Path  string  `json:"path,omitempty" mapstructure:"path"`
	Flags LsFlags `json:"flags,omitempty" mapstructure:"flags"`
}

// TreeParams carries the root, depth bound and ordering flags for rtree.
type TreeParams struct {
	Path     string  `json:"path,omitempty" mapstructure:"path"`
	MaxDepth int     `json:"max_depth,omitempty" mapstructure:"max_depth"`
	Flags    LsFlags `json:"flags,omitempty" mapstructure:"flags"`
}

// MoveParams carries sources and destination for rmv and rcp.
type MoveParams struct {
	Sources []string `json:"sources" mapstructure:"sources"`
	Dest    string   `json:"dest" mapstructure:"dest"`
}

// PathsParams carries the path batch for rrm.
type PathsParams struct {
	Paths []string `json:"paths" mapstructure:"paths"`
}

// FindParams carries the glob pattern for rfind.
type FindParams struct {
	Pattern         string `json:"pattern" mapstructure:"pattern"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty" mapstructure:"case_insensitive"`
}

// GetParams requests a server-to-client transfer of the named paths.
type GetParams struct {
	Paths  []string        `json:"paths" mapstructure:"paths"`
	Policy OverwritePolicy `json:"overwrite_policy,omitempty" mapstructure:"overwrite_policy"`
}

// PutParams requests a client-to-server transfer endpoint.
type PutParams struct {
	Policy OverwritePolicy `json:"overwrite_policy,omitempty" mapstructure:"overwrite_policy"`
}

// PutDecisionParams resolves a prompt-policy arbitration left undecided on
// the transfer channel.
type PutDecisionParams struct {
	TransferID string `json:"transfer_id" mapstructure:"transfer_id"`
	FileID     int    `json:"file_id" mapstructure:"file_id"`
	Accept     bool   `json:"accept" mapstructure:"accept"`
}

// RexecParams carries the command line for rexec.
type RexecParams struct {
	Cmd string `json:"cmd" mapstructure:"cmd"`
}

// Typed data payloads.

// PingData echoes the request and carries the server clock.
type PingData struct {
	Echo string `json:"echo,omitempty"`
	Time int64  `json:"time"`
}

// PwdData carries the sharing-relative working directory.
type PwdData struct {
	Path string `json:"path"`
}

// FileInfo is one row of an rls listing.
type FileInfo struct {
	Name  string    `json:"name"`
	Kind  EntryKind `json:"kind"`
	Size  int64     `json:"size"`
	Mtime int64     `json:"mtime"`
	Mode  uint32    `json:"mode"`
}

// LsData carries an ordered directory listing.
type LsData struct {
	Entries []FileInfo `json:"entries"`
}

// TreeEntry is one row of an rtree listing, tagged with its depth below the
// traversal root.
type TreeEntry struct {
	FileInfo `mapstructure:",squash"`
	Path     string `json:"path"`
	Depth    int    `json:"depth"`
}

// TreeData carries a pre-order depth-first traversal.
type TreeData struct {
	Entries []TreeEntry `json:"entries"`
}

// EntryOutcome is the per-entry result of a batch filesystem operation.
type EntryOutcome struct {
	Path  string    `json:"path"`
	OK    bool      `json:"ok"`
	Error ErrorCode `json:"error,omitempty"`
}

// BatchData carries per-entry outcomes of rmv, rcp and rrm.
type BatchData struct {
	Outcomes []EntryOutcome `json:"outcomes"`
}

// FindData carries sharing-relative match paths.
type FindData struct {
	Matches []string `json:"matches"`
}

// TransferData advertises the endpoint allocated for a get or put stream.
type TransferData struct {
	TransferID string `json:"transfer_id"`
	Port       int    `json:"port"`
}

// RexecData advertises the endpoint allocated for a rexec or rshell stream.
type RexecData struct {
	Port int `json:"port"`
}
