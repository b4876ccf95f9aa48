package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// OverwritePolicy arbitrates what happens when a transferred file already
// exists on the receiving side.
type OverwritePolicy string

const (
	PolicyPrompt        OverwritePolicy = "prompt"
	PolicyYes           OverwritePolicy = "yes"
	PolicyNo            OverwritePolicy = "no"
	PolicyNewer         OverwritePolicy = "newer"
	PolicyDifferentSize OverwritePolicy = "different-size"
)

// ParsePolicy validates a policy string, defaulting empty to prompt.
func ParsePolicy(s string) (OverwritePolicy, error) {
	switch OverwritePolicy(s) {
	case "":
		return PolicyPrompt, nil
	case PolicyPrompt, PolicyYes, PolicyNo, PolicyNewer, PolicyDifferentSize:
		return OverwritePolicy(s), nil
	default:
		return "", Errorf(ErrInvalidArgument, "unknown overwrite policy %q", s)
	}
}

// FileEntry is one entry of a transfer manifest. Path is relative to the
// sharing root (GET) or to the destination directory (PUT), always
// slash-separated.
type FileEntry struct {
	Path   string    `json:"path"`
	Kind   EntryKind `json:"kind"`
	Size   int64     `json:"size"`
	Mtime  int64     `json:"mtime"`
	Mode   uint32    `json:"mode"`
	Target string    `json:"target,omitempty"` // symlink target name
}

// Manifest is the first frame of every transfer: the ordered list of entries
// the sender intends to stream, with the aggregate payload size.
type Manifest struct {
	Files      []FileEntry `json:"files"`
	TotalBytes int64       `json:"total_bytes"`
}

// PutFileHeader asks the receiver for overwrite arbitration before a file's
// bytes are sent. Idx is the manifest index of the file.
type PutFileHeader struct {
	Idx int `json:"idx"`
}

// Decision is the receiver's answer to a PutFileHeader.
type Decision string

const (
	DecisionAccept    Decision = "accept"
	DecisionSkip      Decision = "skip"
	DecisionUndecided Decision = "undecided"
)

// PutFileResponse carries the arbitration outcome for one file. When the
// policy is prompt the first response is undecided; a second response with
// the operator's decision follows once put_decision arrives on the control
// channel.
type PutFileResponse struct {
	Decision Decision `json:"decision"`
}

// TransferError records a per-file failure inside an outcome frame.
type TransferError struct {
	Path  string    `json:"path"`
	Error ErrorCode `json:"error"`
}

// TransferOutcome is the trailing frame of a transfer stream. It is the last
// thing on the wire; files are finalised in manifest order before it.
type TransferOutcome struct {
	Outcome      string          `json:"outcome"` // "ok" or "aborted"
	FilesOK      int             `json:"files_ok"`
	FilesSkipped int             `json:"files_skipped"`
	FilesErr     int             `json:"files_err"`
	BytesOK      int64           `json:"bytes_ok"`
	Errors       []TransferError `json:"errors,omitempty"`
}

// ChunkSize is the payload size of one file chunk frame. The chunk header
// length field is 24 bits, so chunks are capped at MaxChunkSize.
const (
	ChunkSize    = 1 << 20
	MaxChunkSize = 1<<24 - 1
)

// WriteChunkHeader writes the 4-byte file chunk header: one byte of file
// index (modulo 256, a cheap stream-alignment check) and a 24-bit big-endian
// chunk length. A file larger than one chunk is sent as consecutive chunks;
// the receiver knows the file is complete when the manifest size is reached.
func WriteChunkHeader(w io.Writer, idx int, length int) error {
	if length < 0 || length > MaxChunkSize {
		return Errorf(ErrProtocol, "chunk length %d out of range", length)
	}
	var hdr [4]byte
	hdr[0] = byte(idx)
	hdr[1] = byte(length >> 16)
	hdr[2] = byte(length >> 8)
	hdr[3] = byte(length)
	_, err := w.Write(hdr[:])
	return err
}

// ReadChunkHeader reads a 4-byte file chunk header and validates the index
// byte against the expected manifest index.
func ReadChunkHeader(r io.Reader, expectIdx int) (int, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, err
	}
	if hdr[0] != byte(expectIdx) {
		return 0, Errorf(ErrProtocol, "chunk for file %d, expected %d", hdr[0], byte(expectIdx))
	}
	length := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
	return length, nil
}

// Rexec stream tags. The rexec channel multiplexes subprocess output toward
// the client as tagged frames: one tag byte, a 4-byte big-endian length,
// then the payload. Tag 3 carries the 4-byte exit code and closes the
// channel. Inbound bytes (client to server) are untagged and become stdin.
const (
	RexecTagStdout byte = 1
	RexecTagStderr byte = 2
	RexecTagExit   byte = 3
)

// WriteRexecFrame writes one tagged output frame.
func WriteRexecFrame(w io.Writer, tag byte, payload []byte) error {
	hdr := [5]byte{tag}
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// WriteRexecExit writes the terminal exit frame.
func WriteRexecExit(w io.Writer, code int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(code))
	return WriteRexecFrame(w, RexecTagExit, buf[:])
}

// ReadRexecFrame reads one tagged frame from the rexec channel.
func ReadRexecFrame(r io.Reader) (tag byte, payload []byte, err error) {
	var hdr [5]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(hdr[1:])
	if length > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read rexec payload: %w", err)
	}
	return hdr[0], payload, nil
}
