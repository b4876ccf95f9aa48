package transfer

import (
	"net"
	"path/filepath"

	"github.com/easyshare/easyshare/internal/proto"
)

// PromptFunc asks the operator whether an existing file should be
// overwritten during a GET. Returning true overwrites.
type PromptFunc func(entry proto.FileEntry, target string) bool

// UndecidedFunc is invoked when a PUT arbitration comes back undecided:
// the implementation prompts the operator and delivers the verdict through
// the control channel's put_decision RPC.
type UndecidedFunc func(fileID int, entry proto.FileEntry) error

// Receive drives the client side of a GET stream: read the manifest,
// realise every entry under destDir applying the overwrite policy locally,
// and check the server's trailing outcome frame.
//
// Skipped files still arrive on the wire (the sender streams the full
// manifest); their bytes are discarded. The returned outcome carries the
// receiver's accounting.
func Receive(conn net.Conn, destDir string, policy proto.OverwritePolicy, prompt PromptFunc, progress ProgressFunc) (proto.TransferOutcome, error) {
	var outcome proto.TransferOutcome

	var manifest proto.Manifest
	if err := proto.ReadMessage(conn, &manifest); err != nil {
		return outcome, proto.NewError(proto.ErrProtocol, "read manifest")
	}

	outcome.Outcome = "ok"
	for idx, entry := range manifest.Files {
		target := filepath.Join(destDir, filepath.FromSlash(entry.Path))

		switch entry.Kind {
		case proto.KindDirectory:
			if err := makeDir(target, entry); err != nil {
				outcome.FilesErr++
				outcome.Errors = append(outcome.Errors, proto.TransferError{Path: entry.Path, Error: proto.CodeOf(err)})
			}
			continue
		case proto.KindSymlink:
			if err := makeSymlink(target, entry); err != nil {
				outcome.FilesErr++
				outcome.Errors = append(outcome.Errors, proto.TransferError{Path: entry.Path, Error: proto.CodeOf(err)})
			}
			continue
		}

		decision := Arbitrate(policy, target, entry)
		if decision == proto.DecisionUndecided {
			decision = proto.DecisionSkip
			if prompt != nil && prompt(entry, target) {
				decision = proto.DecisionAccept
			}
		}

		if decision == proto.DecisionSkip {
			outcome.FilesSkipped++
			if err := discardFileChunks(conn, idx, entry); err != nil {
				outcome.Outcome = "aborted"
				return outcome, err
			}
			continue
		}

		received, err := recvFileChunks(conn, idx, entry, target, progress)
		outcome.BytesOK += received
		if err != nil {
			outcome.Outcome = "aborted"
			outcome.FilesErr++
			outcome.Errors = append(outcome.Errors, proto.TransferError{Path: entry.Path, Error: proto.CodeOf(err)})
			return outcome, err
		}
		outcome.FilesOK++
	}

	var serverOutcome proto.TransferOutcome
	if err := proto.ReadMessage(conn, &serverOutcome); err != nil {
		outcome.Outcome = "aborted"
		return outcome, proto.NewError(proto.ErrTruncated, "missing outcome frame")
	}
	if serverOutcome.Outcome != "ok" {
		outcome.Outcome = "aborted"
		outcome.Errors = append(outcome.Errors, serverOutcome.Errors...)
		return outcome, proto.NewError(proto.ErrAborted, "sender aborted the transfer")
	}
	return outcome, nil
}

// Send drives the client side of a PUT stream: build the manifest from the
// local paths, honour per-file server arbitration, stream accepted files
// and return the server's authoritative outcome.
func Send(conn net.Conn, paths []string, onUndecided UndecidedFunc, progress ProgressFunc) (proto.TransferOutcome, error) {
	var zero proto.TransferOutcome

	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return zero, proto.Errorf(proto.ErrInvalidArgument, "%q: %v", p, err)
		}
		abs = append(abs, a)
	}
	entries, err := buildManifest("", abs)
	if err != nil {
		return zero, err
	}

	if err := proto.WriteMessage(conn, toManifest(entries)); err != nil {
		return zero, proto.NewError(proto.ErrTransport, err.Error())
	}

	for idx, entry := range entries {
		if entry.Kind != proto.KindFile {
			continue
		}
		if err := proto.WriteMessage(conn, proto.PutFileHeader{Idx: idx}); err != nil {
			return zero, proto.NewError(proto.ErrTransport, err.Error())
		}

		var resp proto.PutFileResponse
		if err := proto.ReadMessage(conn, &resp); err != nil {
			return zero, proto.NewError(proto.ErrProtocol, "read arbitration reply")
		}
		if resp.Decision == proto.DecisionUndecided {
			if onUndecided == nil {
				return zero, proto.NewError(proto.ErrInvalidArgument, "server requires an overwrite decision")
			}
			if err := onUndecided(idx, entry.FileEntry); err != nil {
				return zero, err
			}
			if err := proto.ReadMessage(conn, &resp); err != nil {
				return zero, proto.NewError(proto.ErrProtocol, "read arbitration verdict")
			}
		}
		if resp.Decision == proto.DecisionSkip {
			continue
		}

		if _, err := sendFileChunks(conn, idx, entry.FileEntry, entry.abs, progress); err != nil {
			return zero, err
		}
	}

	// Close the sending direction with the client's accounting; the server
	// replies with the authoritative outcome.
	if err := proto.WriteMessage(conn, proto.TransferOutcome{Outcome: "ok"}); err != nil {
		return zero, proto.NewError(proto.ErrTransport, err.Error())
	}
	var serverOutcome proto.TransferOutcome
	if err := proto.ReadMessage(conn, &serverOutcome); err != nil {
		return zero, proto.NewError(proto.ErrTruncated, "missing outcome frame")
	}
	if serverOutcome.Outcome != "ok" {
		return serverOutcome, proto.NewError(proto.ErrAborted, "receiver aborted the transfer")
	}
	return serverOutcome, nil
}
