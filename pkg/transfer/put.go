package transfer

import (
	"net"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
)

// maxManifestEntries bounds a PUT manifest.
const maxManifestEntries = 1 << 20

// servePut receives a client-sent tree: manifest frame, then per-file
// arbitration header, decision reply and chunk frames, in manifest order.
// The server's trailing outcome frame is authoritative.
func (t *Transfer) servePut(conn net.Conn) {
	var manifest proto.Manifest
	if err := proto.ReadMessage(conn, &manifest); err != nil {
		logger.Warn("PUT manifest read failed", "transfer_id", t.ID, "error", err)
		t.abort(proto.TransferError{Error: proto.ErrProtocol})
		return
	}
	if len(manifest.Files) > maxManifestEntries {
		t.abort(proto.TransferError{Error: proto.ErrProtocol})
		return
	}

	outcome := proto.TransferOutcome{Outcome: "ok"}
	for idx, entry := range manifest.Files {
		if err := t.receiveEntry(conn, idx, entry, &outcome); err != nil {
			logger.Warn("PUT stream failed", "transfer_id", t.ID,
				"path", entry.Path, "error", err)
			outcome.FilesErr++
			outcome.Errors = append(outcome.Errors,
				proto.TransferError{Path: entry.Path, Error: proto.CodeOf(err)})
			t.abort(outcome.Errors...)
			t.writeOutcomeLocked(conn)
			return
		}
	}

	// The client closes its accounting with an outcome frame; it is read
	// for protocol symmetry but the server's own counters are what get
	// reported back.
	var clientOutcome proto.TransferOutcome
	if err := proto.ReadMessage(conn, &clientOutcome); err != nil {
		t.abort(proto.TransferError{Error: proto.ErrProtocol})
		t.writeOutcomeLocked(conn)
		return
	}

	t.finalise(outcome)
	if err := proto.WriteMessage(conn, t.Outcome()); err != nil {
		logger.Debug("PUT outcome write failed", "transfer_id", t.ID, "error", err)
	}
	logger.Info("PUT transfer finalised", "transfer_id", t.ID,
		"files", outcome.FilesOK, "skipped", outcome.FilesSkipped, "bytes", outcome.BytesOK)
}

// receiveEntry realises one manifest entry on the server filesystem.
func (t *Transfer) receiveEntry(conn net.Conn, idx int, entry proto.FileEntry, outcome *proto.TransferOutcome) error {
	target, err := t.resolver.Resolve(t.cwd, entry.Path)
	if err != nil {
		return err
	}

	switch entry.Kind {
	case proto.KindDirectory:
		return makeDir(target, entry)
	case proto.KindSymlink:
		return makeSymlink(target, entry)
	case proto.KindFile:
		// Handled below.
	default:
		return proto.Errorf(proto.ErrInvalidArgument, "unknown entry kind %q", entry.Kind)
	}

	var hdr proto.PutFileHeader
	if err := proto.ReadMessage(conn, &hdr); err != nil {
		return proto.NewError(proto.ErrProtocol, "read file header")
	}
	if hdr.Idx != idx {
		return proto.Errorf(proto.ErrProtocol, "file header idx %d, expected %d", hdr.Idx, idx)
	}

	decision := Arbitrate(t.policy, target, entry)
	if decision == proto.DecisionUndecided {
		// Surface the prompt through the control channel and park until
		// put_decision arrives. The slot is registered before the client
		// learns the arbitration is pending.
		ch := t.registerDecision(idx)
		if err := proto.WriteMessage(conn, proto.PutFileResponse{Decision: proto.DecisionUndecided}); err != nil {
			return proto.NewError(proto.ErrTransport, err.Error())
		}
		accept, err := t.awaitDecision(idx, ch)
		if err != nil {
			return err
		}
		decision = proto.DecisionSkip
		if accept {
			decision = proto.DecisionAccept
		}
	}
	if err := proto.WriteMessage(conn, proto.PutFileResponse{Decision: decision}); err != nil {
		return proto.NewError(proto.ErrTransport, err.Error())
	}

	if decision == proto.DecisionSkip {
		outcome.FilesSkipped++
		return nil
	}

	received, err := recvFileChunks(conn, idx, entry, target, nil)
	outcome.BytesOK += received
	if err != nil {
		return err
	}
	outcome.FilesOK++
	return nil
}
