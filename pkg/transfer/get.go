package transfer

import (
	"net"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
)

// serveGet streams the prepared manifest to the client: manifest frame,
// per-file chunk frames in manifest order, trailing outcome frame.
func (t *Transfer) serveGet(conn net.Conn) {
	manifest := toManifest(t.entries)
	if err := proto.WriteMessage(conn, manifest); err != nil {
		logger.Warn("GET manifest write failed", "transfer_id", t.ID, "error", err)
		t.abort(proto.TransferError{Error: proto.ErrTransport})
		return
	}

	outcome := proto.TransferOutcome{Outcome: "ok"}
	for idx, entry := range t.entries {
		if entry.Kind != proto.KindFile {
			continue
		}
		sent, err := sendFileChunks(conn, idx, entry.FileEntry, entry.abs, nil)
		outcome.BytesOK += sent
		if err != nil {
			logger.Warn("GET stream failed", "transfer_id", t.ID,
				"path", entry.Path, "error", err)
			outcome.FilesErr++
			outcome.Errors = append(outcome.Errors,
				proto.TransferError{Path: entry.Path, Error: proto.CodeOf(err)})
			// A partially sent file cannot be recovered mid-stream; the
			// manifest contract is broken, so the transfer aborts.
			t.abort(outcome.Errors...)
			t.writeOutcomeLocked(conn)
			return
		}
		outcome.FilesOK++
	}

	t.finalise(outcome)
	if err := proto.WriteMessage(conn, t.Outcome()); err != nil {
		logger.Debug("GET outcome write failed", "transfer_id", t.ID, "error", err)
	}
	logger.Info("GET transfer finalised", "transfer_id", t.ID,
		"files", outcome.FilesOK, "bytes", outcome.BytesOK)
}

// writeOutcomeLocked best-effort writes the aborted outcome frame.
func (t *Transfer) writeOutcomeLocked(conn net.Conn) {
	_ = proto.WriteMessage(conn, t.Outcome())
}
