package transfer

import (
	"io/fs"
	"os"

	"github.com/easyshare/easyshare/internal/proto"
)

// Arbitrate applies an overwrite policy to one incoming file. It returns
// accept when the target does not exist; otherwise the policy decides.
// The prompt policy returns undecided, which the caller escalates to the
// operator.
func Arbitrate(policy proto.OverwritePolicy, target string, incoming proto.FileEntry) proto.Decision {
	fi, err := os.Lstat(target)
	if err != nil {
		return proto.DecisionAccept
	}
	return arbitrateExisting(policy, fi, incoming)
}

func arbitrateExisting(policy proto.OverwritePolicy, existing fs.FileInfo, incoming proto.FileEntry) proto.Decision {
	switch policy {
	case proto.PolicyYes:
		return proto.DecisionAccept
	case proto.PolicyNo:
		return proto.DecisionSkip
	case proto.PolicyNewer:
		if incoming.Mtime > existing.ModTime().UnixNano() {
			return proto.DecisionAccept
		}
		return proto.DecisionSkip
	case proto.PolicyDifferentSize:
		if incoming.Size != existing.Size() {
			return proto.DecisionAccept
		}
		return proto.DecisionSkip
	default: // prompt
		return proto.DecisionUndecided
	}
}
