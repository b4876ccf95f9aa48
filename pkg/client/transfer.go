package client

import (
	"github.com/easyshare/easyshare/internal/proto"
	"github.com/easyshare/easyshare/pkg/transfer"
)

// Get transfers the named remote paths into destDir. The overwrite policy
// is applied locally; with the prompt policy, prompt is consulted per
// existing file. Empty paths transfer the remote working directory.
func (c *Client) Get(paths []string, destDir string, policy proto.OverwritePolicy, prompt transfer.PromptFunc, progress transfer.ProgressFunc) (proto.TransferOutcome, error) {
	var zero proto.TransferOutcome

	var data proto.TransferData
	err := c.call(proto.MethodGet, proto.GetParams{Paths: paths, Policy: policy}, &data)
	if err != nil {
		return zero, err
	}

	conn, err := c.dialTransfer(data.Port)
	if err != nil {
		return zero, err
	}
	defer conn.Close()

	return transfer.Receive(conn, destDir, policy, prompt, progress)
}

// Put transfers local paths into the remote working directory. The server
// arbitrates overwrites per the policy; undecided arbitrations are
// escalated through prompt and resolved with the put_decision RPC on the
// control channel.
func (c *Client) Put(paths []string, policy proto.OverwritePolicy, prompt transfer.PromptFunc, progress transfer.ProgressFunc) (proto.TransferOutcome, error) {
	var zero proto.TransferOutcome

	var data proto.TransferData
	err := c.call(proto.MethodPut, proto.PutParams{Policy: policy}, &data)
	if err != nil {
		return zero, err
	}

	conn, err := c.dialTransfer(data.Port)
	if err != nil {
		return zero, err
	}
	defer conn.Close()

	onUndecided := func(fileID int, entry proto.FileEntry) error {
		accept := prompt != nil && prompt(entry, entry.Path)
		return c.call(proto.MethodPutDecision, proto.PutDecisionParams{
			TransferID: data.TransferID,
			FileID:     fileID,
			Accept:     accept,
		}, nil)
	}
	return transfer.Send(conn, paths, onUndecided, progress)
}
