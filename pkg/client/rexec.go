package client

import (
	"encoding/binary"
	"io"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
)

// Rexec runs a command on the server, mapping the subprocess stdio onto
// the given streams. It blocks until the remote process exits and returns
// its exit code.
func (c *Client) Rexec(cmd string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	var data proto.RexecData
	if err := c.call(proto.MethodRexec, proto.RexecParams{Cmd: cmd}, &data); err != nil {
		return 0, err
	}
	return c.runRexec(data.Port, stdin, stdout, stderr)
}

// Rshell runs the server's default shell.
func (c *Client) Rshell(stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	var data proto.RexecData
	if err := c.call(proto.MethodRshell, nil, &data); err != nil {
		return 0, err
	}
	return c.runRexec(data.Port, stdin, stdout, stderr)
}

func (c *Client) runRexec(port int, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	conn, err := c.dialTransfer(port)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	// Inbound bytes feed the remote stdin; half-close the write side when
	// local stdin drains so the remote process sees EOF.
	go func() {
		if stdin != nil {
			_, _ = io.Copy(conn, stdin)
		}
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()

	for {
		tag, payload, err := proto.ReadRexecFrame(conn)
		if err != nil {
			return 0, proto.Errorf(proto.ErrTransport, "rexec stream: %v", err)
		}
		switch tag {
		case proto.RexecTagStdout:
			if stdout != nil {
				_, _ = stdout.Write(payload)
			}
		case proto.RexecTagStderr:
			if stderr != nil {
				_, _ = stderr.Write(payload)
			}
		case proto.RexecTagExit:
			if len(payload) != 4 {
				return 0, proto.NewError(proto.ErrProtocol, "malformed exit frame")
			}
			return int(int32(binary.BigEndian.Uint32(payload))), nil
		default:
			logger.Debug("Unknown rexec tag skipped", "tag", tag)
		}
	}
}
