// Package proto defines the easyshare wire protocol: the length-prefixed
// JSON framing shared by the control and transfer channels, the RPC request
// and response envelopes, the server/sharing descriptors exchanged during
// discovery, and the transfer stream frames.
//
// A frame is a 4-byte big-endian length L followed by L bytes of UTF-8 JSON.
// The framing layer is oblivious to TLS: when SSL is enabled the stream is
// wrapped before the first frame is written.
package proto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame payload. Frames beyond this are a
// protocol violation and the connection carrying them is dropped.
const MaxFrameSize = 4 << 20

// ErrFrameTooLarge is returned when a frame header announces a payload
// exceeding MaxFrameSize.
var ErrFrameTooLarge = NewError(ErrProtocol, "frame exceeds maximum size")

// WriteFrame writes a length-prefixed payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed payload from r.
//
// EOF on the frame header is returned directly (not wrapped) so callers can
// detect a clean peer disconnect.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// WriteMessage marshals v to JSON and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame and unmarshals it into v.
func ReadMessage(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return NewError(ErrProtocol, fmt.Sprintf("malformed frame: %v", err))
	}
	return nil
}
