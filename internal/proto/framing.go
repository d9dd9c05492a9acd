// Package proto defines the wire protocol shared by winmuxd (the daemon)
// and winmux (the client): a length-prefixed frame envelope (this file) and
// a set of JSON request/event records (messages.go) carried inside it.
package proto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLength is the largest payload write_frame/read_frame will accept,
// per §3 ("Frame"). A declared length above this is a protocol error, not a
// resource-exhaustion crash.
const MaxFrameLength = 64 << 20 // 64 MiB

// ErrInvalidFrame is returned when a frame's declared length exceeds
// MaxFrameLength. The length is decoded as an unsigned 32-bit value, so it
// cannot be negative.
var ErrInvalidFrame = errors.New("proto: invalid frame length")

// ErrEndOfStream signals a clean disconnect: zero bytes were read before any
// header byte arrived. Callers should treat this as the normal end of a
// connection, not a fatal error.
var ErrEndOfStream = errors.New("proto: end of stream")

// WriteFrame serializes msg to JSON, prefixes it with its 4-byte
// little-endian length, and writes both to w as two separate Write calls.
// It does not flush w.
func WriteFrame(w io.Writer, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("proto: marshal frame: %w", err)
	}
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(payload))
	}

	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, uint32(len(payload)))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("proto: write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("proto: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and unmarshals its JSON
// payload into out (which should be a pointer, typically *Request or *Event
// — see messages.go). A clean zero-byte read before any header byte is reported
// as ErrEndOfStream; any other short read is a fatal framing error.
func ReadFrame(r io.Reader, out any) error {
	hdr := make([]byte, 4)
	n, err := fillExact(r, hdr)
	if n == 0 && err != nil {
		return ErrEndOfStream
	}
	if err != nil {
		return fmt.Errorf("proto: short frame header (%d/4 bytes): %w", n, err)
	}

	length := binary.LittleEndian.Uint32(hdr)
	if length > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidFrame, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := fillExact(r, payload); err != nil {
			return fmt.Errorf("proto: short frame payload (wanted %d bytes): %w", length, err)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("proto: decode frame payload: %w", err)
	}
	return nil
}

// fillExact loops reading from r until buf is full or end-of-stream is
// observed. It returns the number of bytes actually filled; a zero-byte
// return together with a non-nil error means a clean end-of-stream with no
// header bytes consumed at all (§4.1, "fill_exact semantics").
func fillExact(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(buf) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}
