// Package wire implements the length-prefixed JSON framing used on the
// worker's Unix-domain socket: a 4-byte big-endian length followed by that
// many bytes of UTF-8 JSON. One frame in, one frame out, per connection.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a corrupt or hostile peer can't make
// a reader allocate unbounded memory from a forged length prefix.
const MaxFrameSize = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned when a peer's declared length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// ErrClosed is returned by ReadFrame when the peer closed the connection
// before sending a complete frame (a zero-byte read where more was expected).
var ErrClosed = errors.New("wire: connection closed before frame completed")

// WriteFrame marshals v to JSON and writes it as one length-prefixed frame.
// The length and body are written in a single Write call where the
// underlying writer supports it (net.Conn does), to minimize partial-write
// windows.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)

	_, err = w.Write(buf)
	if err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and unmarshals its body
// into v. It loops on partial reads; reaching io.EOF before either the
// length or the body is fully read is reported as
// ErrClosed, matching the peer-closed-mid-frame contract callers need to
// distinguish from a protocol error.
func ReadFrame(r io.Reader, v any) error {
	body, err := ReadFrameBytes(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("wire: unmarshal frame: %w", err)
	}
	return nil
}

// ReadFrameBytes reads one length-prefixed frame and returns its raw body,
// for callers that need to defer JSON decoding (e.g. to branch on a
// discriminator field first).
func ReadFrameBytes(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if err := readFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if err := readFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// readFull reads exactly len(buf) bytes, treating a premature EOF (including
// one on the very first read) as ErrClosed rather than a generic I/O error.
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrClosed
	}
	return err
}
