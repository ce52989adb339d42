package wire

import (
	"bytes"
	"errors"
	"io"
)

// Sentinel terminates every frame on the wire. Payloads are Fernet tokens
// (URL-safe base64), which can never contain '<', but SplitFrame does not
// rely on that: the first occurrence wins regardless of payload content.
const Sentinel = "<END>"

var sentinelBytes = []byte(Sentinel)

// ErrFrameTooLarge is returned when the accumulation buffer exceeds the
// framer's limit without a sentinel appearing. It indicates a peer that is
// not speaking the protocol.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Framer accumulates bytes read off a TCP connection and splits off
// complete sentinel-terminated frames. Reads are never assumed to align
// with frame boundaries: a single Read may deliver part of a frame, a full
// frame, or several frames, and Framer handles all three.
type Framer struct {
	r       io.Reader
	buf     []byte
	pending [][]byte
	maxSize int
	chunk   []byte
}

// NewFramer wraps r. maxSize bounds how many sentinel-free bytes may
// accumulate before the stream is declared broken; 0 means 1 MiB.
func NewFramer(r io.Reader, maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	return &Framer{
		r:       r,
		maxSize: maxSize,
		chunk:   make([]byte, 4096),
	}
}

// ReadFrame returns the next complete frame with the sentinel stripped.
// It blocks on the underlying reader until a full frame is buffered.
// io.EOF is returned when the peer closes with no partial frame pending;
// a partial frame at close yields io.ErrUnexpectedEOF.
func (f *Framer) ReadFrame() ([]byte, error) {
	for {
		if len(f.pending) > 0 {
			frame := f.pending[0]
			f.pending = f.pending[1:]
			return frame, nil
		}
		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.buf = append(f.buf, f.chunk[:n]...)
			f.split()
			if len(f.pending) > 0 {
				continue
			}
			if len(f.buf) > f.maxSize {
				return nil, ErrFrameTooLarge
			}
		}
		if err != nil {
			if len(f.pending) > 0 {
				continue
			}
			if err == io.EOF && len(f.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// split moves every completed frame out of the accumulation buffer.
func (f *Framer) split() {
	for {
		i := bytes.Index(f.buf, sentinelBytes)
		if i < 0 {
			return
		}
		frame := make([]byte, i)
		copy(frame, f.buf[:i])
		f.pending = append(f.pending, frame)
		f.buf = f.buf[i+len(sentinelBytes):]
	}
}

// Buffered reports whether a partial frame is sitting in the buffer.
// The read loop uses it to keep waiting across poll timeouts once bytes
// of the next frame have arrived.
func (f *Framer) Buffered() bool {
	return len(f.buf) > 0 || len(f.pending) > 0
}

// WriteFrame appends the sentinel and writes the whole frame to w.
// net.Conn.Write already loops until all bytes are accepted or the socket
// errors, so a single call satisfies the full-write guarantee.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 0, len(payload)+len(sentinelBytes))
	frame = append(frame, payload...)
	frame = append(frame, sentinelBytes...)
	_, err := w.Write(frame)
	return err
}
