package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

const DefaultMaxBufferSize = 1 << 20

type DecoderConfig struct {
	// MaxBufferSize bounds the bytes retained between Append calls.
	MaxBufferSize int
	// Now stamps binary readings. Defaults to time.Now.
	Now func() time.Time
	// OnMalformed receives every dropped frame. The slice is a copy. Optional.
	OnMalformed func(err error, dropped []byte)
}

// FrameDecoder reassembles readings from an arbitrarily chunked byte stream.
// It owns its buffer and must be used by a single producer: one decoder per
// connection (or per MQTT topic), never shared.
type FrameDecoder struct {
	cfg DecoderConfig
	buf []byte
	off int

	// progress on the JSON object at the head of buf, kept across Append
	// calls so trickled input is scanned once
	scan  objectScanner
	tried int
}

func NewFrameDecoder(cfg DecoderConfig) *FrameDecoder {
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FrameDecoder{cfg: cfg}
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (d *FrameDecoder) Buffered() int { return len(d.buf) - d.off }

// Append adds chunk to the stream and returns every reading it completes.
// Malformed frames are dropped and reported to OnMalformed; the only error
// returned is ErrProtocolViolation, after which the stream should be closed.
func (d *FrameDecoder) Append(chunk []byte) ([]messages.Reading, error) {
	d.buf = append(d.buf, chunk...)

	var out []messages.Reading
	for d.off < len(d.buf) {
		// whitespace separates JSON objects; anywhere else it is a tag byte
		i := d.off
		for i < len(d.buf) && isSpace(d.buf[i]) {
			i++
		}
		if i == len(d.buf) {
			break
		}
		if i > d.off && d.buf[i] == '{' {
			d.advance(i - d.off)
		}

		r, n, err := d.next(d.buf[d.off:])
		if n == 0 {
			break // incomplete, wait for more bytes
		}
		if err != nil {
			if d.cfg.OnMalformed != nil {
				d.cfg.OnMalformed(err, bytes.Clone(d.buf[d.off:d.off+n]))
			}
		} else {
			out = append(out, r)
		}
		d.advance(n)
	}

	if d.off > 0 {
		// keep only the unconsumed tail, at the front of the buffer
		d.buf = append(d.buf[:0], d.buf[d.off:]...)
		d.off = 0
	}

	if len(d.buf) > d.cfg.MaxBufferSize {
		size := len(d.buf)
		d.buf = nil
		d.advance(0)
		return out, fmt.Errorf("%w: %d bytes buffered without a complete frame (limit %d)",
			ErrProtocolViolation, size, d.cfg.MaxBufferSize)
	}
	return out, nil
}

// advance moves the head past n bytes and forgets the scan of the old head.
func (d *FrameDecoder) advance(n int) {
	d.off += n
	d.scan = objectScanner{}
	d.tried = 0
}

// next decodes the frame at the head of b. It returns the number of bytes
// the frame spans; zero means the frame is not complete yet.
func (d *FrameDecoder) next(b []byte) (messages.Reading, int, error) {
	if b[0] == '{' {
		return d.nextJSON(b)
	}

	if len(b) < headerSize {
		return messages.Reading{}, 0, nil
	}
	tag := b[0]
	switch tag {
	case TagCamera:
		// camera payloads have no length: whatever is buffered is the frame
		r, err := ParseBinary(tag, b[1:headerSize], b[headerSize:], d.cfg.Now())
		return r, len(b), err
	case TagMotion:
		if len(b) < motionFrameLen {
			return messages.Reading{}, 0, nil
		}
		r, err := ParseBinary(tag, b[1:headerSize], b[headerSize:motionFrameLen], d.cfg.Now())
		return r, motionFrameLen, err
	default:
		// the id belongs to the bad frame, never to the next one
		return messages.Reading{}, headerSize - 1 + resync(b[headerSize-1:]),
			fmt.Errorf("%w: tag 0x%02x", ErrUnknownMessageType, tag)
	}
}

func (d *FrameDecoder) nextJSON(b []byte) (messages.Reading, int, error) {
	n := d.scan.end(b)
	if n == 0 {
		// not closed yet; check for a syntax error at doubling lengths only
		if len(b) < 2*d.tried {
			return messages.Reading{}, 0, nil
		}
		d.tried = len(b)
		var raw json.RawMessage
		err := json.NewDecoder(bytes.NewReader(b)).Decode(&raw)
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			return messages.Reading{}, 0, nil
		}
		return messages.Reading{}, resync(b), notJSON(err)
	}

	var r messages.Reading
	if err := json.Unmarshal(b[:n], &r); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return messages.Reading{}, resync(b), notJSON(err)
		}
		// well formed JSON that does not fit the reading schema
		return messages.Reading{}, n, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := r.Validate(); err != nil {
		return messages.Reading{}, n, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return r, n, nil
}

// notJSON reports a '{' that does not open a JSON object. As a binary frame
// it would carry an unknown tag.
func notJSON(err error) error {
	return fmt.Errorf("%w: tag 0x7b: %v", ErrUnknownMessageType, err)
}

// resync returns the length of the malformed span at the head of b: every
// byte up to the next one that could start a frame.
func resync(b []byte) int {
	for i := 1; i < len(b); i++ {
		switch b[i] {
		case '{', TagCamera, TagMotion:
			return i
		}
	}
	return len(b)
}

// objectScanner finds the end of a JSON object fed to it in growing
// prefixes. It tracks nesting and strings only; the closed object is
// validated by the JSON decoder.
type objectScanner struct {
	pos     int
	depth   int
	inStr   bool
	escaped bool
}

// end resumes scanning b where the previous call stopped and returns the
// length of the object at b[0], or 0 when it is not closed yet.
func (s *objectScanner) end(b []byte) int {
	for ; s.pos < len(b); s.pos++ {
		c := b[s.pos]
		switch {
		case s.inStr:
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == '"':
				s.inStr = false
			}
		case c == '"':
			s.inStr = true
		case c == '{' || c == '[':
			s.depth++
		case c == '}' || c == ']':
			s.depth--
			if s.depth <= 0 {
				s.pos++
				return s.pos
			}
		}
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
