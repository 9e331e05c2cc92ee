package mux

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLineBytes bounds a single unterminated line.
const DefaultMaxLineBytes = 64 << 10

// ErrLineTooLong is returned when a partial line outgrows the framer limit.
// The partial line is discarded, and so is the rest of it up to the next
// newline.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Framer splits a byte stream into newline-terminated lines. It keeps the
// trailing partial line until a later chunk completes it.
type Framer struct {
	max        int
	buf        []byte
	discarding bool
}

// NewFramer creates a framer; max <= 0 selects DefaultMaxLineBytes.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	return &Framer{max: max}
}

// Feed appends chunk and returns every complete line, in order, without
// its terminator. A trailing carriage return is dropped as well.
func (f *Framer) Feed(chunk []byte) ([]string, error) {
	if f.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil, nil
		}
		chunk = chunk[i+1:]
		f.discarding = false
	}
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, decode(f.buf[:i]))
		f.buf = f.buf[i+1:]
	}

	if len(f.buf) > f.max {
		n := len(f.buf)
		f.buf = nil
		f.discarding = true
		return lines, fmt.Errorf("%w: %d bytes without newline", ErrLineTooLong, n)
	}
	if len(f.buf) == 0 {
		f.buf = nil
	} else {
		// detach the remainder from the consumed prefix
		f.buf = append([]byte(nil), f.buf...)
	}
	return lines, nil
}

// Flush returns and clears the partial line, if any. The tail of an
// overlong line is never returned.
func (f *Framer) Flush() (string, bool) {
	f.discarding = false
	if len(f.buf) == 0 {
		return "", false
	}
	line := decode(f.buf)
	f.buf = nil
	return line, true
}

// Pending returns the number of buffered bytes.
func (f *Framer) Pending() int { return len(f.buf) }

// Reset discards the partial line.
func (f *Framer) Reset() {
	f.buf = nil
	f.discarding = false
}

func decode(b []byte) string {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
