package stream

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LineReassembler turns arbitrary byte chunks into complete lines. A rune
// split across chunks is held back until its remaining bytes arrive.
type LineReassembler struct {
	dec     *encoding.Decoder
	pending []byte // undecoded bytes, at most one partial rune
	buf     strings.Builder
	scratch [4096]byte
}

// NewLineReassembler returns a reassembler for UTF-8 input.
func NewLineReassembler() *LineReassembler {
	return &LineReassembler{dec: unicode.UTF8.NewDecoder()}
}

// Feed appends p and returns every line completed by it, without the
// terminating "\n" (and "\r" for CRLF input).
func (r *LineReassembler) Feed(p []byte) []string {
	r.pending = append(r.pending, p...)
	r.decode(false)
	return r.split()
}

// Flush decodes any trailing bytes and returns the remaining buffer as a
// final line if it is not blank. The reassembler is empty afterwards.
func (r *LineReassembler) Flush() (string, bool) {
	r.decode(true)
	rest := strings.TrimSuffix(r.buf.String(), "\r")
	r.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return "", false
	}
	return rest, true
}

// Reset discards all buffered state.
func (r *LineReassembler) Reset() {
	r.dec.Reset()
	r.pending = r.pending[:0]
	r.buf.Reset()
}

func (r *LineReassembler) decode(atEOF bool) {
	for len(r.pending) > 0 {
		nDst, nSrc, err := r.dec.Transform(r.scratch[:], r.pending, atEOF)
		r.buf.Write(r.scratch[:nDst])
		r.pending = append(r.pending[:0], r.pending[nSrc:]...)
		if errors.Is(err, transform.ErrShortDst) {
			continue
		}
		// nil or ErrShortSrc: everything decodable has been consumed.
		return
	}
}

func (r *LineReassembler) split() []string {
	text := r.buf.String()
	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 {
		return nil
	}
	lines := strings.Split(text[:idx], "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	r.buf.Reset()
	r.buf.WriteString(text[idx+1:])
	return lines
}
