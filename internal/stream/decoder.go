// Package stream decodes the assistant's incrementally-delivered response
// body: an optional leading JSON header followed by raw text.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"unicode/utf8"
)

// Paragraph cut window defaults. A first-paragraph notification fires only
// when the cut point falls strictly inside (MinCut, MaxCut).
const (
	DefaultMinCut = 100
	DefaultMaxCut = 400
)

// Header is the structured packet the stream may begin with.
type Header struct {
	Model string `json:"model"`
}

// Decoder accumulates chunks into a growing text buffer. Multi-byte
// characters split across chunk boundaries are held back until complete.
//
// Header extraction is a heuristic, not a framing guarantee: the first `}`
// in the buffer is assumed to terminate the header, so a brace inside early
// content can defeat the parse. The payload then simply stays part of the
// text.
type Decoder struct {
	// OnHeader is invoked at most once, when the leading header parses.
	OnHeader func(Header)
	// OnText receives the full accumulated text after every chunk.
	OnText func(string)
	// OnFirstParagraph is invoked at most once, after the header, when a
	// paragraph boundary lands inside the cut window.
	OnFirstParagraph func(string)

	// MinCut and MaxCut override the paragraph cut window; zero means the
	// default.
	MinCut int
	MaxCut int

	pending       []byte // bytes of a trailing incomplete rune
	text          []byte
	headerDone    bool
	headerParsed  bool
	paragraphSent bool
}

// Feed appends one chunk and runs header extraction, paragraph detection and
// text publication.
func (d *Decoder) Feed(chunk []byte) {
	d.pending = append(d.pending, chunk...)
	cut := completePrefix(d.pending)
	d.text = append(d.text, d.pending[:cut]...)
	d.pending = append(d.pending[:0], d.pending[cut:]...)

	d.extractHeader()
	d.detectFirstParagraph()

	if d.OnText != nil {
		d.OnText(string(d.text))
	}
}

// Run consumes r chunk by chunk until EOF or ctx cancellation. On
// cancellation the text already published stays as-is.
func (d *Decoder) Run(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Text returns the accumulated text so far.
func (d *Decoder) Text() string {
	return string(d.text)
}

func (d *Decoder) extractHeader() {
	if d.headerDone || len(d.text) == 0 {
		return
	}
	if d.text[0] != '{' {
		// No leading brace: this stream carries no header.
		d.headerDone = true
		return
	}
	end := bytes.IndexByte(d.text, '}')
	if end <= 0 {
		return // closing brace not arrived yet, retry on next chunk
	}
	var h Header
	if err := json.Unmarshal(d.text[:end+1], &h); err != nil {
		return // retried on next chunk; see package note
	}
	d.text = append(d.text[:0], d.text[end+1:]...)
	d.headerDone = true
	d.headerParsed = true
	if d.OnHeader != nil {
		d.OnHeader(h)
	}
}

func (d *Decoder) detectFirstParagraph() {
	if !d.headerParsed || d.paragraphSent || d.OnFirstParagraph == nil {
		return
	}
	cut := bytes.LastIndexByte(d.text, '\n')
	if cut < 0 {
		cut = bytes.LastIndex(d.text, []byte(". "))
	}
	minCut, maxCut := d.MinCut, d.MaxCut
	if minCut == 0 {
		minCut = DefaultMinCut
	}
	if maxCut == 0 {
		maxCut = DefaultMaxCut
	}
	if cut > minCut && cut < maxCut {
		d.paragraphSent = true
		d.OnFirstParagraph(string(d.text[:cut]))
	}
}

// completePrefix returns the length of the longest prefix of b that ends on
// a rune boundary. At most utf8.UTFMax-1 trailing bytes are held back.
func completePrefix(b []byte) int {
	n := len(b)
	for i := n - 1; i >= 0 && i > n-utf8.UTFMax; i-- {
		c := b[i]
		if c&0xC0 == 0x80 {
			continue // continuation byte, keep scanning for the lead
		}
		if size := runeSize(c); size > n-i {
			return i
		}
		return n
	}
	return n
}

func runeSize(lead byte) int {
	switch {
	case lead < 0x80:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1 // invalid lead byte passes through as-is
	}
}
