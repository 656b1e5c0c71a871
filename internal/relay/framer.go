// internal/relay/framer.go
package relay

import (
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
	textunicode "golang.org/x/text/encoding/unicode"
)

// StreamFramer splits one inbound chunk into candidate object segments.
//
// A chunk is accepted only when, trimmed, it starts with '{' and ends with
// '}'. It is then cut on every '}' and each non-blank piece gets its '}'
// back. Nothing is buffered between chunks, so an object split across two
// reads is dropped, and an object containing a nested '}' is cut in the
// wrong place. Both are known limitations of the wire format.
type StreamFramer struct {
	decoder *encoding.Decoder
}

// NewStreamFramer creates a framer for one connection
func NewStreamFramer() *StreamFramer {
	return &StreamFramer{
		decoder: textunicode.UTF8.NewDecoder(),
	}
}

// Feed returns the segments found in chunk, in order of appearance.
// Chunks that do not look like objects yield no segments.
func (f *StreamFramer) Feed(chunk []byte) []string {
	text := strings.TrimFunc(f.decode(chunk), isTrimSpace)
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return nil
	}

	pieces := strings.Split(text, "}")
	segments := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimFunc(piece, isTrimSpace) == "" {
			continue
		}
		segments = append(segments, piece+"}")
	}
	return segments
}

// decode turns the chunk into text, replacing invalid UTF-8 with U+FFFD
func (f *StreamFramer) decode(chunk []byte) string {
	decoded, err := f.decoder.Bytes(chunk)
	if err != nil {
		return strings.ToValidUTF8(string(chunk), "\uFFFD")
	}
	return string(decoded)
}

// isTrimSpace matches the whitespace clients pad messages with, including a BOM
func isTrimSpace(r rune) bool {
	if r == '\uFEFF' {
		return true
	}
	return r != '\u0085' && unicode.IsSpace(r)
}
