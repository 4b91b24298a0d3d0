// Package streaming implements the three composable SSE stream stages
// (spec component C8): passthrough with usage accumulation, the
// anti-truncation continuation loop, and the stop-sequence rewriter.
// All three consume and produce SSE byte streams.
package streaming

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// decodeBody wraps body with a decompressing reader according to
// Content-Encoding, so every stage downstream operates on plain bytes.
// Upstream APIs in this domain commonly compress SSE bodies; an unknown
// or empty encoding passes the body through unchanged.
func decodeBody(contentEncoding string, body io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "":
		return body, nil
	case "gzip":
		return gzip.NewReader(body)
	case "deflate":
		return flate.NewReader(body), nil
	case "br":
		return brotli.NewReader(body), nil
	default:
		return nil, fmt.Errorf("streaming: unsupported content-encoding %q", contentEncoding)
	}
}

// frame is one parsed SSE frame: the optional "event:" line and the
// concatenated "data:" payload, plus the original bytes for verbatim
// forwarding.
type frame struct {
	event string
	data  []byte
	raw   []byte
}

// frameScanner splits an SSE byte stream into frames on the blank-line
// boundary (`\n\n`), the wire delimiter the format uses between events.
type frameScanner struct {
	scanner *bufio.Scanner
}

func newFrameScanner(r io.Reader) *frameScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	scanner.Split(splitSSEFrames)
	return &frameScanner{scanner: scanner}
}

func splitSSEFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		return idx + 2, data[:idx], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s *frameScanner) next() (frame, bool) {
	if !s.scanner.Scan() {
		return frame{}, false
	}
	raw := s.scanner.Bytes()
	f := frame{raw: append([]byte(nil), raw...)}
	var data [][]byte
	for _, line := range bytes.Split(raw, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			f.event = strings.TrimSpace(string(bytes.TrimPrefix(line, []byte("event:"))))
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimPrefix(bytes.TrimPrefix(line, []byte("data:")), []byte(" ")))
		}
	}
	f.data = bytes.Join(data, []byte("\n"))
	return f, true
}

// writeFrame writes a frame back onto the wire in the canonical
// `event: <type>\ndata: <payload>\n\n` shape.
func writeFrame(w io.Writer, event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	_, err := w.Write(buf.Bytes())
	return err
}
