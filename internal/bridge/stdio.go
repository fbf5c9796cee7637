package bridge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// LineReader yields newline-delimited payloads from local standard input.
// Blank lines are skipped; a final line without a terminator is still
// delivered before EOF.
type LineReader struct {
	r   *bufio.Reader
	eof bool
}

// NewLineReader returns a reader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// Next returns the next non-empty line without its terminator, or io.EOF.
func (l *LineReader) Next() ([]byte, error) {
	for {
		if l.eof {
			return nil, io.EOF
		}
		raw, err := l.r.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			l.eof = true
		}
		line := bytes.TrimRight(raw, "\r\n")
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// LineWriter serializes protocol frames onto local standard output, one JSON
// object per line with no embedded newlines. Nothing else is ever written to
// that stream; diagnostics go to stderr.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineWriter returns a writer over w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// WriteLine compacts msg onto a single line and writes it followed by a
// newline. Compaction strips insignificant whitespace (SSE multi-line data
// joins with newlines) without touching field order or values.
func (l *LineWriter) WriteLine(msg []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(msg) + 1)
	if err := json.Compact(&buf, msg); err != nil {
		return err
	}
	buf.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(buf.Bytes())
	return err
}
