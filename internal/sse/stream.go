package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stream is a non-restartable SSE connection. Closure or a transport error is
// terminal; reconnection is the caller's policy, and the bridge's policy is to
// fail the whole session.
type Stream struct {
	resp *http.Response
	dec  *Decoder
}

// Connect opens a streaming GET against url with the supplied headers.
// Custom headers are applied after the defaults so callers can override the
// Accept header if their server demands it. The returned stream is live once
// the response headers have arrived.
func Connect(ctx context.Context, url string, header http.Header, client *http.Client) (*Stream, error) {
	if client == nil {
		client = &http.Client{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for name, values := range header {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sse connect: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		msg := strings.TrimSpace(string(b))
		if msg != "" {
			return nil, fmt.Errorf("sse connect: status %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("sse connect: status %s", resp.Status)
	}
	return &Stream{resp: resp, dec: NewDecoder(resp.Body)}, nil
}

// Next returns the next event from the stream, or io.EOF when the server
// closes the connection.
func (s *Stream) Next() (Event, error) {
	return s.dec.Next()
}

// Close tears down the underlying response body. Safe to call more than once.
func (s *Stream) Close() error {
	return s.resp.Body.Close()
}
