package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elphinsnow/mcp-remote-go/internal/metrics"
)

// Sender performs HTTP POSTs of outbound JSON-RPC payloads. Any 2xx status is
// success and the response body is discarded: the actual reply arrives
// asynchronously over the SSE stream. There is no retry.
type Sender struct {
	client *http.Client
	header http.Header
}

// NewSender returns a sender using the given client and session headers.
func NewSender(client *http.Client, header http.Header) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sender{client: client, header: header}
}

// Send posts body to endpoint with the session headers and a JSON content
// type. A transport failure or non-2xx status is returned as an error.
func (s *Sender) Send(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	applyHeader(req, s.header)

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.RecordPostDuration(time.Since(start))
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(b))
		if msg != "" {
			return fmt.Errorf("post failed: status %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("post failed: status %s", resp.Status)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// applyHeader overlays custom session headers, replacing any defaults with
// the same name.
func applyHeader(req *http.Request, header http.Header) {
	for name, values := range header {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
}
