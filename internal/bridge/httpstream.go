package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elphinsnow/mcp-remote-go/internal/logx"
	"github.com/elphinsnow/mcp-remote-go/internal/mcpwire"
	"github.com/elphinsnow/mcp-remote-go/internal/metrics"
	"github.com/elphinsnow/mcp-remote-go/internal/sse"
)

// HTTPSender implements the streamable HTTP transport mode: each local
// message is POSTed to the server URL and any JSON-RPC objects in the
// response body are forwarded to local stdout. Servers reply with a single
// JSON object, a JSON array, NDJSON lines, or SSE-framed message events.
type HTTPSender struct {
	client *http.Client
	header http.Header
	url    string
	out    *LineWriter
}

// NewHTTPSender returns a sender posting to url and writing responses to out.
func NewHTTPSender(client *http.Client, header http.Header, url string, out *LineWriter) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{client: client, header: header, url: url, out: out}
}

// Send posts body and forwards the response. A transport failure or non-2xx
// status is returned as an error; there is no retry.
func (h *HTTPSender) Send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, application/x-ndjson, application/jsonl, text/event-stream")
	applyHeader(req, h.header)

	start := time.Now()
	resp, err := h.client.Do(req)
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
	return h.drainResponse(resp)
}

// drainResponse forwards every JSON-RPC object in the response body.
func (h *HTTPSender) drainResponse(resp *http.Response) error {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") {
		dec := sse.NewDecoder(resp.Body)
		for {
			ev, err := dec.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("response stream: %w", err)
			}
			if ev.Name != sse.DefaultEventName {
				continue
			}
			if err := h.forward(ev.Data); err != nil {
				return err
			}
		}
	}

	r := bufio.NewReader(resp.Body)
	for {
		raw, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("response read: %w", err)
		}
		line := bytes.TrimSpace(raw)
		if len(line) > 0 {
			if ferr := h.forwardChunk(line); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

// forwardChunk handles one JSON payload, expanding arrays element-wise.
func (h *HTTPSender) forwardChunk(payload []byte) error {
	if payload[0] == '[' {
		var items []json.RawMessage
		if json.Unmarshal(payload, &items) != nil {
			logx.Log.Debug().Msg("non-JSON response chunk; ignoring")
			metrics.RecordDropped(metrics.ReasonBadSSEData)
			return nil
		}
		for _, item := range items {
			if err := h.forward(item); err != nil {
				return err
			}
		}
		return nil
	}
	return h.forward(payload)
}

func (h *HTTPSender) forward(payload []byte) error {
	if !mcpwire.ValidateEnvelope(payload) {
		logx.Log.Debug().Msg("non-JSON-RPC response payload; ignoring")
		metrics.RecordDropped(metrics.ReasonBadSSEData)
		return nil
	}
	if err := h.out.WriteLine(payload); err != nil {
		return fmt.Errorf("stdout write: %w", err)
	}
	metrics.RecordForwarded(metrics.DirectionInbound)
	return nil
}
