package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elphinsnow/mcp-remote-go/internal/config"
	"github.com/elphinsnow/mcp-remote-go/internal/logx"
	"github.com/elphinsnow/mcp-remote-go/internal/mcpwire"
	"github.com/elphinsnow/mcp-remote-go/internal/metrics"
	"github.com/elphinsnow/mcp-remote-go/internal/sse"
)

// ErrStreamClosed reports that the remote closed the SSE stream. The bridge
// assumes a single SSE connection for the lifetime of the process, so this is
// always fatal.
var ErrStreamClosed = errors.New("sse stream closed by remote")

// Proxy wires one local STDIO pair to one remote MCP endpoint. One proxy is
// one session; it is not restartable.
type Proxy struct {
	cfg       config.Config
	baseURL   *url.URL
	header    http.Header
	sessionID string

	stdin  io.Reader
	stdout io.Writer

	sseClient  *http.Client
	postClient *http.Client

	gate    *Gate
	state   atomic.Int32
	started time.Time
	log     zerolog.Logger
}

// New validates cfg and builds a session. Invalid --header values are logged
// and ignored, matching the CLI contract.
func New(cfg config.Config) (*Proxy, error) {
	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", cfg.ServerURL, err)
	}
	headers, invalid := cfg.ParsedHeaders()
	for _, raw := range invalid {
		logx.Log.Warn().Str("header", raw).Msg("ignoring invalid --header")
	}

	id := uuid.NewString()[:8]
	p := &Proxy{
		cfg:       cfg,
		baseURL:   base,
		header:    config.HTTPHeader(headers),
		sessionID: id,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		// The SSE connection must stay open indefinitely; only POSTs get the
		// request timeout.
		sseClient:  &http.Client{},
		postClient: &http.Client{Timeout: cfg.RequestTimeout},
		started:    time.Now(),
		log:        logx.Log.With().Str("session", id).Logger(),
	}
	if cfg.Transport == config.TransportSSE {
		p.gate = NewGate(base, cfg.QueueLimit)
	}
	return p, nil
}

// State returns the current lifecycle state.
func (p *Proxy) State() State { return State(p.state.Load()) }

func (p *Proxy) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("session state")
	}
}

// Status reports the session for the diagnostics endpoint.
func (p *Proxy) Status() any {
	st := map[string]any{
		"state":          p.State().String(),
		"session_id":     p.sessionID,
		"transport":      p.cfg.Transport,
		"server_url":     p.cfg.ServerURL,
		"uptime_seconds": int64(time.Since(p.started).Seconds()),
	}
	if p.gate != nil {
		if ep := p.gate.Endpoint(); ep != "" {
			st["endpoint"] = ep
		}
		st["queued"] = p.gate.Depth()
	}
	return st
}

// Run executes the session until either side ends it. A clean local EOF (or
// context cancellation from a signal) returns nil; every fatal condition
// returns an error.
func (p *Proxy) Run(ctx context.Context) error {
	p.setState(StateStarting)
	p.log.Info().Str("url", p.cfg.ServerURL).Str("transport", p.cfg.Transport).Msg("starting bridge")

	var err error
	switch p.cfg.Transport {
	case config.TransportHTTP:
		err = p.runHTTP(ctx)
	default:
		err = p.runSSE(ctx)
	}
	if err != nil && errors.Is(err, context.Canceled) {
		p.setState(StateClosed)
		p.log.Info().Msg("bridge interrupted; shutting down")
		return nil
	}
	if err != nil {
		p.setState(StateError)
		return err
	}
	p.setState(StateClosed)
	p.log.Info().Msg("bridge stopped")
	return nil
}

type loopResult struct {
	who string
	err error
}

func (p *Proxy) runSSE(ctx context.Context) error {
	p.setState(StateConnecting)
	stream, err := sse.Connect(ctx, p.cfg.ServerURL, p.header, p.sseClient)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()
	p.setState(StateRunning)
	p.log.Info().Msg("sse stream connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := NewLineWriter(p.stdout)
	sender := NewSender(p.postClient, p.header)

	results := make(chan loopResult, 3)
	go func() { results <- loopResult{"sse", p.sseLoop(ctx, stream, writer)} }()
	go func() { results <- loopResult{"stdin", p.stdinLoop()} }()
	go func() { results <- loopResult{"sender", p.senderLoop(ctx, sender)} }()

	// First decisive result wins; the stdin goroutine cannot be unblocked and
	// is abandoned to process exit when the remote side fails first.
	closing := false
	for {
		r := <-results
		switch {
		case r.who == "stdin" && r.err == nil:
			p.setState(StateClosing)
			closing = true
			if !p.gate.ReadyNow() && p.cfg.EndpointWait <= 0 {
				if n := p.gate.Depth(); n > 0 {
					p.log.Warn().Int("queued", n).Msg("local input closed before endpoint was known; discarding queued messages")
				}
				cancel()
				return nil
			}
			// Wait for the sender to drain buffered messages.
		case r.who == "stdin":
			cancel()
			return r.err
		case r.who == "sender":
			cancel()
			return r.err
		case r.who == "sse":
			if closing {
				// Remote teardown during a graceful close is not an error;
				// keep waiting for the sender.
				continue
			}
			cancel()
			return r.err
		}
	}
}

// sseLoop consumes the remote event stream: endpoint events update the gate,
// message events go to stdout, everything else is logged and dropped.
func (p *Proxy) sseLoop(ctx context.Context, stream *sse.Stream, writer *LineWriter) error {
	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrStreamClosed
			}
			return fmt.Errorf("sse read: %w", err)
		}
		switch ev.Name {
		case "endpoint":
			ep, err := p.gate.SetEndpoint(string(ev.Data))
			if err != nil {
				return err
			}
			p.log.Info().Str("endpoint", ep).Msg("received endpoint")
		case sse.DefaultEventName:
			if !mcpwire.ValidateEnvelope(ev.Data) {
				p.log.Warn().Msg("non-JSON-RPC sse data; ignoring")
				metrics.RecordDropped(metrics.ReasonBadSSEData)
				continue
			}
			if err := writer.WriteLine(ev.Data); err != nil {
				return fmt.Errorf("stdout write: %w", err)
			}
			metrics.RecordForwarded(metrics.DirectionInbound)
		default:
			p.log.Debug().Str("event", ev.Name).Msg("ignoring sse event")
			metrics.RecordDropped(metrics.ReasonUnknownEvent)
		}
	}
}

// stdinLoop reads local lines into the gate until EOF. Lines that are not
// JSON objects are logged and skipped; they never abort the session.
func (p *Proxy) stdinLoop() error {
	defer p.gate.Close()
	reader := NewLineReader(p.stdin)
	for {
		line, err := reader.Next()
		if err == io.EOF {
			p.log.Debug().Msg("local input closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("stdin read: %w", err)
		}
		if !mcpwire.IsObject(line) {
			p.log.Warn().Msg("invalid JSON from stdin; ignoring")
			metrics.RecordDropped(metrics.ReasonBadLocalLine)
			continue
		}
		if err := p.gate.Submit(line); err != nil {
			return err
		}
		if !p.gate.ReadyNow() {
			metrics.SetQueueDepth(p.gate.Depth())
		}
	}
}

// senderLoop waits for the endpoint, then drains the gate in order. Each
// message is POSTed exactly once; any failure ends the session.
func (p *Proxy) senderLoop(ctx context.Context, sender *Sender) error {
	if p.cfg.EndpointWait > 0 {
		timer := time.NewTimer(p.cfg.EndpointWait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.gate.Ready():
		case <-timer.C:
			ep := p.gate.SetDefaultEndpoint()
			p.log.Warn().Str("endpoint", ep).Msg("no endpoint event; defaulting POST endpoint to server URL")
		}
	} else {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.gate.Ready():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.gate.Pending():
			if !ok {
				return nil
			}
			metrics.SetQueueDepth(p.gate.Depth())
			if err := sender.Send(ctx, p.gate.Endpoint(), msg); err != nil {
				return err
			}
			metrics.RecordForwarded(metrics.DirectionOutbound)
		}
	}
}

// runHTTP is the streamable HTTP transport mode: one POST per local line,
// since responses ride on the POST itself rather than a separate stream.
// Lines arrive over a channel so cancellation interrupts an idle session;
// the feeding goroutine is abandoned to process exit, same as in SSE mode.
func (p *Proxy) runHTTP(ctx context.Context) error {
	p.setState(StateRunning)
	writer := NewLineWriter(p.stdout)
	sender := NewHTTPSender(p.postClient, p.header, p.cfg.ServerURL, writer)

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		reader := NewLineReader(p.stdin)
		for {
			line, err := reader.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err == io.EOF {
				p.setState(StateClosing)
				p.log.Debug().Msg("local input closed")
				return nil
			}
			return fmt.Errorf("stdin read: %w", err)
		case line := <-lines:
			if !mcpwire.IsObject(line) {
				p.log.Warn().Msg("invalid JSON from stdin; ignoring")
				metrics.RecordDropped(metrics.ReasonBadLocalLine)
				continue
			}
			if err := sender.Send(ctx, line); err != nil {
				return err
			}
			metrics.RecordForwarded(metrics.DirectionOutbound)
		}
	}
}
