package bridge

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrQueueFull is returned by Submit when the pre-endpoint buffer overflows.
// Overflow is a fatal session condition: it means the remote never told us
// where to POST.
var ErrQueueFull = errors.New("outbound queue full before endpoint was known")

// ErrGateClosed is returned by Submit after Close.
var ErrGateClosed = errors.New("gate closed")

// Gate holds the single outbound POST target for the session and buffers
// outbound messages submitted before the target is known. Messages are
// released to the sender in arrival order.
//
// Close must only be called by the submitting side, after its last Submit.
type Gate struct {
	base    *url.URL
	pending chan []byte

	mu       sync.Mutex
	endpoint string
	ready    bool
	readyCh  chan struct{}
	closed   bool
}

// NewGate returns a gate for the given SSE base URL with a bounded
// pre-endpoint buffer.
func NewGate(base *url.URL, limit int) *Gate {
	return &Gate{
		base:    base,
		pending: make(chan []byte, limit),
		readyCh: make(chan struct{}),
	}
}

// Submit queues msg for delivery. Before the endpoint is known the call never
// blocks and overflow is an error; once the endpoint is set the call applies
// backpressure instead, since the sender is actively draining.
func (g *Gate) Submit(msg []byte) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGateClosed
	}
	ready := g.ready
	g.mu.Unlock()

	if ready {
		g.pending <- msg
		return nil
	}
	select {
	case g.pending <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// SetEndpoint resolves raw against the base URL, verifies it keeps the base
// origin, and stores it as the POST target. The first call releases buffered
// messages; later calls replace the value.
func (g *Gate) SetEndpoint(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	resolved := g.base.ResolveReference(ref)
	if resolved.Scheme != g.base.Scheme || resolved.Host != g.base.Host {
		return "", fmt.Errorf("endpoint origin mismatch: %s", resolved)
	}
	return g.store(resolved.String()), nil
}

// SetDefaultEndpoint points the gate at the base URL, for servers that never
// emit an endpoint event.
func (g *Gate) SetDefaultEndpoint() string {
	return g.store(g.base.String())
}

func (g *Gate) store(endpoint string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endpoint = endpoint
	if !g.ready {
		g.ready = true
		close(g.readyCh)
	}
	return endpoint
}

// Ready is closed once an endpoint is available.
func (g *Gate) Ready() <-chan struct{} { return g.readyCh }

// ReadyNow reports whether an endpoint is already available.
func (g *Gate) ReadyNow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Endpoint returns the current POST target, or "" before any endpoint is set.
func (g *Gate) Endpoint() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endpoint
}

// Pending is the ordered stream of submitted messages.
func (g *Gate) Pending() <-chan []byte { return g.pending }

// Depth is the number of currently buffered messages.
func (g *Gate) Depth() int { return len(g.pending) }

// Close marks the end of local input. Buffered messages remain readable from
// Pending until drained.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	close(g.pending)
}
