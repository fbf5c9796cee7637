package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elphinsnow/mcp-remote-go/internal/config"
)

func testConfig(serverURL string) config.Config {
	return config.Config{
		ServerURL:      serverURL,
		Transport:      config.TransportSSE,
		LogLevel:       "error",
		RequestTimeout: 5 * time.Second,
		QueueLimit:     8,
	}
}

func newTestProxy(t *testing.T, cfg config.Config) (*Proxy, *io.PipeWriter, *bytes.Buffer) {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stdinR, stdinW := io.Pipe()
	var out bytes.Buffer
	p.stdin = stdinR
	p.stdout = &out
	return p, stdinW, &out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sseHeaders(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	f := w.(http.Flusher)
	f.Flush()
	return f
}

func TestProxyBuffersUntilEndpointThenPostsInOrder(t *testing.T) {
	posts := make(chan string, 8)
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		f := sseHeaders(w)
		<-release
		_, _ = io.WriteString(w, "event: endpoint\ndata: /messages?sid=abc\n\n")
		f.Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "sid=abc" {
			t.Errorf("unexpected query: %q", r.URL.RawQuery)
		}
		b, _ := io.ReadAll(r.Body)
		posts <- string(b)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, stdinW, out := newTestProxy(t, testConfig(srv.URL+"/sse"))
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	for _, line := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	} {
		if _, err := io.WriteString(stdinW, line+"\n"); err != nil {
			t.Fatalf("stdin write: %v", err)
		}
	}
	waitFor(t, "messages buffered", func() bool { return p.gate.Depth() == 2 })
	close(release)

	if got := <-posts; !strings.Contains(got, `"id":1`) {
		t.Fatalf("first post out of order: %q", got)
	}
	if got := <-posts; !strings.Contains(got, `"id":2`) {
		t.Fatalf("second post out of order: %q", got)
	}

	// Pass-through once the endpoint is known.
	if _, err := io.WriteString(stdinW, `{"jsonrpc":"2.0","id":3,"method":"ping"}`+"\n"); err != nil {
		t.Fatalf("stdin write: %v", err)
	}
	if got := <-posts; !strings.Contains(got, `"id":3`) {
		t.Fatalf("third post out of order: %q", got)
	}

	_ = stdinW.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("expected clean exit on local EOF, got %v", err)
	}
	if p.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", p.State())
	}
	if len(posts) != 0 {
		t.Fatalf("message duplicated: %d extra posts", len(posts))
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should have reached stdout: %q", out.String())
	}
}

func TestProxyForwardsMessagesToStdoutAndFailsOnStreamClose(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"result":{}}`
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		f := sseHeaders(w)
		_, _ = io.WriteString(w, "event: endpoint\ndata: /messages\n\n")
		_, _ = io.WriteString(w, "event: ping\ndata: keepalive\n\n")
		_, _ = io.WriteString(w, "data: "+body+"\n\n")
		f.Flush()
		// Handler returns: the stream closes mid-session.
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, stdinW, out := newTestProxy(t, testConfig(srv.URL+"/sse"))
	defer func() { _ = stdinW.Close() }()

	err := p.Run(context.Background())
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if p.State() != StateError {
		t.Fatalf("expected error state, got %s", p.State())
	}
	if got := out.String(); got != body+"\n" {
		t.Fatalf("stdout should carry exactly the message line, got %q", got)
	}
}

func TestProxySkipsMalformedLocalLines(t *testing.T) {
	posts := make(chan string, 4)
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		f := sseHeaders(w)
		_, _ = io.WriteString(w, "event: endpoint\ndata: /messages\n\n")
		f.Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		posts <- string(b)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, stdinW, out := newTestProxy(t, testConfig(srv.URL+"/sse"))
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	_, _ = io.WriteString(stdinW, "this is not json\n")
	_, _ = io.WriteString(stdinW, "[1,2,3]\n")
	_, _ = io.WriteString(stdinW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	if got := <-posts; !strings.Contains(got, `"method":"ping"`) {
		t.Fatalf("unexpected post: %q", got)
	}

	_ = stdinW.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("malformed lines must not end the session: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("malformed lines must not be forwarded: %d extra posts", len(posts))
	}
	if out.Len() != 0 {
		t.Fatalf("malformed lines must never reach stdout: %q", out.String())
	}
}

func TestProxyPostFailureIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		f := sseHeaders(w)
		_, _ = io.WriteString(w, "event: endpoint\ndata: /messages\n\n")
		f.Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, stdinW, _ := newTestProxy(t, testConfig(srv.URL+"/sse"))
	defer func() { _ = stdinW.Close() }()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	_, _ = io.WriteString(stdinW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	err := <-errCh
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected fatal 500 error, got %v", err)
	}
	if p.State() != StateError {
		t.Fatalf("expected error state, got %s", p.State())
	}
}

func TestProxyQueueOverflowIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		// Misbehaving remote: never emits an endpoint event.
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL + "/sse")
	cfg.QueueLimit = 2
	p, stdinW, _ := newTestProxy(t, cfg)
	defer func() { _ = stdinW.Close() }()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	for i := 0; i < 3; i++ {
		_, _ = io.WriteString(stdinW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	}
	if err := <-errCh; !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestProxyEndpointWaitDefaultsToBaseURL(t *testing.T) {
	posts := make(chan string, 4)
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			b, _ := io.ReadAll(r.Body)
			posts <- string(b)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		sseHeaders(w)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL + "/sse")
	cfg.EndpointWait = 50 * time.Millisecond
	p, stdinW, _ := newTestProxy(t, cfg)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	_, _ = io.WriteString(stdinW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	if got := <-posts; !strings.Contains(got, `"id":1`) {
		t.Fatalf("unexpected post: %q", got)
	}

	_ = stdinW.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestProxyLocalEOFBeforeEndpointDiscardsQueue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, stdinW, _ := newTestProxy(t, testConfig(srv.URL+"/sse"))
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	_, _ = io.WriteString(stdinW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	waitFor(t, "message buffered", func() bool { return p.gate.Depth() == 1 })
	_ = stdinW.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestProxyConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p, stdinW, _ := newTestProxy(t, testConfig(srv.URL+"/sse"))
	defer func() { _ = stdinW.Close() }()

	err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected connect failure, got %v", err)
	}
	if p.State() != StateError {
		t.Fatalf("expected error state, got %s", p.State())
	}
}

func TestProxyCancellationIsClean(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, stdinW, _ := newTestProxy(t, testConfig(srv.URL+"/sse"))
	defer func() { _ = stdinW.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	waitFor(t, "running state", func() bool { return p.State() == StateRunning })
	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("cancellation should exit cleanly, got %v", err)
	}
}

func TestProxyHTTPTransportCancellationIsClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/mcp")
	cfg.Transport = config.TransportHTTP
	p, stdinW, _ := newTestProxy(t, cfg)
	defer func() { _ = stdinW.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	waitFor(t, "running state", func() bool { return p.State() == StateRunning })

	// Cancel while stdin is idle; the session must not wait for another line.
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("cancellation should exit cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on cancellation")
	}
}

func TestProxyHTTPTransportRoundTrip(t *testing.T) {
	posts := make(chan string, 4)
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		posts <- string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL + "/mcp")
	cfg.Transport = config.TransportHTTP
	p, stdinW, out := newTestProxy(t, cfg)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	_, _ = io.WriteString(stdinW, `{"jsonrpc":"2.0","id":1,"method":"a"}`+"\n")
	_, _ = io.WriteString(stdinW, `{"jsonrpc":"2.0","id":2,"method":"b"}`+"\n")
	_ = stdinW.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if got := <-posts; !strings.Contains(got, `"id":1`) {
		t.Fatalf("outbound order lost: %q", got)
	}
	if got := <-posts; !strings.Contains(got, `"id":2`) {
		t.Fatalf("outbound order lost: %q", got)
	}
	if got := strings.Count(out.String(), "\n"); got != 2 {
		t.Fatalf("expected 2 response lines, got %d: %q", got, out.String())
	}
}

func TestProxyStatus(t *testing.T) {
	p, _, _ := newTestProxy(t, testConfig("https://example.com/sse"))
	st, ok := p.Status().(map[string]any)
	if !ok {
		t.Fatalf("unexpected status type: %T", p.Status())
	}
	if st["state"] != "starting" || st["transport"] != config.TransportSSE {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st["session_id"] == "" {
		t.Fatal("session id missing")
	}
}
