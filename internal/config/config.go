// Package config holds the bridge configuration. Defaults come from
// environment variables, may be overridden by an optional YAML file, and
// finally by command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by --transport.
const (
	TransportSSE  = "sse"
	TransportHTTP = "http"
)

// Header is one custom header attached to the SSE GET and to every POST.
type Header struct {
	Name  string
	Value string
}

// Config holds configuration for the bridge process.
type Config struct {
	ServerURL      string        `yaml:"server_url"`
	Headers        []string      `yaml:"headers"`
	Transport      string        `yaml:"transport"`
	LogLevel       string        `yaml:"log_level"`
	MetricsAddr    string        `yaml:"metrics_port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	EndpointWait   time.Duration `yaml:"endpoint_wait"`
	QueueLimit     int           `yaml:"queue_limit"`
	ConfigFile     string        `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *Config) BindFlags() {
	c.ConfigFile = getEnv("CONFIG_FILE", "")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.ServerURL = getEnv("SERVER_URL", "")
	c.Transport = getEnv("TRANSPORT", TransportSSE)
	mp := getEnv("METRICS_PORT", "")
	if mp != "" && !strings.Contains(mp, ":") {
		mp = ":" + mp
	}
	c.MetricsAddr = mp
	if v, err := strconv.ParseFloat(getEnv("REQUEST_TIMEOUT", "300"), 64); err == nil {
		c.RequestTimeout = time.Duration(v * float64(time.Second))
	} else {
		c.RequestTimeout = 5 * time.Minute
	}
	c.EndpointWait = 0
	c.QueueLimit = 1024

	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "bridge config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (debug, info, warn, error, fatal, none)")
	flag.StringVar(&c.Transport, "transport", c.Transport, "remote transport: sse or http")
	flag.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "diagnostics listen address or port (disabled when empty; e.g. 127.0.0.1:9090 or 9090)")
	flag.Func("header", "custom header sent to the remote (repeatable), format: 'Name: value'", func(v string) error {
		c.Headers = append(c.Headers, v)
		return nil
	})
	flag.Func("request-timeout", "request timeout in seconds for outbound POSTs", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	flag.DurationVar(&c.EndpointWait, "endpoint-wait", c.EndpointWait, "grace period before defaulting the POST endpoint to the server URL (0 waits for an endpoint event)")
	flag.IntVar(&c.QueueLimit, "queue-limit", c.QueueLimit, "max outbound messages buffered before the endpoint is known")
}

// LoadFile populates the config from a YAML file. Fields already set remain
// unless overwritten by corresponding entries in the file.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// Finalize applies the positional server URL argument and validates the
// resulting configuration. The URL is required.
func (c *Config) Finalize(args []string) error {
	if len(args) > 0 {
		c.ServerURL = args[0]
	}
	if len(args) > 1 {
		return fmt.Errorf("unexpected extra arguments: %v", args[1:])
	}
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server URL is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server URL %q: scheme must be http or https", c.ServerURL)
	}
	switch c.Transport {
	case TransportSSE, TransportHTTP:
	default:
		return fmt.Errorf("invalid transport %q: must be %s or %s", c.Transport, TransportSSE, TransportHTTP)
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 1024
	}
	return nil
}

// ParseHeader parses a raw 'Name: value' header argument. It returns false
// for values without a name or colon.
func ParseHeader(raw string) (Header, bool) {
	name, value, found := strings.Cut(raw, ":")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return Header{}, false
	}
	return Header{Name: name, Value: strings.TrimSpace(value)}, true
}

// ParsedHeaders returns the valid custom headers in declaration order along
// with the raw values that failed to parse.
func (c *Config) ParsedHeaders() ([]Header, []string) {
	var headers []Header
	var invalid []string
	for _, raw := range c.Headers {
		h, ok := ParseHeader(raw)
		if !ok {
			invalid = append(invalid, raw)
			continue
		}
		headers = append(headers, h)
	}
	return headers, invalid
}

// HTTPHeader builds an http.Header from the parsed custom headers.
func HTTPHeader(headers []Header) http.Header {
	out := http.Header{}
	for _, h := range headers {
		out.Add(h.Name, h.Value)
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
