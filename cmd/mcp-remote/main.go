// Command mcp-remote bridges a local MCP client speaking newline-delimited
// JSON-RPC on stdin/stdout to a remote MCP server speaking SSE + HTTP POST.
// stdout carries protocol frames only; all diagnostics go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/elphinsnow/mcp-remote-go/internal/bridge"
	"github.com/elphinsnow/mcp-remote-go/internal/config"
	"github.com/elphinsnow/mcp-remote-go/internal/logx"
	"github.com/elphinsnow/mcp-remote-go/internal/metrics"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.Config
	cfg.BindFlags()
	flag.Usage = usage
	flag.Parse()
	if *showVersion {
		fmt.Printf("mcp-remote version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	if err := cfg.Finalize(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-remote: %v\n\n", err)
		usage()
		os.Exit(2)
	}
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := bridge.Run(ctx, cfg); err != nil {
		logx.Log.Fatal().Err(err).Msg("bridge stopped")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: mcp-remote [flags] <server-url>\n\nFlags:\n")
	flag.PrintDefaults()
}
