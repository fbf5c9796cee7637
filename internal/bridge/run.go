package bridge

import (
	"context"

	"github.com/elphinsnow/mcp-remote-go/internal/config"
	"github.com/elphinsnow/mcp-remote-go/internal/logx"
	"github.com/elphinsnow/mcp-remote-go/internal/metrics"
)

// Run starts the bridge session and blocks until local EOF, a fatal error, or
// context cancellation. It owns the optional diagnostics server.
func Run(ctx context.Context, cfg config.Config) error {
	p, err := New(cfg)
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		metrics.RegisterDefault()
		addr, err := metrics.StartServer(ctx, cfg.MetricsAddr, p.Status)
		if err != nil {
			return err
		}
		logx.Log.Info().Str("addr", addr).Msg("diagnostics server started")
	}
	return p.Run(ctx)
}
