//go:build !tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

// initTailscale is a no-op unless built with -tags tsnet.
func initTailscale(ctx context.Context, cfg *config.Config, handler http.Handler) func() {
	if cfg.Tailscale.Hostname != "" {
		slog.Info("tailscale configured but not compiled in; rebuild with -tags tsnet")
	}
	return nil
}
