//go:build tsnet

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

// initTailscale serves the gateway handler on a tailnet hostname in
// addition to the regular listener. Returns a cleanup func, or nil when
// no hostname is configured.
func initTailscale(ctx context.Context, cfg *config.Config, handler http.Handler) func() {
	if cfg.Tailscale.Hostname == "" {
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		Dir:       config.ExpandHome(cfg.Tailscale.StateDir),
		AuthKey:   cfg.Tailscale.AuthKey,
		Ephemeral: cfg.Tailscale.Ephemeral,
	}
	// tsnet logs a lot during node registration; keep it at debug.
	srv.Logf = func(format string, args ...any) {
		slog.Debug("tsnet: " + fmt.Sprintf(format, args...))
	}

	var (
		ln  net.Listener
		err error
	)
	if cfg.Tailscale.EnableTLS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		slog.Error("tailscale listener failed", "hostname", cfg.Tailscale.Hostname, "error", err)
		srv.Close()
		return nil
	}

	slog.Info("tailscale listener up",
		"hostname", cfg.Tailscale.Hostname,
		"tls", cfg.Tailscale.EnableTLS,
		"ephemeral", cfg.Tailscale.Ephemeral,
	)

	go func() {
		if serveErr := http.Serve(ln, handler); serveErr != nil {
			slog.Debug("tailscale serve stopped", "error", serveErr)
		}
	}()

	return func() {
		ln.Close()
		srv.Close()
	}
}
