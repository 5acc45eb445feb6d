package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run wires config, logging, and the app together for cmd/ripple. It
// returns an error instead of exiting so deferred cleanup still happens.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogPretty)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	log.Info("ripple.start",
		"http_addr", cfg.HTTPAddr,
		"topics", len(cfg.Topics),
		"page_size", cfg.PageSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
