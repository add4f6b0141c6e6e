package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"qgate/internal/platform/config"
	"qgate/internal/platform/logger"
)

// main loads configuration, wires the gate and runs it until SIGINT or
// SIGTERM. Component wiring lives in wire.go.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gate exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.DevSigningKey() {
		log.Warn("using the development operator signing key")
	}

	app, err := wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close(log)

	log.Info("starting qgate",
		"addr", cfg.Server.Addr,
		"ledger_backend", cfg.Ledger.Backend,
		"listener", cfg.Listener.Enabled,
		"driver_pairs", len(cfg.Transfer.Pairs),
	)
	return app.gate.Run(ctx)
}
