package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-bankrec/cmd/bankrec/cli"
	"github.com/odyssey-erp/odyssey-bankrec/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(open)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "bankrec:", err)
		os.Exit(1)
	}
}

func open(ctx context.Context) (*cli.Runtime, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	svc, err := app.OpenServices(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}

	rt := &cli.Runtime{
		Tx:       svc.Store,
		Importer: svc.Importer,
		Reparser: svc.Reparser,
		Service:  svc.Reconcile,
		Migrate:  svc.Migrate,
	}
	var inspector *asynq.Inspector
	if svc.Queue != nil {
		inspector = asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		rt.Jobs = cli.NewJobsCLI(svc.Queue, inspector)
	}

	release := func() {
		if inspector != nil {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}
		if err := svc.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}
	return rt, release, nil
}
