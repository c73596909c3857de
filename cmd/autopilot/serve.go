package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/api"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr          string
		backend       string
		templatesPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept diff plans over HTTP",
		Long: `Starts the HTTP intake:

  POST /v1/plans?dry_run=true&repo_url=...   run a plan (JSON or YAML body)
  GET  /v1/runs?limit=20                     recent runs (needs history enabled)
  GET  /healthz                              liveness
  GET  /metrics                              Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, a, addr, backend, templatesPath)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr from config)")
	cmd.Flags().StringVar(&backend, "vcs", "", "vcs backend: github, gitlab or local (overrides config)")
	cmd.Flags().StringVar(&templatesPath, "templates-path", "", "template library directory (default: embedded)")
	return cmd
}

func runServe(ctx context.Context, a *app, addr, backend, templatesPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(a.cfg, a.logger, pipelineOptions{backend: backend, templatesPath: templatesPath})
	if err != nil {
		return classify(err)
	}
	defer p.Close()

	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	cfg := api.ServerConfig{
		Address:      addr,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		Processor:    p.orch,
		Version:      version,
		Logger:       a.logger,
	}
	if p.ledger != nil {
		cfg.History = p.ledger
	}
	server := api.NewServer(cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return withExitCode(err, exitFailure)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("api server shutdown", zap.Error(err))
	}
	return <-errCh
}
