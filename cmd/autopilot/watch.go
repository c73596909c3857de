package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/diffplan"
	"github.com/odvcencio/autopilot/pkg/inbox"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/orchestrator"
)

type watchFlags struct {
	dir           string
	repoURL       string
	dryRun        bool
	backend       string
	templatesPath string
	debounce      time.Duration
}

func newWatchCmd(a *app) *cobra.Command {
	f := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process diff plans dropped into a directory",
		Long: `Watches a directory for diff plan files (*.json, *.yaml, *.yml) and runs
each one through the pipeline once it has finished being written. Handled
plans move to processed/ (with a .result.json next to them) or failed/.
Files already in the directory are processed on start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runWatch(ctx, a, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.dir, "dir", "inbox", "directory to watch")
	flags.StringVarP(&f.repoURL, "repo-url", "r", "", "repository URL for every plan (default: repo_url from each plan)")
	flags.BoolVar(&f.dryRun, "dry-run", false, "generate artifacts without publishing")
	flags.StringVar(&f.backend, "vcs", "", "vcs backend: github, gitlab or local (overrides config)")
	flags.StringVar(&f.templatesPath, "templates-path", "", "template library directory (default: embedded)")
	flags.DurationVar(&f.debounce, "debounce", 500*time.Millisecond, "how long a file must be unchanged before it is processed")
	return cmd
}

func runWatch(ctx context.Context, a *app, f *watchFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(a.cfg, a.logger, pipelineOptions{backend: f.backend, templatesPath: f.templatesPath})
	if err != nil {
		return classify(err)
	}
	defer p.Close()

	w := inbox.New(f.dir, inbox.Options{Debounce: f.debounce, ScanExisting: true, Logger: a.logger})
	handler := planHandler(w, p.orch, f.repoURL, f.dryRun, a.logger)
	for _, pattern := range inbox.PlanPatterns {
		w.Subscribe(pattern, handler)
	}

	if err := w.Start(ctx); err != nil {
		return classify(err)
	}
	defer w.Stop()
	w.Wait()
	return nil
}

type processor interface {
	Process(ctx context.Context, plan *diffplan.Plan, repoURL string, dryRun bool) (orchestrator.Outcome, error)
}

// planHandler runs each settled plan file and archives it by result.
func planHandler(w *inbox.Watcher, proc processor, repoURL string, dryRun bool, logger *zap.Logger) inbox.Handler {
	logger = logging.ForCategory(logger, logging.CategoryWorkflow)
	return func(ctx context.Context, change inbox.Change) {
		log := logger.With(zap.String("file", change.Path), zap.String("change", string(change.Type)))

		outcome, err := processFile(ctx, proc, change.Path, repoURL, dryRun)
		if err != nil {
			log.Error("plan failed", zap.Error(err))
			if _, archErr := w.Archive(change.Path, true); archErr != nil {
				log.Warn("archive failed plan", zap.Error(archErr))
			}
			return
		}

		dest, err := w.Archive(change.Path, false)
		if err != nil {
			log.Warn("archive processed plan", zap.Error(err))
			return
		}
		resultPath := strings.TrimSuffix(dest, filepath.Ext(dest)) + ".result.json"
		if err := writeResult(resultPath, outcome); err != nil {
			log.Warn("write plan result", zap.Error(err))
		}
		log.Info("plan handled",
			logging.PlanID(outcome.Plan()),
			zap.String("status", string(outcome.Status())),
			zap.String("result", resultPath),
		)
	}
}

func processFile(ctx context.Context, proc processor, path, repoURL string, dryRun bool) (orchestrator.Outcome, error) {
	plan, err := diffplan.Load(path)
	if err != nil {
		return nil, err
	}
	return proc.Process(ctx, plan, repoURL, dryRun)
}
