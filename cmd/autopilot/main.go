package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/config"
	"github.com/odvcencio/autopilot/pkg/logging"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// app carries what every subcommand needs once the root pre-run has loaded
// configuration.
type app struct {
	configPath string
	verbose    bool
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	root := newRootCmd(&app{})
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(err))
	}
	os.Exit(exitCodeForError(err))
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "autopilot",
		Short: "Turn instrumentation diff plans into change requests",
		Long: `autopilot reads a Diff Plan produced by an observability scanner, renders
the instrumentation artifacts it calls for, and opens a change request with
them against the scanned repository.

Plans below the confidence threshold are skipped. Use --dry-run to inspect
artifacts and the change-request description without touching the repository.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default: ~/.autopilot/config.yaml, ./.autopilot/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log encoding: json or console (overrides config)")

	root.AddCommand(
		newGenerateCmd(a),
		newRenderCmd(a),
		newValidateCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if strings.TrimSpace(a.configPath) != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return withExitCode(err, exitUsage)
	}
	a.cfg = cfg

	opts := logging.Options{
		Level:   logging.Level(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
	}
	if a.verbose {
		opts.Level = logging.LevelDebug
	}
	if a.logFormat != "" {
		opts.Format = a.logFormat
	}
	logger, err := logging.New(opts)
	if err != nil {
		return withExitCode(fmt.Errorf("failed to initialize logger: %w", err), exitUsage)
	}
	a.logger = logger

	for _, warning := range cfg.ValidationWarnings() {
		logger.Warn("config warning", zap.String("warning", warning))
	}
	return nil
}
