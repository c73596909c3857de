package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/artifact"
	"github.com/odvcencio/autopilot/pkg/describe"
	"github.com/odvcencio/autopilot/pkg/diffplan"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/orchestrator"
	"github.com/odvcencio/autopilot/pkg/sink"
	"github.com/odvcencio/autopilot/pkg/telemetry"
)

const (
	descriptionFile = "PR_DESCRIPTION.md"
	previewFile     = "PR_DESCRIPTION.html"
)

type generateFlags struct {
	planPath      string
	repoURL       string
	dryRun        bool
	backend       string
	templatesPath string
	resultPath    string
	outputDir     string
	htmlPreview   bool
	diffAgainst   string
	metricsOut    string
	trace         bool
}

func newGenerateCmd(a *app) *cobra.Command {
	f := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run a diff plan through the pipeline",
		Long: `Validates the diff plan, gates it on confidence, renders the instrumentation
artifacts and publishes them as a change request.

With --dry-run nothing is published: the artifact manifest and description
are printed, and artifacts are written to --output-dir (or the configured S3
bucket) when one is set.`,
		Example: `  autopilot generate -d diff_plan.json -r https://github.com/acme/orders-enricher.git
  autopilot generate -d diff_plan.json --dry-run --output-dir out --html-preview
  autopilot generate -d diff_plan.json --dry-run --diff-against ../orders-enricher`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), a, f, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.planPath, "diff-plan", "d", "", "path to the diff plan (JSON or YAML)")
	flags.StringVarP(&f.repoURL, "repo-url", "r", "", "repository URL (default: repo_url from the plan)")
	flags.BoolVar(&f.dryRun, "dry-run", false, "generate artifacts without publishing")
	flags.StringVar(&f.backend, "vcs", "", "vcs backend: github, gitlab or local (overrides config)")
	flags.StringVar(&f.templatesPath, "templates-path", "", "template library directory (default: embedded)")
	flags.StringVarP(&f.resultPath, "output", "o", "", "write the outcome as JSON to this file")
	flags.StringVar(&f.outputDir, "output-dir", "", "write dry-run artifacts under this directory")
	flags.BoolVar(&f.htmlPreview, "html-preview", false, "also write the description rendered as HTML (dry run)")
	flags.StringVar(&f.diffAgainst, "diff-against", "", "print unified diffs of dry-run artifacts against this checkout")
	flags.StringVar(&f.metricsOut, "metrics-out", "", "write Prometheus metrics in text format to this file")
	flags.BoolVar(&f.trace, "trace", false, "print pipeline spans to stderr")
	_ = cmd.MarkFlagRequired("diff-plan")
	return cmd
}

func runGenerate(ctx context.Context, a *app, f *generateFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan, err := diffplan.Load(f.planPath)
	if err != nil {
		return classify(err)
	}

	if f.trace || a.cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(a.cfg.Telemetry.ServiceName, version, os.Stderr)
		if err != nil {
			return classify(err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	p, err := newPipeline(a.cfg, a.logger, pipelineOptions{
		backend:        f.backend,
		templatesPath:  f.templatesPath,
		requireGateway: !f.dryRun,
	})
	if err != nil {
		return classify(err)
	}
	defer p.Close()

	outcome, err := p.orch.Process(ctx, plan, f.repoURL, f.dryRun)
	if metricsErr := writeMetrics(a, f.metricsOut); metricsErr != nil {
		a.logger.Warn("metrics export failed", zap.Error(metricsErr))
	}
	if err != nil {
		return classify(err)
	}

	printSummary(out, outcome)

	if dry, ok := outcome.(*orchestrator.DryRun); ok {
		if err := exportDryRun(ctx, a, f, plan, dry, out); err != nil {
			return classify(err)
		}
	}

	if f.resultPath != "" {
		if err := writeResult(f.resultPath, outcome); err != nil {
			return classify(err)
		}
		fmt.Fprintf(out, "Result written to %s\n", f.resultPath)
	}
	return nil
}

func exportDryRun(ctx context.Context, a *app, f *generateFlags, plan *diffplan.Plan, dry *orchestrator.DryRun, out io.Writer) error {
	if f.diffAgainst != "" {
		diffs, err := artifact.DiffAgainst(os.DirFS(f.diffAgainst), dry.Artifacts)
		if err != nil {
			return err
		}
		fmt.Fprint(out, artifact.JoinPatches(diffs))
	}

	dest, err := newSink(a.cfg, f.outputDir)
	if err != nil {
		return err
	}
	if dest == nil {
		if f.htmlPreview {
			return apierrors.New(apierrors.ErrCodeInvalidInput, "--html-preview needs somewhere to write").
				WithRemediation("pass --output-dir or configure artifacts.s3")
		}
		return nil
	}

	runID := runIDFor(plan)
	if err := sink.WriteAll(ctx, dest, runID, dry.Artifacts, sink.DefaultConcurrency); err != nil {
		return err
	}
	if err := dest.Put(ctx, runID, descriptionFile, []byte(dry.Description)); err != nil {
		return err
	}
	if f.htmlPreview {
		html, err := describe.RenderHTML(dry.Description)
		if err != nil {
			return err
		}
		if err := dest.Put(ctx, runID, previewFile, []byte(html)); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Artifacts written to %s\n", dest.Location(runID))
	return nil
}

// runIDFor names the sink directory for a run: the plan id when present.
func runIDFor(plan *diffplan.Plan) string {
	id := strings.TrimSpace(plan.DiffPlanID)
	if id == "" {
		return ulid.Make().String()
	}
	return strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(id)
}

func writeMetrics(a *app, path string) error {
	if path == "" {
		path = a.cfg.Telemetry.MetricsTextfile
	}
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return telemetry.WriteTextfile(path, nil)
}

func writeResult(path string, outcome orchestrator.Outcome) error {
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeInternal, "encode result")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "create result directory")
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "write result").WithContext("path", path)
	}
	return nil
}

func printSummary(w io.Writer, outcome orchestrator.Outcome) {
	switch o := outcome.(type) {
	case *orchestrator.Skipped:
		fmt.Fprintf(w, "Skipped %s: %s\n", o.PlanID, o.Reason)
	case *orchestrator.DryRun:
		fmt.Fprintf(w, "Dry run for %s: %d artifacts\n", o.PlanID, len(o.Manifest))
		for _, entry := range o.Manifest {
			fmt.Fprintf(w, "  %-6s %s\n", entry.Action, entry.Path)
		}
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(o.Description, "\n"))
	case *orchestrator.Published:
		fmt.Fprintf(w, "Opened change request #%d for %s\n", o.Number, o.PlanID)
		fmt.Fprintf(w, "  url:    %s\n", o.URL)
		fmt.Fprintf(w, "  branch: %s\n", o.Branch)
		fmt.Fprintf(w, "  files:  %d\n", o.FilesChanged)
		fmt.Fprintf(w, "  gaps:   %s\n", strings.Join(o.GapsAddressed, ", "))
	case *orchestrator.Unpublished:
		fmt.Fprintf(w, "Generated %d artifacts for %s: %s\n", o.ArtifactCount, o.PlanID, o.Message)
	}
	for _, warning := range orchestrator.Warnings(outcome) {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}
