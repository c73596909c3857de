package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/plancontext"
	"github.com/odvcencio/autopilot/pkg/sink"
)

type renderFlags struct {
	template      string
	contextPath   string
	outputDir     string
	templatesPath string
	list          bool
}

func newRenderCmd(a *app) *cobra.Command {
	f := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one template with an explicit context",
		Long: `Renders a single template against a context file instead of a diff plan.
The context is JSON with snake_case keys (service_name, namespace,
input_topic, owner_team, language, ...); service_name is required.

Without --output-dir the rendered files are printed to stdout.`,
		Example: `  autopilot render --template kafka-consumer-otel-java --context ctx.json
  autopilot render --list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), a, f, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.template, "template", "t", "", "template name, e.g. kafka-consumer-otel-java")
	flags.StringVarP(&f.contextPath, "context", "c", "", "path to the template context JSON")
	flags.StringVar(&f.outputDir, "output-dir", "", "write rendered files under this directory")
	flags.StringVar(&f.templatesPath, "templates-path", "", "template library directory (default: embedded)")
	flags.BoolVar(&f.list, "list", false, "list available template names and exit")
	return cmd
}

func runRender(ctx context.Context, a *app, f *renderFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := newRenderer(a.cfg, f.templatesPath, a.logger)
	if err != nil {
		return classify(err)
	}

	if f.list {
		names, err := store.List()
		if err != nil {
			return classify(err)
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	if f.template == "" || f.contextPath == "" {
		return withExitCode(apierrors.New(apierrors.ErrCodeInvalidInput, "--template and --context are required"), exitUsage)
	}
	data, err := os.ReadFile(f.contextPath)
	if err != nil {
		return withExitCode(apierrors.Wrap(err, apierrors.ErrCodeInvalidInput, "read template context").
			WithContext("path", f.contextPath), exitUsage)
	}
	tctx, err := plancontext.Parse(data)
	if err != nil {
		return classify(err)
	}

	rendered, err := store.Render(f.template, tctx)
	if err != nil {
		return classify(err)
	}

	if f.outputDir == "" {
		for _, r := range rendered {
			fmt.Fprintf(out, "==> %s <==\n%s\n", r.Path, r.Content)
		}
		return nil
	}
	dest := sink.FS{Root: f.outputDir}
	for _, r := range rendered {
		if err := dest.Put(ctx, "", r.Path, []byte(r.Content)); err != nil {
			return classify(err)
		}
		fmt.Fprintf(out, "wrote %s\n", r.Path)
	}
	return nil
}
