// Package artifact turns a validated diff plan and its template context into
// the ordered list of files for a change set.
package artifact

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/diffplan"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/plancontext"
	"github.com/odvcencio/autopilot/pkg/templates"
)

// RunbookPath is where the operational runbook is written.
const RunbookPath = templates.RunbookPath

// Renderer renders a named template directory.
type Renderer interface {
	Render(name string, ctx templates.Context) ([]templates.Rendered, error)
}

// Generator produces artifacts. It is safe for concurrent use if its
// Renderer is.
type Generator struct {
	renderer Renderer
	logger   *zap.Logger
}

// NewGenerator creates a generator that resolves gap templates with renderer.
func NewGenerator(renderer Renderer, logger *zap.Logger) *Generator {
	return &Generator{
		renderer: renderer,
		logger:   logging.ForCategory(logger, logging.CategoryRender),
	}
}

// Generate builds the artifact list in this order: gap template files in
// plan order, patch instructions in plan order, then the runbook, lineage
// spec, data contract and telemetry test when they apply. An always-on
// artifact is omitted when an earlier artifact already targets its path.
//
// A gap whose template cannot be rendered is recorded as failed and does not
// stop generation. The error return is reserved for missing built-ins.
func (g *Generator) Generate(plan *diffplan.Plan, ctx *plancontext.Context) (*Result, error) {
	res := &Result{}
	targeted := make(map[string]bool)
	add := func(a Artifact) {
		res.Artifacts = append(res.Artifacts, a)
		targeted[a.Path] = true
	}

	for _, gap := range plan.Gaps {
		if gap.Template == "" {
			res.Gaps = append(res.Gaps, GapResult{Gap: gap, Status: GapSkipped})
			continue
		}

		files, err := g.renderer.Render(gap.Template, ctx)
		if err != nil {
			reason := err.Error()
			if e, ok := apierrors.As(err); ok {
				reason = e.Message
			}
			g.logger.Warn("failed to render gap template",
				logging.PlanID(ctx.PlanID()),
				zap.String("gap", gap.Type),
				zap.String("template", gap.Template),
				zap.Error(err))
			res.Gaps = append(res.Gaps, GapResult{Gap: gap, Status: GapFailed, Reason: reason})
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to render template %s for gap %s: %s", gap.Template, gap.Type, reason))
			continue
		}

		for _, f := range files {
			add(Artifact{Path: f.Path, Content: f.Content, Action: diffplan.ActionCreate, Template: gap.Template})
		}
		res.Gaps = append(res.Gaps, GapResult{Gap: gap, Status: GapRendered, Files: len(files)})
	}

	for _, patch := range plan.PatchPlan {
		add(Artifact{Path: patch.File, Content: patch.Content, Action: patch.Action})
	}

	builtin := func(path, name string) error {
		if targeted[path] {
			g.logger.Debug("skipping built-in artifact, path already generated", zap.String("path", path), zap.String("template", name))
			return nil
		}
		content, err := templates.RenderBuiltin(name, ctx)
		if err != nil {
			return err
		}
		add(Artifact{Path: path, Content: content, Action: diffplan.ActionCreate, Template: name})
		return nil
	}

	service := ctx.ServiceName()
	if err := builtin(RunbookPath, templates.BuiltinRunbook); err != nil {
		return nil, err
	}
	if plan.HasGap(diffplan.GapMissingLineageSpec) {
		if err := builtin(LineagePath(service), templates.BuiltinLineageSpec); err != nil {
			return nil, err
		}
	}
	if plan.HasGap(diffplan.GapMissingContract) {
		if err := builtin(ContractPath(service), templates.BuiltinContract); err != nil {
			return nil, err
		}
	}

	if plan.HasGap(diffplan.GapMissingOTel, diffplan.GapMissingCorrelation) {
		path, content, err := templates.RenderTelemetryTest(ctx)
		if err != nil {
			return nil, err
		}
		if !targeted[path] {
			add(Artifact{Path: path, Content: content, Action: diffplan.ActionCreate, Template: templates.TelemetryTest})
		}
	}

	return res, nil
}

// LineagePath is where the lineage spec for service is written.
func LineagePath(service string) string {
	return templates.LineagePath(service)
}

// ContractPath is where the data contract for service is written.
func ContractPath(service string) string {
	return templates.ContractPath(service)
}
