// Package describe writes the human-facing text of a change request: the
// description body, commit message, title and labels.
package describe

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/odvcencio/autopilot/pkg/artifact"
	"github.com/odvcencio/autopilot/pkg/diffplan"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/plancontext"
)

// DefaultVersion is stamped into the provenance footer.
const DefaultVersion = "v1.0"

// Synthesizer renders change-request descriptions.
type Synthesizer struct {
	// Version appears in the provenance footer. Empty uses DefaultVersion.
	Version string
}

// Synthesize renders the description with the default version.
func Synthesize(plan *diffplan.Plan, artifacts []artifact.Artifact, ctx *plancontext.Context) string {
	return Synthesizer{}.Synthesize(plan, artifacts, ctx)
}

// Synthesize renders the fixed-layout markdown description. Artifacts and
// gaps are listed in the order given.
func (s Synthesizer) Synthesize(plan *diffplan.Plan, artifacts []artifact.Artifact, ctx *plancontext.Context) string {
	version := s.Version
	if version == "" {
		version = DefaultVersion
	}

	changes := make([]string, 0, len(artifacts))
	files := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		changes = append(changes, fmt.Sprintf("- `%s` (%s)", a.Path, a.Action))
		files = append(files, fmt.Sprintf("| `%s` | %s | %s |", a.Path, a.Action, a.TemplateLabel()))
	}

	gaps := make([]string, 0, len(plan.Gaps))
	for _, g := range plan.Gaps {
		gaps = append(gaps, fmt.Sprintf("- [%s] %s: %s", g.Priority, g.Type, g.Description))
	}

	scanned := plan.ScanTimestamp
	if scanned == "" {
		scanned = "N/A"
	}

	var b strings.Builder
	b.WriteString("## Autopilot: Observability Instrumentation\n\n")
	b.WriteString("This PR was generated by the Instrumentation Autopilot to add observability\n")
	b.WriteString("instrumentation to this repository based on Scout Agent analysis.\n\n")

	b.WriteString("### Summary\n")
	fmt.Fprintf(&b, "- **Archetypes Detected**: %s\n", strings.Join(ctx.Archetypes(), ", "))
	fmt.Fprintf(&b, "- **Confidence Score**: %s\n", ctx.ConfidencePercent())
	fmt.Fprintf(&b, "- **Diff Plan ID**: %s\n\n", ctx.PlanID())

	b.WriteString("### Changes\n")
	b.WriteString(strings.Join(changes, "\n"))
	b.WriteString("\n\n")

	b.WriteString("### Gaps Addressed\n")
	b.WriteString(strings.Join(gaps, "\n"))
	b.WriteString("\n\n")

	b.WriteString("### Files Modified\n")
	b.WriteString("| File | Action | Template |\n")
	b.WriteString("|------|--------|----------|\n")
	b.WriteString(strings.Join(files, "\n"))
	b.WriteString("\n\n")

	b.WriteString("### Verification Checklist\n")
	b.WriteString("- [ ] Code review approved by domain expert\n")
	b.WriteString("- [ ] Unit tests passing\n")
	b.WriteString("- [ ] Lineage spec reviewed for accuracy\n")
	b.WriteString("- [ ] Contract SLOs appropriate for data tier\n")
	b.WriteString("- [ ] RUNBOOK.md reviewed for operational accuracy\n\n")

	b.WriteString("### Next Steps\n")
	b.WriteString("After merge, the **Telemetry Validator** will automatically verify signals in staging.\n")
	b.WriteString("Gate 1 checks will run as part of this PR's CI pipeline.\n\n")

	b.WriteString("### Need Help?\n")
	b.WriteString("- [Observability Runbook](./RUNBOOK.md)\n")
	b.WriteString("- [Instrumentation Autopilot Docs](https://docs.internal/autopilot)\n")
	b.WriteString("- Contact: #observability-support\n\n")

	b.WriteString("---\n")
	fmt.Fprintf(&b, "*Generated by Instrumentation Autopilot %s*\n", version)
	fmt.Fprintf(&b, "*Scout Agent Scan: %s*\n", scanned)
	fmt.Fprintf(&b, "*PR Author: %s*\n", ctx.Timestamp())

	return b.String()
}

// CommitMessage is the message for the single commit carrying the artifacts.
func CommitMessage(plan *diffplan.Plan) string {
	id := plan.DiffPlanID
	if id == "" {
		id = "N/A"
	}

	var b strings.Builder
	b.WriteString("feat(observability): Add instrumentation via Autopilot\n\n")
	b.WriteString("Addresses gaps detected by Scout Agent:\n")
	for _, g := range plan.Gaps {
		fmt.Fprintf(&b, "- %s\n", g.Type)
	}
	fmt.Fprintf(&b, "\nDiff Plan ID: %s\n", id)
	fmt.Fprintf(&b, "Confidence: %s\n", plancontext.FormatPercent(plan.ConfidenceValue()))
	return b.String()
}

// Title is the change-request title naming the first two archetypes.
func Title(plan *diffplan.Plan) string {
	return fmt.Sprintf("feat(observability): Add %s instrumentation", strings.Join(plan.LeadArchetypes(2), ", "))
}

// Labels appends an archetype:{name} label for each of the first two
// archetypes to base.
func Labels(base []string, plan *diffplan.Plan) []string {
	out := append([]string{}, base...)
	for _, a := range plan.LeadArchetypes(2) {
		out = append(out, "archetype:"+a)
	}
	return out
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// RenderHTML converts a description to HTML for local preview.
func RenderHTML(description string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(description), &buf); err != nil {
		return "", apierrors.Wrap(err, apierrors.ErrCodeTemplateRender, "render description preview")
	}
	return buf.String(), nil
}
