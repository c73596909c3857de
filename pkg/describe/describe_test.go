package describe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/autopilot/pkg/artifact"
	"github.com/odvcencio/autopilot/pkg/diffplan"
	"github.com/odvcencio/autopilot/pkg/plancontext"
)

func samplePlan() *diffplan.Plan {
	conf := 0.87
	return &diffplan.Plan{
		Repo:          "orders-enricher",
		Archetypes:    []string{"kafka-microservice", "http-api", "batch"},
		Confidence:    &conf,
		TechStack:     map[string]any{"language": "java"},
		DiffPlanID:    "dp-42",
		ScanTimestamp: "2026-01-04T09:00:00Z",
		Gaps: []diffplan.Gap{
			{Type: "missing_otel", Priority: "P1", Description: "no spans", Template: "kafka-consumer-otel-java"},
			{Type: "missing_contract", Priority: "P2", Description: "no contract"},
		},
	}
}

func sampleContext(p *diffplan.Plan) *plancontext.Context {
	return plancontext.Build(context.Background(), p, plancontext.Options{
		Now: func() time.Time { return time.Date(2026, 1, 4, 10, 30, 0, 0, time.UTC) },
	})
}

func TestSynthesizeSections(t *testing.T) {
	p := samplePlan()
	arts := []artifact.Artifact{
		{Path: "src/A.java", Action: diffplan.ActionCreate, Template: "kafka-consumer-otel-java"},
		{Path: "pom.xml", Action: diffplan.ActionModify},
	}

	out := Synthesize(p, arts, sampleContext(p))

	headings := []string{
		"## Autopilot: Observability Instrumentation",
		"### Summary",
		"### Changes",
		"### Gaps Addressed",
		"### Files Modified",
		"### Verification Checklist",
		"### Next Steps",
		"### Need Help?",
	}
	last := -1
	for _, h := range headings {
		idx := strings.Index(out, h)
		require.GreaterOrEqual(t, idx, 0, h)
		assert.Greater(t, idx, last, h)
		last = idx
	}

	assert.Contains(t, out, "- **Archetypes Detected**: kafka-microservice, http-api, batch\n")
	assert.Contains(t, out, "- **Confidence Score**: 87%\n")
	assert.Contains(t, out, "- **Diff Plan ID**: dp-42\n")
	assert.Contains(t, out, "- `src/A.java` (create)\n- `pom.xml` (modify)\n")
	assert.Contains(t, out, "- [P1] missing_otel: no spans\n- [P2] missing_contract: no contract\n")
	assert.Contains(t, out, "| `src/A.java` | create | kafka-consumer-otel-java |\n| `pom.xml` | modify | patch |\n")
	assert.Equal(t, 5, strings.Count(out, "- [ ] "))
	assert.Contains(t, out, "[Observability Runbook](./RUNBOOK.md)")
	assert.Contains(t, out, "https://docs.internal/autopilot")
	assert.Contains(t, out, "#observability-support")
	assert.True(t, strings.HasSuffix(out,
		"---\n*Generated by Instrumentation Autopilot v1.0*\n*Scout Agent Scan: 2026-01-04T09:00:00Z*\n*PR Author: 2026-01-04T10:30:00Z*\n"))
}

func TestSynthesizeMissingScanTimestampAndVersion(t *testing.T) {
	p := samplePlan()
	p.ScanTimestamp = ""

	out := Synthesizer{Version: "v2.3"}.Synthesize(p, nil, sampleContext(p))
	assert.Contains(t, out, "*Scout Agent Scan: N/A*")
	assert.Contains(t, out, "*Generated by Instrumentation Autopilot v2.3*")
}

func TestCommitMessage(t *testing.T) {
	p := samplePlan()
	want := "feat(observability): Add instrumentation via Autopilot\n\n" +
		"Addresses gaps detected by Scout Agent:\n" +
		"- missing_otel\n" +
		"- missing_contract\n" +
		"\nDiff Plan ID: dp-42\n" +
		"Confidence: 87%\n"
	assert.Equal(t, want, CommitMessage(p))

	p.DiffPlanID = ""
	assert.Contains(t, CommitMessage(p), "Diff Plan ID: N/A\n")
}

func TestTitleAndLabels(t *testing.T) {
	p := samplePlan()
	assert.Equal(t, "feat(observability): Add kafka-microservice, http-api instrumentation", Title(p))

	base := []string{"autopilot", "observability"}
	labels := Labels(base, p)
	assert.Equal(t, []string{"autopilot", "observability", "archetype:kafka-microservice", "archetype:http-api"}, labels)
	assert.Len(t, base, 2)

	single := samplePlan()
	single.Archetypes = []string{"kafka-microservice"}
	assert.Equal(t, "feat(observability): Add kafka-microservice instrumentation", Title(single))
}

func TestRenderHTML(t *testing.T) {
	p := samplePlan()
	html, err := RenderHTML(Synthesize(p, []artifact.Artifact{{Path: "RUNBOOK.md", Action: diffplan.ActionCreate, Template: "runbook"}}, sampleContext(p)))
	require.NoError(t, err)
	assert.Contains(t, html, "<h2 id=")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "type=\"checkbox\"")
}
