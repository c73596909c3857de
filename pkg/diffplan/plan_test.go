package diffplan

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/autopilot/pkg/convention"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

const ordersPlanJSON = `{
  "repo": "orders-enricher",
  "archetypes": ["kafka-microservice", "spring-boot"],
  "confidence": 0.87,
  "tech_stack": {"language": "Java", "framework": "spring"},
  "gaps": [
    {"type": "missing_otel", "priority": "P1", "description": "no spans", "template": "kafka-consumer-otel-java"},
    {"type": "missing_lineage_spec", "priority": "P2", "description": "no lineage"}
  ],
  "patch_plan": [
    {"file": "pom.xml", "action": "merge", "content": "<dependency/>"}
  ],
  "scan_timestamp": "2026-01-04T10:00:00Z",
  "diff_plan_id": "dp-abc123",
  "extra": {"ignored": true}
}`

func TestParseJSON(t *testing.T) {
	plan, err := Parse([]byte(ordersPlanJSON), FormatAuto)
	require.NoError(t, err)

	assert.Equal(t, "orders-enricher", plan.Repo)
	assert.Equal(t, []string{"kafka-microservice", "spring-boot"}, plan.Archetypes)
	assert.InDelta(t, 0.87, plan.ConfidenceValue(), 1e-9)
	assert.Equal(t, convention.Java, plan.Language())
	assert.Equal(t, "dp-abc123", plan.ID())
	assert.Equal(t, []string{"missing_otel", "missing_lineage_spec"}, plan.GapTypes())
	require.Len(t, plan.PatchPlan, 1)
	assert.Equal(t, ActionMerge, plan.PatchPlan[0].Action)
	assert.NoError(t, plan.Validate())
}

func TestParseYAML(t *testing.T) {
	doc := `
repo: payments-api
archetypes: [http-service]
confidence: 1
tech_stack:
  language: go
gaps: []
`
	plan, err := Parse([]byte(doc), FormatAuto)
	require.NoError(t, err)

	assert.Equal(t, convention.Go, plan.Language())
	assert.Equal(t, "dp-payments-api", plan.ID())
	assert.NotNil(t, plan.Gaps)
	assert.Empty(t, plan.Gaps)
	assert.NoError(t, plan.Validate())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("   "), FormatAuto)
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodePlanParse))

	_, err = Parse([]byte("{not json"), FormatAuto)
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodePlanParse))

	_, err = Parse([]byte("repo: ["), FormatYAML)
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodePlanParse))

	_, err = Parse([]byte("{}"), Format("toml"))
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodePlanParse))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(ordersPlanJSON), 0o644))

	plan, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "orders-enricher", plan.Repo)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodeInvalidInput))
	assert.Contains(t, err.Error(), "diff plan not found")
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatForPath("a/b.JSON"))
	assert.Equal(t, FormatYAML, FormatForPath("plan.yml"))
	assert.Equal(t, FormatAuto, FormatForPath("plan"))
}

func TestValidate(t *testing.T) {
	conf := func(v float64) *float64 { return &v }
	valid := func() *Plan {
		return &Plan{
			Repo:       "orders-enricher",
			Archetypes: []string{"kafka-microservice"},
			Confidence: conf(0.9),
			TechStack:  map[string]any{"language": "java"},
			Gaps:       []Gap{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Plan)
		wantErr string
	}{
		{name: "valid", mutate: func(*Plan) {}},
		{name: "missing repo", mutate: func(p *Plan) { p.Repo = "" }, wantErr: "missing fields [repo]"},
		{name: "missing several", mutate: func(p *Plan) {
			p.Confidence = nil
			p.Gaps = nil
			p.TechStack = nil
		}, wantErr: "missing fields [confidence tech_stack gaps]"},
		{name: "missing archetypes", mutate: func(p *Plan) { p.Archetypes = nil }, wantErr: "missing fields [archetypes]"},
		{name: "empty archetypes", mutate: func(p *Plan) { p.Archetypes = []string{} }, wantErr: "no archetypes detected"},
		{name: "confidence too high", mutate: func(p *Plan) { p.Confidence = conf(1.2) }, wantErr: "outside [0, 1]"},
		{name: "confidence negative", mutate: func(p *Plan) { p.Confidence = conf(-0.1) }, wantErr: "outside [0, 1]"},
		{name: "confidence NaN", mutate: func(p *Plan) { p.Confidence = conf(math.NaN()) }, wantErr: "outside [0, 1]"},
		{name: "patch without file", mutate: func(p *Plan) {
			p.PatchPlan = []PatchInstruction{{Action: ActionCreate}}
		}, wantErr: "patch_plan[0] has no file"},
		{name: "patch bad action", mutate: func(p *Plan) {
			p.PatchPlan = []PatchInstruction{{File: "a.txt", Action: "delete"}}
		}, wantErr: `unknown action "delete"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := valid()
			tt.mutate(plan)
			err := plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apierrors.IsCode(err, apierrors.ErrCodePlanInvalid))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNil(t *testing.T) {
	var p *Plan
	assert.Error(t, p.Validate())
}

func TestValidateRejectsYAMLNaNConfidence(t *testing.T) {
	plan, err := Parse([]byte("repo: orders-enricher\narchetypes: [kafka-microservice]\nconfidence: .nan\ntech_stack:\n  language: java\ngaps: []\n"), FormatYAML)
	require.NoError(t, err)
	require.NotNil(t, plan.Confidence)
	assert.True(t, math.IsNaN(*plan.Confidence))

	err = plan.Validate()
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodePlanInvalid))
}

func TestValidateTreatsNullAsMissing(t *testing.T) {
	plan, err := Parse([]byte(`{"repo":"x","archetypes":["a"],"confidence":0.9,"tech_stack":null,"gaps":null}`), FormatJSON)
	require.NoError(t, err)

	e, ok := apierrors.As(plan.Validate())
	require.True(t, ok)
	assert.Equal(t, "tech_stack,gaps", e.Context["missing"])
}

func TestValidateMissingFromJSON(t *testing.T) {
	plan, err := Parse([]byte(`{"repo":"x","archetypes":["a"]}`), FormatJSON)
	require.NoError(t, err)

	err = plan.Validate()
	require.Error(t, err)
	e, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "confidence,tech_stack,gaps", e.Context["missing"])
}

func TestHasGapAndLeadArchetypes(t *testing.T) {
	plan := &Plan{
		Archetypes: []string{"a", "b", "c"},
		Gaps:       []Gap{{Type: GapMissingCorrelation}},
	}
	assert.True(t, plan.HasGap(GapMissingOTel, GapMissingCorrelation))
	assert.False(t, plan.HasGap(GapMissingContract))
	assert.Equal(t, []string{"a", "b"}, plan.LeadArchetypes(2))
	assert.Equal(t, "a, b, c", strings.Join(plan.LeadArchetypes(5), ", "))
}

func TestLanguageDefaults(t *testing.T) {
	assert.Equal(t, convention.Java, (&Plan{}).Language())
	assert.Equal(t, convention.Java, (&Plan{TechStack: map[string]any{"language": 3}}).Language())
	assert.Equal(t, convention.Python, (&Plan{TechStack: map[string]any{"language": "python"}}).Language())
}
