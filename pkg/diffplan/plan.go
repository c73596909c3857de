// Package diffplan models the observability Diff Plan produced by the
// upstream scanner: the repository's detected archetypes, the scanner's
// confidence, the instrumentation gaps and any verbatim patch instructions.
package diffplan

import (
	"strings"

	"github.com/odvcencio/autopilot/pkg/convention"
)

// Gap types with dedicated always-on artifacts.
const (
	GapMissingOTel        = "missing_otel"
	GapMissingCorrelation = "missing_correlation"
	GapMissingLineageSpec = "missing_lineage_spec"
	GapMissingContract    = "missing_contract"
)

// Action is what a change does to its target file.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionMerge  Action = "merge"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionModify, ActionMerge:
		return true
	}
	return false
}

// Plan is a parsed Diff Plan. Fields the scanner may omit are pointers or nil
// slices/maps so validation can tell "missing" apart from "empty".
type Plan struct {
	Repo          string             `json:"repo" yaml:"repo"`
	Archetypes    []string           `json:"archetypes" yaml:"archetypes"`
	Confidence    *float64           `json:"confidence" yaml:"confidence"`
	TechStack     map[string]any     `json:"tech_stack" yaml:"tech_stack"`
	Gaps          []Gap              `json:"gaps" yaml:"gaps"`
	PatchPlan     []PatchInstruction `json:"patch_plan,omitempty" yaml:"patch_plan,omitempty"`
	ScanTimestamp string             `json:"scan_timestamp,omitempty" yaml:"scan_timestamp,omitempty"`
	DiffPlanID    string             `json:"diff_plan_id,omitempty" yaml:"diff_plan_id,omitempty"`
	RepoURL       string             `json:"repo_url,omitempty" yaml:"repo_url,omitempty"`
}

// Gap is one detected instrumentation deficiency.
type Gap struct {
	Type        string `json:"type" yaml:"type"`
	Priority    string `json:"priority" yaml:"priority"`
	Description string `json:"description" yaml:"description"`
	Template    string `json:"template,omitempty" yaml:"template,omitempty"`
}

// PatchInstruction is a literal file change carried by the plan.
type PatchInstruction struct {
	File    string `json:"file" yaml:"file"`
	Action  Action `json:"action" yaml:"action"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

// ConfidenceValue returns the confidence, or 0 when absent.
func (p *Plan) ConfidenceValue() float64 {
	if p == nil || p.Confidence == nil {
		return 0
	}
	return *p.Confidence
}

// Language returns tech_stack.language normalised, defaulting to java.
func (p *Plan) Language() convention.Language {
	if p == nil || p.TechStack == nil {
		return convention.DefaultLanguage
	}
	raw, _ := p.TechStack["language"].(string)
	return convention.Parse(raw)
}

// ID returns the plan id, or dp-{repo} when the plan carries none.
func (p *Plan) ID() string {
	if id := strings.TrimSpace(p.DiffPlanID); id != "" {
		return id
	}
	return "dp-" + p.Repo
}

// GapTypes lists gap types in plan order.
func (p *Plan) GapTypes() []string {
	out := make([]string, 0, len(p.Gaps))
	for _, g := range p.Gaps {
		out = append(out, g.Type)
	}
	return out
}

// HasGap reports whether any gap has one of the given types.
func (p *Plan) HasGap(types ...string) bool {
	for _, g := range p.Gaps {
		for _, t := range types {
			if g.Type == t {
				return true
			}
		}
	}
	return false
}

// LeadArchetypes returns at most n archetypes from the front of the list.
func (p *Plan) LeadArchetypes(n int) []string {
	if n > len(p.Archetypes) {
		n = len(p.Archetypes)
	}
	return append([]string(nil), p.Archetypes[:n]...)
}
