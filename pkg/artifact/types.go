package artifact

import "github.com/odvcencio/autopilot/pkg/diffplan"

// Artifact is one file the change set will create or update.
type Artifact struct {
	Path    string          `json:"path"`
	Content string          `json:"content,omitempty"`
	Action  diffplan.Action `json:"action"`
	// Template is empty for verbatim patch instructions.
	Template string `json:"template,omitempty"`
}

// TemplateLabel is the template name, or "patch" for verbatim patches.
func (a Artifact) TemplateLabel() string {
	if a.Template == "" {
		return "patch"
	}
	return a.Template
}

// GapStatus is the per-gap rendering outcome.
type GapStatus string

const (
	GapRendered GapStatus = "rendered"
	GapFailed   GapStatus = "failed"
	// GapSkipped marks a gap that names no template.
	GapSkipped GapStatus = "skipped"
)

// GapResult records what happened to one gap.
type GapResult struct {
	Gap    diffplan.Gap `json:"gap"`
	Status GapStatus    `json:"status"`
	Files  int          `json:"files,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// Result is the output of Generate.
type Result struct {
	Artifacts []Artifact  `json:"artifacts"`
	Gaps      []GapResult `json:"gaps"`
	Warnings  []string    `json:"warnings,omitempty"`
}

// Failed returns the gaps whose template could not be rendered.
func (r *Result) Failed() []GapResult {
	var out []GapResult
	for _, g := range r.Gaps {
		if g.Status == GapFailed {
			out = append(out, g)
		}
	}
	return out
}

// Paths lists artifact paths in order.
func (r *Result) Paths() []string {
	out := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		out[i] = a.Path
	}
	return out
}

// Dedupe collapses artifacts that target the same path. The later artifact
// wins and keeps the position of the first occurrence.
func Dedupe(artifacts []Artifact) []Artifact {
	index := make(map[string]int, len(artifacts))
	out := make([]Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if i, ok := index[a.Path]; ok {
			out[i] = a
			continue
		}
		index[a.Path] = len(out)
		out = append(out, a)
	}
	return out
}
