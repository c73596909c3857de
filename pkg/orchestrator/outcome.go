package orchestrator

import (
	"encoding/json"

	"github.com/odvcencio/autopilot/pkg/artifact"
	"github.com/odvcencio/autopilot/pkg/diffplan"
)

// Status names the kind of outcome a run produced.
type Status string

const (
	StatusSkipped            Status = "skipped"
	StatusDryRun             Status = "dry_run"
	StatusSuccess            Status = "success"
	StatusArtifactsGenerated Status = "artifacts_generated"
)

// Outcome is the result of one Process call. It is always one of *Skipped,
// *DryRun, *Published or *Unpublished.
type Outcome interface {
	Status() Status
	Plan() string
	sealed()
}

// Skipped means the plan's confidence was below the threshold.
type Skipped struct {
	PlanID     string  `json:"diff_plan_id"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// ManifestEntry lists one file a dry run would have committed.
type ManifestEntry struct {
	Path   string          `json:"path"`
	Action diffplan.Action `json:"action"`
}

// DryRun carries everything a real run would have published.
type DryRun struct {
	PlanID      string              `json:"diff_plan_id"`
	Manifest    []ManifestEntry     `json:"artifacts"`
	Description string              `json:"pr_description"`
	Artifacts   []artifact.Artifact `json:"-"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// Published describes the change request that was opened.
type Published struct {
	PlanID        string   `json:"diff_plan_id"`
	Number        int      `json:"pr_number"`
	URL           string   `json:"pr_url"`
	Branch        string   `json:"branch"`
	FilesChanged  int      `json:"files_changed"`
	Archetypes    []string `json:"archetypes"`
	GapsAddressed []string `json:"gaps_addressed"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Unpublished means artifacts were generated but auto-publish is off.
type Unpublished struct {
	PlanID        string   `json:"diff_plan_id"`
	ArtifactCount int      `json:"artifacts"`
	Message       string   `json:"message"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (*Skipped) Status() Status     { return StatusSkipped }
func (*DryRun) Status() Status      { return StatusDryRun }
func (*Published) Status() Status   { return StatusSuccess }
func (*Unpublished) Status() Status { return StatusArtifactsGenerated }

func (o *Skipped) Plan() string     { return o.PlanID }
func (o *DryRun) Plan() string      { return o.PlanID }
func (o *Published) Plan() string   { return o.PlanID }
func (o *Unpublished) Plan() string { return o.PlanID }

func (*Skipped) sealed()     {}
func (*DryRun) sealed()      {}
func (*Published) sealed()   {}
func (*Unpublished) sealed() {}

func (o *Skipped) MarshalJSON() ([]byte, error) {
	type plain Skipped
	return json.Marshal(struct {
		Status Status `json:"status"`
		plain
	}{o.Status(), plain(*o)})
}

func (o *DryRun) MarshalJSON() ([]byte, error) {
	type plain DryRun
	return json.Marshal(struct {
		Status Status `json:"status"`
		plain
	}{o.Status(), plain(*o)})
}

func (o *Published) MarshalJSON() ([]byte, error) {
	type plain Published
	return json.Marshal(struct {
		Status Status `json:"status"`
		plain
	}{o.Status(), plain(*o)})
}

func (o *Unpublished) MarshalJSON() ([]byte, error) {
	type plain Unpublished
	return json.Marshal(struct {
		Status Status `json:"status"`
		plain
	}{o.Status(), plain(*o)})
}

// Warnings returns the warnings carried by o, if any.
func Warnings(o Outcome) []string {
	switch v := o.(type) {
	case *DryRun:
		return v.Warnings
	case *Published:
		return v.Warnings
	case *Unpublished:
		return v.Warnings
	}
	return nil
}
