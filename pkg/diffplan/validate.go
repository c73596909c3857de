package diffplan

import (
	"fmt"
	"math"
	"strings"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

// RequiredFields are the top-level fields every plan must carry.
var RequiredFields = []string{"repo", "archetypes", "confidence", "tech_stack", "gaps"}

// Validate checks the plan's structure. The returned error carries code
// PLAN_INVALID and, for missing fields, a "missing" context entry.
func (p *Plan) Validate() error {
	if p == nil {
		return apierrors.New(apierrors.ErrCodePlanInvalid, "invalid diff plan: plan is nil")
	}

	if missing := p.missingFields(); len(missing) > 0 {
		return apierrors.New(apierrors.ErrCodePlanInvalid,
			fmt.Sprintf("invalid diff plan: missing fields %v", missing)).
			WithContext("missing", strings.Join(missing, ",")).
			WithRemediation("The scanner output must include: " + strings.Join(RequiredFields, ", "))
	}

	if len(p.Archetypes) == 0 {
		return apierrors.New(apierrors.ErrCodePlanInvalid, "diff plan has no archetypes detected")
	}

	if c := *p.Confidence; math.IsNaN(c) || c < 0 || c > 1 {
		return apierrors.New(apierrors.ErrCodePlanInvalid,
			fmt.Sprintf("diff plan confidence %v outside [0, 1]", c))
	}

	for i, patch := range p.PatchPlan {
		if strings.TrimSpace(patch.File) == "" {
			return apierrors.New(apierrors.ErrCodePlanInvalid,
				fmt.Sprintf("patch_plan[%d] has no file", i))
		}
		if !patch.Action.Valid() {
			return apierrors.New(apierrors.ErrCodePlanInvalid,
				fmt.Sprintf("patch_plan[%d] has unknown action %q (valid: create, modify, merge)", i, patch.Action)).
				WithContext("file", patch.File)
		}
	}

	return nil
}

func (p *Plan) missingFields() []string {
	var missing []string
	if strings.TrimSpace(p.Repo) == "" {
		missing = append(missing, "repo")
	}
	if p.Archetypes == nil {
		missing = append(missing, "archetypes")
	}
	if p.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if p.TechStack == nil {
		missing = append(missing, "tech_stack")
	}
	if p.Gaps == nil {
		missing = append(missing, "gaps")
	}
	return missing
}
