package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/artifact"
	"github.com/odvcencio/autopilot/pkg/describe"
	"github.com/odvcencio/autopilot/pkg/diffplan"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/telemetry"
	"github.com/odvcencio/autopilot/pkg/vcs"
)

// checkRepo rejects a missing repository URL when publishing is on and runs
// the URL policy before any gateway call.
func (o *Orchestrator) checkRepo(ctx context.Context, repoURL string) error {
	if strings.TrimSpace(repoURL) == "" {
		if o.settings.AutoPublish {
			return apierrors.New(apierrors.ErrCodeInvalidInput, "repository URL is required to publish").
				WithRemediation("pass --repo-url or set repo_url in the diff plan")
		}
		return nil
	}
	if o.policy == nil {
		return nil
	}
	if err := o.policy.Validate(ctx, repoURL); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeInvalidInput, "repository URL rejected by policy").
			WithContext("repo_url", repoURL)
	}
	return nil
}

// BranchName is the head branch for a plan's change request.
func BranchName(prefix, repo string, unix int64) string {
	return fmt.Sprintf("%s-%s-%d", prefix, repo, unix)
}

// publish creates the branch, commits the de-duplicated artifacts and opens
// the change request, in that order. Any gateway failure aborts the rest.
func (o *Orchestrator) publish(ctx context.Context, plan *diffplan.Plan, repoURL string, res *artifact.Result, description string, owners *ownerLookup) (Outcome, error) {
	branch := BranchName(o.settings.BranchPrefix, plan.Repo, o.now().Unix())
	log := o.logger.With(logging.PlanID(plan.ID()), zap.String("branch", branch))

	ctx, span := telemetry.StartSpan(ctx, "autopilot.publish",
		telemetry.AttrPlanID.String(plan.ID()),
		telemetry.AttrBranch.String(branch))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if _, err = o.gateway.CreateBranch(ctx, repoURL, branch, o.settings.DefaultBranch); err != nil {
		err = gatewayError(err, "create branch")
		return nil, err
	}

	deduped := artifact.Dedupe(res.Artifacts)
	files := make([]vcs.File, len(deduped))
	for i, a := range deduped {
		files[i] = vcs.File{Path: a.Path, Content: a.Content}
	}
	if _, err = o.gateway.CommitFiles(ctx, repoURL, branch, files, describe.CommitMessage(plan)); err != nil {
		err = gatewayError(err, "commit files")
		return nil, err
	}

	warnings := append([]string{}, res.Warnings...)
	var reviewers []string
	if o.settings.RequireHumanReview && owners != nil {
		found, lookupErr := owners.CodeOwners(ctx, repoURL)
		if lookupErr != nil {
			log.Warn("code owner lookup failed, requesting no reviewers", zap.Error(lookupErr))
			warnings = append(warnings, "could not determine reviewers: "+lookupErr.Error())
		}
		reviewers = vcs.Reviewers(found)
	}

	cr, err := o.gateway.CreateChangeRequest(ctx, repoURL, vcs.ChangeRequestInput{
		Title:     describe.Title(plan),
		Body:      description,
		Head:      branch,
		Base:      o.settings.DefaultBranch,
		Labels:    describe.Labels(o.settings.Labels, plan),
		Reviewers: reviewers,
		Draft:     o.settings.Draft,
	})
	if err != nil {
		err = gatewayError(err, "create change request")
		return nil, err
	}

	log.Info("change request opened", zap.Int("number", cr.Number), zap.String("url", cr.URL), zap.Int("files", len(files)))
	return &Published{
		PlanID:        plan.ID(),
		Number:        cr.Number,
		URL:           cr.URL,
		Branch:        branch,
		FilesChanged:  len(files),
		Archetypes:    plan.Archetypes,
		GapsAddressed: plan.GapTypes(),
		Warnings:      warnings,
	}, nil
}

// gatewayError keeps the backend's code when it has one and otherwise
// classifies err as GATEWAY.
func gatewayError(err error, step string) error {
	if _, ok := apierrors.As(err); ok {
		return apierrors.Wrap(err, apierrors.GetCode(err), step+" failed").WithContext("step", step)
	}
	return apierrors.Wrap(err, apierrors.ErrCodeGateway, step+" failed").WithContext("step", step)
}
