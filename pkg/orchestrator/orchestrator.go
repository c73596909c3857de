// Package orchestrator runs the Diff-Plan-to-change-request pipeline:
// validate, gate on confidence, build the template context, generate
// artifacts, describe them and publish through a version-control gateway.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/artifact"
	"github.com/odvcencio/autopilot/pkg/config"
	"github.com/odvcencio/autopilot/pkg/describe"
	"github.com/odvcencio/autopilot/pkg/diffplan"
	"github.com/odvcencio/autopilot/pkg/giturl"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/plancontext"
	"github.com/odvcencio/autopilot/pkg/telemetry"
	"github.com/odvcencio/autopilot/pkg/vcs"
)

// Options are the collaborators of an Orchestrator. Gateway and Renderer are
// required.
type Options struct {
	Settings config.AutopilotConfig
	Gateway  vcs.Gateway
	Renderer artifact.Renderer
	// Policy, when set, must accept the repository URL before anything is
	// published.
	Policy *giturl.Policy
	// Version is stamped into change-request descriptions.
	Version string
	Now     func() time.Time
	Logger  *zap.Logger
	Hooks   []Hook
}

// Orchestrator runs plans. It holds no per-run state and is safe for
// concurrent use when its collaborators are.
type Orchestrator struct {
	settings  config.AutopilotConfig
	gateway   vcs.Gateway
	generator *artifact.Generator
	describer describe.Synthesizer
	policy    *giturl.Policy
	now       func() time.Time
	logger    *zap.Logger
	hooks     []Hook
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	settings := opts.Settings
	if settings.DefaultBranch == "" {
		settings.DefaultBranch = "main"
	}
	if settings.BranchPrefix == "" {
		settings.BranchPrefix = "autopilot/observability"
	}
	return &Orchestrator{
		settings:  settings,
		gateway:   opts.Gateway,
		generator: artifact.NewGenerator(opts.Renderer, opts.Logger),
		describer: describe.Synthesizer{Version: opts.Version},
		policy:    opts.Policy,
		now:       now,
		logger:    logging.ForCategory(opts.Logger, logging.CategoryWorkflow),
		hooks:     opts.Hooks,
	}
}

// AddHook registers h to run after every produced outcome.
func (o *Orchestrator) AddHook(h Hook) {
	o.hooks = append(o.hooks, h)
}

// Process runs plan through the pipeline. repoURL falls back to the plan's
// repo_url. An error means no outcome was produced; VCS effects made before
// a gateway failure are not rolled back.
func (o *Orchestrator) Process(ctx context.Context, plan *diffplan.Plan, repoURL string, dryRun bool) (Outcome, error) {
	started := o.now()
	if strings.TrimSpace(repoURL) == "" && plan != nil {
		repoURL = plan.RepoURL
	}

	ctx, span := telemetry.StartSpan(ctx, "autopilot.process", telemetry.AttrDryRun.Bool(dryRun))
	outcome, err := o.process(ctx, plan, repoURL, dryRun)
	if err == nil {
		span.SetAttributes(telemetry.AttrStatus.String(string(outcome.Status())))
	}
	telemetry.EndSpan(span, err)

	elapsed := o.now().Sub(started)
	if err != nil {
		recordFailure(err, elapsed)
		return nil, err
	}
	recordOutcome(outcome, elapsed)

	o.logger.Info("plan processed",
		logging.PlanID(outcome.Plan()),
		logging.Repo(plan.Repo),
		zap.String("status", string(outcome.Status())),
		zap.Duration("elapsed", elapsed))

	o.runHooks(ctx, Run{
		Plan:     plan,
		RepoURL:  repoURL,
		DryRun:   dryRun,
		Outcome:  outcome,
		Started:  started,
		Duration: elapsed,
	})
	return outcome, nil
}

func (o *Orchestrator) process(ctx context.Context, plan *diffplan.Plan, repoURL string, dryRun bool) (Outcome, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	log := o.logger.With(logging.PlanID(plan.ID()), logging.Repo(plan.Repo))
	confidence := plan.ConfidenceValue()
	threshold := o.settings.ConfidenceThreshold

	if confidence < threshold {
		reason := fmt.Sprintf("Confidence %.2f below threshold %v", confidence, threshold)
		log.Info("skipping plan", zap.String("reason", reason))
		return &Skipped{PlanID: plan.ID(), Reason: reason, Confidence: confidence, Threshold: threshold}, nil
	}

	if !dryRun {
		if err := o.checkRepo(ctx, repoURL); err != nil {
			return nil, err
		}
	}

	// Owners are looked up at most once per run and only when publishing.
	var owners *ownerLookup
	ctxOpts := plancontext.Options{
		RepoURL:          repoURL,
		DefaultOwnerTeam: o.settings.DefaultOwnerTeam,
		Now:              o.now,
		Logger:           o.logger,
	}
	if !dryRun && o.settings.AutoPublish {
		owners = &ownerLookup{gateway: o.gateway}
		ctxOpts.Owners = owners
	}
	pctx := plancontext.Build(ctx, plan, ctxOpts)

	_, genSpan := telemetry.StartSpan(ctx, "autopilot.generate", telemetry.AttrPlanID.String(plan.ID()))
	res, err := o.generator.Generate(plan, pctx)
	if err == nil {
		genSpan.SetAttributes(telemetry.AttrArtifacts.Int(len(res.Artifacts)))
	}
	telemetry.EndSpan(genSpan, err)
	if err != nil {
		return nil, err
	}
	recordGeneration(res)

	description := o.describer.Synthesize(plan, res.Artifacts, pctx)

	if dryRun {
		manifest := make([]ManifestEntry, len(res.Artifacts))
		for i, a := range res.Artifacts {
			manifest[i] = ManifestEntry{Path: a.Path, Action: a.Action}
		}
		return &DryRun{
			PlanID:      plan.ID(),
			Manifest:    manifest,
			Description: description,
			Artifacts:   res.Artifacts,
			Warnings:    res.Warnings,
		}, nil
	}

	if !o.settings.AutoPublish {
		log.Info("auto-publish disabled, not opening change request", zap.Int("artifacts", len(res.Artifacts)))
		return &Unpublished{
			PlanID:        plan.ID(),
			ArtifactCount: len(res.Artifacts),
			Message:       "artifacts generated but not published",
			Warnings:      res.Warnings,
		}, nil
	}

	return o.publish(ctx, plan, repoURL, res, description, owners)
}

// ownerLookup memoises the gateway's CODEOWNERS result for one run.
type ownerLookup struct {
	gateway vcs.Gateway
	done    bool
	owners  []string
	err     error
}

func (l *ownerLookup) CodeOwners(ctx context.Context, repoURL string) ([]string, error) {
	if !l.done {
		l.owners, l.err = l.gateway.CodeOwners(ctx, repoURL)
		l.done = true
	}
	return l.owners, l.err
}
