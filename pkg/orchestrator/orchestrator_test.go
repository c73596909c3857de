package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/odvcencio/autopilot/pkg/config"
	"github.com/odvcencio/autopilot/pkg/describe"
	"github.com/odvcencio/autopilot/pkg/diffplan"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/giturl"
	"github.com/odvcencio/autopilot/pkg/templates"
	"github.com/odvcencio/autopilot/pkg/vcs"
)

const repoURL = "https://github.com/acme/orders-enricher.git"

var fixedNow = time.Date(2026, 1, 4, 10, 30, 0, 0, time.UTC)

var ordersEnricherPaths = []string{
	"src/main/java/com/company/orders/enricher/KafkaOtelInterceptor.java",
	"src/main/resources/application-otel.yaml",
	"RUNBOOK.md",
	"src/test/java/com/company/orders/enricher/otel/OrdersEnricherOtelInterceptorTest.java",
}

func ordersEnricher(confidence float64) *diffplan.Plan {
	return &diffplan.Plan{
		Repo:       "orders-enricher",
		Archetypes: []string{"kafka-microservice"},
		Confidence: &confidence,
		TechStack:  map[string]any{"language": "java"},
		Gaps: []diffplan.Gap{
			{Type: "missing_otel", Priority: "P1", Description: "no spans", Template: "kafka-consumer-otel-java"},
		},
		DiffPlanID: "dp-123",
	}
}

func settings() config.AutopilotConfig {
	return config.AutopilotConfig{
		ConfidenceThreshold: 0.7,
		AutoPublish:         true,
		RequireHumanReview:  true,
		DefaultBranch:       "main",
		BranchPrefix:        "autopilot/observability",
		Labels:              []string{"autopilot", "observability"},
		DefaultOwnerTeam:    "platform-team",
	}
}

func newOrchestrator(t *testing.T, gw vcs.Gateway, opts Options) *Orchestrator {
	t.Helper()
	store, err := templates.NewStore(templates.Embedded())
	require.NoError(t, err)

	opts.Gateway = gw
	opts.Renderer = store
	if opts.Settings.BranchPrefix == "" {
		opts.Settings = settings()
	}
	opts.Now = func() time.Time { return fixedNow }
	return New(opts)
}

func TestProcessSkipsLowConfidenceWithoutGatewayCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)

	before := testutil.ToFloat64(metricRuns.WithLabelValues(string(StatusSkipped)))

	o := newOrchestrator(t, gw, Options{})
	outcome, err := o.Process(context.Background(), ordersEnricher(0.5), repoURL, false)
	require.NoError(t, err)

	skipped, ok := outcome.(*Skipped)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, "Confidence 0.50 below threshold 0.7", skipped.Reason)
	assert.Equal(t, "dp-123", skipped.PlanID)
	assert.Equal(t, 0.5, skipped.Confidence)
	assert.Equal(t, 0.7, skipped.Threshold)
	assert.Equal(t, StatusSkipped, outcome.Status())

	assert.Equal(t, before+1, testutil.ToFloat64(metricRuns.WithLabelValues(string(StatusSkipped))))
}

func TestProcessDryRunMakesNoGatewayCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)

	o := newOrchestrator(t, gw, Options{Version: "v2.3.0"})
	outcome, err := o.Process(context.Background(), ordersEnricher(0.87), repoURL, true)
	require.NoError(t, err)

	dry, ok := outcome.(*DryRun)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, StatusDryRun, dry.Status())

	paths := make([]string, len(dry.Manifest))
	for i, m := range dry.Manifest {
		paths[i] = m.Path
		assert.Equal(t, diffplan.ActionCreate, m.Action)
	}
	assert.Equal(t, ordersEnricherPaths, paths)
	assert.Len(t, dry.Artifacts, len(ordersEnricherPaths))

	assert.Contains(t, dry.Description, "### Summary")
	assert.Contains(t, dry.Description, "- **Confidence Score**: 87%")
	assert.Contains(t, dry.Description, "*Generated by Instrumentation Autopilot v2.3.0*")

	runbook := dry.Artifacts[2].Content
	assert.Contains(t, runbook, "platform-team")
}

func TestProcessPublishesInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)
	plan := ordersEnricher(0.87)
	branch := "autopilot/observability-orders-enricher-" + "1767522600"

	var committed []vcs.File
	var request vcs.ChangeRequestInput
	gomock.InOrder(
		gw.EXPECT().CodeOwners(gomock.Any(), repoURL).Return([]string{"acme/orders-team", "jdoe"}, nil),
		gw.EXPECT().CreateBranch(gomock.Any(), repoURL, branch, "main").
			Return(&vcs.BranchRef{Name: branch, SHA: "base"}, nil),
		gw.EXPECT().CommitFiles(gomock.Any(), repoURL, branch, gomock.Any(), describe.CommitMessage(plan)).
			DoAndReturn(func(_ context.Context, _, _ string, files []vcs.File, _ string) (*vcs.Commit, error) {
				committed = files
				return &vcs.Commit{SHA: "abc"}, nil
			}),
		gw.EXPECT().CreateChangeRequest(gomock.Any(), repoURL, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, in vcs.ChangeRequestInput) (*vcs.ChangeRequest, error) {
				request = in
				return &vcs.ChangeRequest{Number: 42, URL: "https://github.com/acme/orders-enricher/pull/42", State: "open"}, nil
			}),
	)

	before := testutil.ToFloat64(metricRuns.WithLabelValues(string(StatusSuccess)))

	o := newOrchestrator(t, gw, Options{})
	outcome, err := o.Process(context.Background(), plan, repoURL, false)
	require.NoError(t, err)

	pub, ok := outcome.(*Published)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, &Published{
		PlanID:        "dp-123",
		Number:        42,
		URL:           "https://github.com/acme/orders-enricher/pull/42",
		Branch:        branch,
		FilesChanged:  4,
		Archetypes:    []string{"kafka-microservice"},
		GapsAddressed: []string{"missing_otel"},
		Warnings:      []string{},
	}, pub)
	data, err := json.Marshal(pub)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"gaps_addressed":["missing_otel"]`)

	paths := make([]string, len(committed))
	for i, f := range committed {
		paths[i] = f.Path
	}
	assert.Equal(t, ordersEnricherPaths, paths)
	assert.Contains(t, committed[2].Content, "orders-team")

	assert.Equal(t, "feat(observability): Add kafka-microservice instrumentation", request.Title)
	assert.Equal(t, branch, request.Head)
	assert.Equal(t, "main", request.Base)
	assert.Equal(t, []string{"autopilot", "observability", "archetype:kafka-microservice"}, request.Labels)
	assert.Equal(t, []string{"jdoe"}, request.Reviewers)
	assert.False(t, request.Draft)
	assert.True(t, strings.HasPrefix(request.Body, "## Autopilot: Observability Instrumentation"))

	assert.Equal(t, before+1, testutil.ToFloat64(metricRuns.WithLabelValues(string(StatusSuccess))))
}

func TestProcessDedupesCommittedFiles(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)
	plan := ordersEnricher(0.9)
	plan.Gaps = []diffplan.Gap{}
	plan.PatchPlan = []diffplan.PatchInstruction{
		{File: "pom.xml", Action: diffplan.ActionModify, Content: "<old/>"},
		{File: "build.gradle", Action: diffplan.ActionCreate, Content: "plugins {}"},
		{File: "pom.xml", Action: diffplan.ActionModify, Content: "<new/>"},
	}

	var committed []vcs.File
	gw.EXPECT().CodeOwners(gomock.Any(), gomock.Any()).Return(nil, nil)
	gw.EXPECT().CreateBranch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&vcs.BranchRef{}, nil)
	gw.EXPECT().CommitFiles(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, files []vcs.File, _ string) (*vcs.Commit, error) {
			committed = files
			return &vcs.Commit{}, nil
		})
	gw.EXPECT().CreateChangeRequest(gomock.Any(), gomock.Any(), gomock.Any()).Return(&vcs.ChangeRequest{Number: 1}, nil)

	outcome, err := newOrchestrator(t, gw, Options{}).Process(context.Background(), plan, repoURL, false)
	require.NoError(t, err)

	require.Len(t, committed, 3)
	assert.Equal(t, vcs.File{Path: "pom.xml", Content: "<new/>"}, committed[0])
	assert.Equal(t, "build.gradle", committed[1].Path)
	assert.Equal(t, "RUNBOOK.md", committed[2].Path)
	assert.Equal(t, 3, outcome.(*Published).FilesChanged)
}

func TestProcessGatewayFailureAbortsRemainingSteps(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apierrors.ErrorCode
	}{
		{"plain error", errors.New("connection reset"), apierrors.ErrCodeGateway},
		{"rate limited", apierrors.New(apierrors.ErrCodeGatewayRateLimit, "rate limited"), apierrors.ErrCodeGatewayRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			gw := NewMockGateway(ctrl)
			gw.EXPECT().CodeOwners(gomock.Any(), gomock.Any()).Return(nil, nil)
			gw.EXPECT().CreateBranch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&vcs.BranchRef{}, nil)
			gw.EXPECT().CommitFiles(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tt.err)

			before := testutil.ToFloat64(metricRunFailures.WithLabelValues(string(tt.code)))

			outcome, err := newOrchestrator(t, gw, Options{}).Process(context.Background(), ordersEnricher(0.9), repoURL, false)
			require.Error(t, err)
			assert.Nil(t, outcome)
			assert.Equal(t, tt.code, apierrors.GetCode(err))
			assert.Equal(t, before+1, testutil.ToFloat64(metricRunFailures.WithLabelValues(string(tt.code))))
		})
	}
}

func TestProcessReviewerLookupFailureIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)
	var request vcs.ChangeRequestInput

	gw.EXPECT().CodeOwners(gomock.Any(), gomock.Any()).Return(nil, errors.New("forbidden")).Times(1)
	gw.EXPECT().CreateBranch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&vcs.BranchRef{}, nil)
	gw.EXPECT().CommitFiles(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&vcs.Commit{}, nil)
	gw.EXPECT().CreateChangeRequest(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, in vcs.ChangeRequestInput) (*vcs.ChangeRequest, error) {
			request = in
			return &vcs.ChangeRequest{Number: 7}, nil
		})

	outcome, err := newOrchestrator(t, gw, Options{}).Process(context.Background(), ordersEnricher(0.9), repoURL, false)
	require.NoError(t, err)
	assert.Empty(t, request.Reviewers)
	assert.Equal(t, []string{"could not determine reviewers: forbidden"}, Warnings(outcome))
}

func TestProcessWithoutHumanReviewRequestsNoReviewers(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)
	cfg := settings()
	cfg.RequireHumanReview = false
	cfg.Draft = true
	var request vcs.ChangeRequestInput

	gw.EXPECT().CodeOwners(gomock.Any(), gomock.Any()).Return([]string{"jdoe"}, nil)
	gw.EXPECT().CreateBranch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&vcs.BranchRef{}, nil)
	gw.EXPECT().CommitFiles(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&vcs.Commit{}, nil)
	gw.EXPECT().CreateChangeRequest(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, in vcs.ChangeRequestInput) (*vcs.ChangeRequest, error) {
			request = in
			return &vcs.ChangeRequest{Number: 7}, nil
		})

	_, err := newOrchestrator(t, gw, Options{Settings: cfg}).Process(context.Background(), ordersEnricher(0.9), repoURL, false)
	require.NoError(t, err)
	assert.Nil(t, request.Reviewers)
	assert.True(t, request.Draft)
}

func TestProcessAutoPublishDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)
	cfg := settings()
	cfg.AutoPublish = false

	// No gateway expectations: nothing is published, so nothing is looked up.
	outcome, err := newOrchestrator(t, gw, Options{Settings: cfg}).Process(context.Background(), ordersEnricher(0.9), repoURL, false)
	require.NoError(t, err)

	unpublished, ok := outcome.(*Unpublished)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, 4, unpublished.ArtifactCount)
	assert.Equal(t, "artifacts generated but not published", unpublished.Message)
	assert.Equal(t, StatusArtifactsGenerated, outcome.Status())
}

func TestProcessUsesPlanRepoURL(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)
	plan := ordersEnricher(0.9)
	plan.RepoURL = "https://github.com/acme/from-plan.git"

	gw.EXPECT().CodeOwners(gomock.Any(), "https://github.com/acme/from-plan.git").Return(nil, nil)
	gw.EXPECT().CreateBranch(gomock.Any(), "https://github.com/acme/from-plan.git", gomock.Any(), "main").
		Return(nil, apierrors.New(apierrors.ErrCodeGateway, "branch exists"))

	_, err := newOrchestrator(t, gw, Options{}).Process(context.Background(), plan, "", false)
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodeGateway))
}

func TestProcessRejectsBeforeSideEffects(t *testing.T) {
	policy := &giturl.Policy{AllowedSchemes: []string{"https"}, AllowedHosts: []string{"github.com"}}
	invalid := ordersEnricher(0.9)
	invalid.Archetypes = nil

	tests := []struct {
		name    string
		plan    *diffplan.Plan
		repoURL string
		code    apierrors.ErrorCode
	}{
		{"invalid plan", invalid, repoURL, apierrors.ErrCodePlanInvalid},
		{"missing repository", ordersEnricher(0.9), "", apierrors.ErrCodeInvalidInput},
		{"host not allowed", ordersEnricher(0.9), "https://gitlab.example.com/acme/orders-enricher.git", apierrors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			gw := NewMockGateway(ctrl)
			hookRan := false
			o := newOrchestrator(t, gw, Options{
				Policy: policy,
				Hooks: []Hook{HookFunc(func(context.Context, Run) error {
					hookRan = true
					return nil
				})},
			})

			outcome, err := o.Process(context.Background(), tt.plan, tt.repoURL, false)
			require.Error(t, err)
			assert.Nil(t, outcome)
			assert.Equal(t, tt.code, apierrors.GetCode(err))
			assert.False(t, hookRan)
		})
	}
}

func TestHookFailuresAreLoggedNotReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)
	core, logs := observer.New(zapcore.InfoLevel)

	var seen []Run
	o := newOrchestrator(t, gw, Options{
		Logger: zap.New(core),
		Hooks: []Hook{
			HookFunc(func(context.Context, Run) error { return errors.New("nats down") }),
			HookFunc(func(_ context.Context, run Run) error {
				seen = append(seen, run)
				return nil
			}),
		},
	})

	outcome, err := o.Process(context.Background(), ordersEnricher(0.9), repoURL, true)
	require.NoError(t, err)
	assert.Equal(t, StatusDryRun, outcome.Status())

	require.Len(t, seen, 1)
	assert.Equal(t, outcome, seen[0].Outcome)
	assert.True(t, seen[0].DryRun)
	assert.Equal(t, repoURL, seen[0].RepoURL)
	assert.Equal(t, fixedNow, seen[0].Started)

	failures := logs.FilterMessage("run hook failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.WarnLevel, failures[0].Level)
	assert.Equal(t, "dry_run", failures[0].ContextMap()["status"])
}

func TestOutcomeJSONCarriesStatus(t *testing.T) {
	tests := []struct {
		outcome Outcome
		status  string
		field   string
	}{
		{&Skipped{PlanID: "dp-1", Reason: "low"}, "skipped", "reason"},
		{&DryRun{PlanID: "dp-1", Manifest: []ManifestEntry{{Path: "RUNBOOK.md", Action: diffplan.ActionCreate}}}, "dry_run", "artifacts"},
		{&Published{PlanID: "dp-1", Number: 3}, "success", "pr_number"},
		{&Unpublished{PlanID: "dp-1", ArtifactCount: 2}, "artifacts_generated", "artifacts"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			data, err := json.Marshal(tt.outcome)
			require.NoError(t, err)

			var decoded map[string]any
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.status, decoded["status"])
			assert.Equal(t, "dp-1", decoded["diff_plan_id"])
			assert.Contains(t, decoded, tt.field)
			assert.Equal(t, "dp-1", tt.outcome.Plan())
		})
	}
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "autopilot/observability-orders-enricher-1767522600", BranchName("autopilot/observability", "orders-enricher", fixedNow.Unix()))
}
