package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/autopilot/pkg/diffplan"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/orchestrator"
	"github.com/odvcencio/autopilot/pkg/runlog"
)

type fakeProcessor struct {
	outcome orchestrator.Outcome
	err     error

	plan    *diffplan.Plan
	repoURL string
	dryRun  bool
	calls   int
}

func (f *fakeProcessor) Process(_ context.Context, plan *diffplan.Plan, repoURL string, dryRun bool) (orchestrator.Outcome, error) {
	f.calls++
	f.plan, f.repoURL, f.dryRun = plan, repoURL, dryRun
	return f.outcome, f.err
}

type fakeHistory struct {
	entries []runlog.Entry
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]runlog.Entry, error) {
	f.limit = limit
	return f.entries, nil
}

const planJSON = `{"repo":"orders-enricher","diff_plan_id":"dp-123","archetypes":["kafka-consumer"],"confidence":0.9,"tech_stack":{"language":"java"},"gaps":[]}`

func newTestServer(opts ...func(*ServerConfig)) *Server {
	cfg := ServerConfig{Address: ":0"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewServer(cfg)
}

func do(t *testing.T, s *Server, method, target, contentType, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthz(t *testing.T) {
	s := newTestServer(func(c *ServerConfig) { c.Version = "v2.3.0" })
	rec, body := do(t, s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "v2.3.0", body["version"])
}

func TestSubmitPlanDryRun(t *testing.T) {
	proc := &fakeProcessor{outcome: &orchestrator.DryRun{
		PlanID:      "dp-123",
		Manifest:    []orchestrator.ManifestEntry{{Path: "RUNBOOK.md", Action: diffplan.ActionCreate}},
		Description: "## Summary",
	}}
	s := newTestServer(func(c *ServerConfig) { c.Processor = proc })

	rec, body := do(t, s, http.MethodPost,
		"/v1/plans?dry_run=true&repo_url=https://github.com/acme/orders-enricher.git",
		"application/json", planJSON)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "dry_run", body["status"])
	assert.Equal(t, "dp-123", body["diff_plan_id"])
	assert.Equal(t, "## Summary", body["pr_description"])

	require.Equal(t, 1, proc.calls)
	assert.True(t, proc.dryRun)
	assert.Equal(t, "https://github.com/acme/orders-enricher.git", proc.repoURL)
	assert.Equal(t, "orders-enricher", proc.plan.Repo)
	assert.Equal(t, 0.9, proc.plan.ConfidenceValue())
}

func TestSubmitPlanYAML(t *testing.T) {
	proc := &fakeProcessor{outcome: &orchestrator.Skipped{PlanID: "dp-9", Reason: "Confidence 0.40 below threshold 0.7"}}
	s := newTestServer(func(c *ServerConfig) { c.Processor = proc })

	yamlPlan := "repo: billing\ndiff_plan_id: dp-9\nconfidence: 0.4\n"
	rec, body := do(t, s, http.MethodPost, "/v1/plans", "application/yaml", yamlPlan)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "skipped", body["status"])
	assert.False(t, proc.dryRun)
	assert.Equal(t, "billing", proc.plan.Repo)
}

func TestSubmitPlanErrors(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		body        string
		err         error
		wantStatus  int
		wantCode    string
		wantProcess bool
	}{
		{name: "bad dry_run", target: "/v1/plans?dry_run=maybe", body: planJSON, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "empty body", target: "/v1/plans", body: "", wantStatus: http.StatusBadRequest, wantCode: "PLAN_PARSE"},
		{name: "malformed json", target: "/v1/plans", body: `{"repo":`, wantStatus: http.StatusBadRequest, wantCode: "PLAN_PARSE"},
		{
			name: "invalid plan", target: "/v1/plans", body: planJSON,
			err:        apierrors.New(apierrors.ErrCodePlanInvalid, "diff plan missing required fields: gaps"),
			wantStatus: http.StatusUnprocessableEntity, wantCode: "PLAN_INVALID", wantProcess: true,
		},
		{
			name: "rate limited", target: "/v1/plans", body: planJSON,
			err:        apierrors.New(apierrors.ErrCodeGatewayRateLimit, "rate limited").WithRetryable(true),
			wantStatus: http.StatusServiceUnavailable, wantCode: "GATEWAY_RATE_LIMIT", wantProcess: true,
		},
		{
			name: "gateway", target: "/v1/plans", body: planJSON,
			err:        apierrors.New(apierrors.ErrCodeGateway, "create branch failed"),
			wantStatus: http.StatusBadGateway, wantCode: "GATEWAY", wantProcess: true,
		},
		{
			name: "plain error", target: "/v1/plans", body: planJSON,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError, wantProcess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.err}
			s := newTestServer(func(c *ServerConfig) { c.Processor = proc })

			rec, body := do(t, s, http.MethodPost, tt.target, "application/json", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			} else {
				assert.Nil(t, body["code"])
			}
			assert.Equal(t, tt.wantProcess, proc.calls == 1)
		})
	}
}

func TestSubmitPlanTooLarge(t *testing.T) {
	proc := &fakeProcessor{}
	s := newTestServer(func(c *ServerConfig) {
		c.Processor = proc
		c.MaxBodyBytes = 16
	})
	rec, body := do(t, s, http.MethodPost, "/v1/plans", "application/json", planJSON)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])
	assert.Zero(t, proc.calls)
}

func TestSubmitPlanWithoutProcessor(t *testing.T) {
	rec, _ := do(t, newTestServer(), http.MethodPost, "/v1/plans", "application/json", planJSON)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRuns(t *testing.T) {
	hist := &fakeHistory{entries: []runlog.Entry{{
		ID:        "01J00000000000000000000000",
		PlanID:    "dp-3",
		Status:    "success",
		StartedAt: time.Date(2026, 1, 4, 10, 30, 0, 0, time.UTC),
	}}}
	s := newTestServer(func(c *ServerConfig) { c.History = hist })

	rec, body := do(t, s, http.MethodGet, "/v1/runs?limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, hist.limit)
	runs, ok := body["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 1)
	assert.Equal(t, "dp-3", runs[0].(map[string]any)["diff_plan_id"])

	rec, _ = do(t, s, http.MethodGet, "/v1/runs?limit=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, newTestServer(), http.MethodGet, "/v1/runs", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_IMPLEMENTED", body["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "autopilot_test_total", Help: "test counter"})
	reg.MustRegister(counter)
	counter.Add(3)

	s := newTestServer(func(c *ServerConfig) { c.Gatherer = reg })
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "autopilot_test_total 3")
}

func TestFormatForContentType(t *testing.T) {
	assert.Equal(t, diffplan.FormatJSON, formatForContentType("application/json; charset=utf-8"))
	assert.Equal(t, diffplan.FormatYAML, formatForContentType("application/x-yaml"))
	assert.Equal(t, diffplan.FormatAuto, formatForContentType(""))
}
