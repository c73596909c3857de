package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "runs_total",
		Help:      "Runs by status.",
	}, []string{"status"})
	reg.MustRegister(runs)
	runs.WithLabelValues("dry_run").Add(2)

	path := filepath.Join(t.TempDir(), "metrics", "autopilot.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `autopilot_runs_total{status="dry_run"} 2`)
}

func TestTracerProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider("autopilot-test", "v0.0.0", &buf)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "autopilot.process", AttrPlanID.String("dp-1"))
	EndSpan(span, errors.New("boom"))
	require.NoError(t, tp.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "autopilot.process")
	assert.Contains(t, out, "dp-1")
	assert.Contains(t, out, "boom")
}
