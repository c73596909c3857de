package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "defaults", opts: Options{}},
		{name: "json debug", opts: Options{Level: LevelDebug, Format: "json"}},
		{name: "console warn", opts: Options{Level: LevelWarn, Format: "console"}},
		{name: "upper-case level", opts: Options{Level: "ERROR"}},
		{name: "bad format", opts: Options{Format: "xml"}, wantErr: true},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.log")
	logger, err := New(Options{Level: LevelInfo, Outputs: []string{path}})
	require.NoError(t, err)

	ForCategory(logger, CategoryRender).Info("template rendered", PlanID("dp-1"), Repo("orders-enricher"))
	logger.Debug("suppressed")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "template rendered", entry["msg"])
	assert.Equal(t, "render", entry["category"])
	assert.Equal(t, "dp-1", entry["plan_id"])
	assert.Equal(t, "orders-enricher", entry["repo"])
	assert.Contains(t, entry, "timestamp")
}

func TestForCategory(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := ForCategory(zap.New(core), CategoryGateway)

	logger.Warn("retrying", zap.Int("attempt", 2))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "gateway", fields["category"])
	assert.EqualValues(t, 2, fields["attempt"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
	// Category on a nil logger must not panic.
	ForCategory(nil, CategoryWorkflow).Info("ignored")
}
