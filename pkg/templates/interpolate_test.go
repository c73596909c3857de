package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/odvcencio/autopilot/pkg/convention"
)

func TestInterpolate(t *testing.T) {
	vars := map[string]any{
		"SERVICE_NAME": "orders-enricher",
		"ARCHETYPES":   []string{"kafka-microservice", "spring-boot"},
		"confidence":   0.87,
		"ENABLED":      true,
		"COUNT":        3,
		"LANG":         convention.Go,
		"EMPTY":        "",
		"MIXED":        []any{"a", 1.5},
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "no placeholders", "no placeholders"},
		{"single", "svc=${SERVICE_NAME}", "svc=orders-enricher"},
		{"repeated", "${SERVICE_NAME}/${SERVICE_NAME}", "orders-enricher/orders-enricher"},
		{"list joined", "[${ARCHETYPES}]", "[kafka-microservice, spring-boot]"},
		{"float", "${confidence}", "0.87"},
		{"bool and int", "${ENABLED} ${COUNT}", "true 3"},
		{"stringer", "${LANG}", "go"},
		{"empty value", "a${EMPTY}b", "ab"},
		{"any list", "${MIXED}", "a, 1.5"},
		{"unknown left literal", "${MISSING} ${SERVICE_NAME}", "${MISSING} orders-enricher"},
		{"not a placeholder", "$SERVICE_NAME ${} ${with-dash}", "$SERVICE_NAME ${} ${with-dash}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.in, vars))
		})
	}
}

func TestInterpolateIsIdempotent(t *testing.T) {
	vars := map[string]any{"A": "x", "B": []string{"1", "2"}}
	once := Interpolate("${A}-${B}-${C}", vars)
	assert.Equal(t, once, Interpolate(once, vars))
}

func TestFormatValueNil(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "1.5s", FormatValue(1500*time.Millisecond))
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("${B} ${A} ${B} ${not-valid}")
	assert.Equal(t, []string{"B", "A"}, got)
}
