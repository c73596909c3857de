// Package plancontext derives the template variable set for one diff plan.
//
// A Context is built once per plan and never changes afterwards. Derived
// spellings of the service name and the formatted confidence are computed in
// New and handed out as copies.
package plancontext

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odvcencio/autopilot/pkg/convention"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

// DefaultOwnerTeam is used when no code owner can be determined.
const DefaultOwnerTeam = "platform-team"

// Fields are the base values of a context.
type Fields struct {
	ServiceName   string              `json:"service_name"`
	ServiceURN    string              `json:"service_urn,omitempty"`
	Namespace     string              `json:"namespace,omitempty"`
	InputTopic    string              `json:"input_topic"`
	OutputTopic   string              `json:"output_topic"`
	OwnerTeam     string              `json:"owner_team,omitempty"`
	ConsumerGroup string              `json:"consumer_group,omitempty"`
	SchemaID      string              `json:"schema_id,omitempty"`
	OTelVersion   string              `json:"otel_version,omitempty"`
	Timestamp     string              `json:"timestamp,omitempty"`
	PlanID        string              `json:"diff_plan_id,omitempty"`
	Confidence    float64             `json:"confidence"`
	Archetypes    []string            `json:"archetypes"`
	Language      convention.Language `json:"language,omitempty"`
}

// Context is an immutable template context.
type Context struct {
	fields Fields
	names  convention.Names
	vars   map[string]any
}

// New fills defaults for empty fields and computes derived values:
// consumer group {service}-cg, owner team platform-team, language java,
// the language's OTel version, and, when absent, the URN, namespace and
// schema id derived from the service name.
func New(f Fields) *Context {
	f.Archetypes = append([]string{}, f.Archetypes...)
	if f.Language == "" {
		f.Language = convention.DefaultLanguage
	}
	if f.ServiceURN == "" {
		f.ServiceURN = ServiceURN(f.ServiceName)
	}
	if f.Namespace == "" {
		f.Namespace = Namespace(f.ServiceName)
	}
	if f.OwnerTeam == "" {
		f.OwnerTeam = DefaultOwnerTeam
	}
	if f.ConsumerGroup == "" {
		f.ConsumerGroup = f.ServiceName + "-cg"
	}
	if f.SchemaID == "" {
		f.SchemaID = f.ServiceName + ".v1"
	}
	if f.OTelVersion == "" {
		f.OTelVersion = convention.For(f.Language).OTelVersion
	}
	if f.PlanID == "" {
		f.PlanID = "dp-" + f.ServiceName
	}

	names := convention.Names{
		Service: f.ServiceName,
		Class:   ClassName(f.ServiceName),
		Module:  strings.ReplaceAll(f.ServiceName, "-", "_"),
	}

	c := &Context{fields: f, names: names}
	c.vars = c.buildVariables()
	return c
}

// Parse decodes context fields from JSON (snake_case keys) and builds a Context.
func Parse(data []byte) (*Context, error) {
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeInvalidInput, "decode template context")
	}
	if strings.TrimSpace(f.ServiceName) == "" {
		return nil, apierrors.New(apierrors.ErrCodeInvalidInput, "template context requires service_name")
	}
	return New(f), nil
}

func (c *Context) buildVariables() map[string]any {
	f := c.fields
	percent := FormatPercent(f.Confidence)
	joined := strings.Join(f.Archetypes, ", ")

	return map[string]any{
		"service_name":   f.ServiceName,
		"service_urn":    f.ServiceURN,
		"namespace":      f.Namespace,
		"input_topic":    f.InputTopic,
		"output_topic":   f.OutputTopic,
		"owner_team":     f.OwnerTeam,
		"consumer_group": f.ConsumerGroup,
		"schema_id":      f.SchemaID,
		"otel_version":   f.OTelVersion,
		"timestamp":      f.Timestamp,
		"diff_plan_id":   f.PlanID,
		"confidence":     f.Confidence,
		"archetypes":     append([]string{}, f.Archetypes...),
		"language":       string(f.Language),

		"SERVICE_NAME":   f.ServiceName,
		"SERVICE_URN":    f.ServiceURN,
		"NAMESPACE":      f.Namespace,
		"INPUT_TOPIC":    f.InputTopic,
		"OUTPUT_TOPIC":   f.OutputTopic,
		"OWNER_TEAM":     f.OwnerTeam,
		"CONSUMER_GROUP": f.ConsumerGroup,
		"SCHEMA_ID":      f.SchemaID,
		"OTEL_VERSION":   f.OTelVersion,
		"TIMESTAMP":      f.Timestamp,
		"DIFF_PLAN_ID":   f.PlanID,
		"CONFIDENCE":     percent,
		"ARCHETYPES":     joined,
		"LANGUAGE":       string(f.Language),

		"PACKAGE_NAME": strings.ReplaceAll(f.ServiceName, "-", "."),
		"CLASS_NAME":   c.names.Class,
		"MODULE_NAME":  c.names.Module,
	}
}

// Variables returns a copy of the substitution variables.
func (c *Context) Variables() map[string]any {
	out := maps.Clone(c.vars)
	out["archetypes"] = append([]string{}, c.fields.Archetypes...)
	return out
}

// Fields returns a copy of the base fields.
func (c *Context) Fields() Fields {
	f := c.fields
	f.Archetypes = append([]string{}, f.Archetypes...)
	return f
}

func (c *Context) ServiceName() string           { return c.fields.ServiceName }
func (c *Context) ServiceURN() string            { return c.fields.ServiceURN }
func (c *Context) Namespace() string             { return c.fields.Namespace }
func (c *Context) InputTopic() string            { return c.fields.InputTopic }
func (c *Context) OutputTopic() string           { return c.fields.OutputTopic }
func (c *Context) OwnerTeam() string             { return c.fields.OwnerTeam }
func (c *Context) ConsumerGroup() string         { return c.fields.ConsumerGroup }
func (c *Context) SchemaID() string              { return c.fields.SchemaID }
func (c *Context) OTelVersion() string           { return c.fields.OTelVersion }
func (c *Context) Timestamp() string             { return c.fields.Timestamp }
func (c *Context) PlanID() string                { return c.fields.PlanID }
func (c *Context) Confidence() float64           { return c.fields.Confidence }
func (c *Context) Language() convention.Language { return c.fields.Language }
func (c *Context) Names() convention.Names       { return c.names }

// Archetypes returns a copy of the archetype list.
func (c *Context) Archetypes() []string {
	return append([]string{}, c.fields.Archetypes...)
}

// ConfidencePercent is the confidence formatted as a whole percentage.
func (c *Context) ConfidencePercent() string {
	return c.vars["CONFIDENCE"].(string)
}

// MarshalJSON emits the base fields.
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.fields)
}

// ServiceURN is the production URN for a service.
func ServiceURN(service string) string {
	return "urn:svc:prod:" + service
}

// Namespace is the text before the first hyphen, or "default".
func Namespace(service string) string {
	if i := strings.Index(service, "-"); i >= 0 {
		return service[:i]
	}
	return "default"
}

// ClassName converts a hyphenated service name to PascalCase.
func ClassName(service string) string {
	var b strings.Builder
	for _, word := range strings.Split(service, "-") {
		if word == "" {
			continue
		}
		b.WriteString(cases.Title(language.Und).String(word))
	}
	return b.String()
}

// FormatPercent formats a 0..1 ratio as a rounded percentage, e.g. 0.87 -> "87%".
func FormatPercent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}
