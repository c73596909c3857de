package templates

import (
	"embed"
	"sort"
	"strings"

	"github.com/odvcencio/autopilot/pkg/convention"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

// Built-in template names.
const (
	BuiltinRunbook     = "runbook"
	BuiltinLineageSpec = "lineage-spec"
	BuiltinContract    = "contract-stub"
	// TelemetryTest is the template name recorded on generated telemetry
	// tests; the body comes from the language's telemetry-test-* built-in.
	TelemetryTest = "telemetry-test"
)

// RunbookPath is where the operational runbook is written.
const RunbookPath = "RUNBOOK.md"

// LineagePath is where the lineage spec for service is written.
func LineagePath(service string) string {
	return "lineage/" + service + ".yaml"
}

// ContractPath is where the data contract for service is written.
func ContractPath(service string) string {
	return "contracts/" + service + ".yaml"
}

//go:embed builtin/*.tmpl
var builtinFS embed.FS

// Builtin returns the body of a built-in template.
func Builtin(name string) (string, bool) {
	data, err := builtinFS.ReadFile("builtin/" + name + templateExt)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Builtins lists the built-in template names.
func Builtins() []string {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), templateExt))
	}
	sort.Strings(names)
	return names
}

// RenderBuiltin interpolates a built-in template against ctx.
func RenderBuiltin(name string, ctx Context) (string, error) {
	body, ok := Builtin(name)
	if !ok {
		return "", notFound(name)
	}
	return Interpolate(body, ctx.Variables()), nil
}

// RenderTelemetryTest renders the telemetry validation test for the context's
// language. Languages without their own body use the Java one.
func RenderTelemetryTest(ctx Context) (path, content string, err error) {
	conv := convention.For(ctx.Language())
	body, ok := Builtin(conv.TelemetryTestTemplate)
	if !ok {
		body, ok = Builtin("telemetry-test-java")
		if !ok {
			return "", "", apierrors.New(apierrors.ErrCodeInternal, "java telemetry test template missing")
		}
	}
	return conv.TestPath(ctx.Names()), Interpolate(body, ctx.Variables()), nil
}

// builtinTemplate wraps a built-in body as a one-file Template. The
// telemetry-test name resolves too; its body is picked per language at
// render time.
func builtinTemplate(name string) (*Template, bool) {
	if name == TelemetryTest {
		return &Template{Name: name, Builtin: true}, true
	}
	body, ok := Builtin(name)
	if !ok {
		return nil, false
	}
	return &Template{Name: name, Builtin: true, Files: []File{{Name: name + templateExt, Body: body}}}, true
}

func renderBuiltinTemplate(tmpl *Template, ctx Context) ([]Rendered, error) {
	names := ctx.Names()
	var p string
	switch {
	case tmpl.Name == TelemetryTest:
		testPath, content, err := RenderTelemetryTest(ctx)
		if err != nil {
			return nil, err
		}
		return []Rendered{{Path: testPath, Content: content}}, nil
	case tmpl.Name == BuiltinRunbook:
		p = RunbookPath
	case tmpl.Name == BuiltinLineageSpec:
		p = LineagePath(names.Service)
	case tmpl.Name == BuiltinContract:
		p = ContractPath(names.Service)
	case strings.HasPrefix(tmpl.Name, TelemetryTest+"-"):
		p = convention.For(ctx.Language()).TestPath(names)
	default:
		p = tmpl.Name
	}
	return []Rendered{{Path: p, Content: Interpolate(tmpl.Files[0].Body, ctx.Variables())}}, nil
}
