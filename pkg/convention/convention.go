// Package convention holds the per-language layout and version tables used
// when generating instrumentation for a target repository.
//
// Adding a language is a single edit to the table below. Languages that are
// not in the table use Fallback.
package convention

import (
	"fmt"
	"strings"
)

// Language is a lower-cased tech-stack language identifier.
type Language string

const (
	Java   Language = "java"
	Python Language = "python"
	Go     Language = "go"
)

// DefaultLanguage is assumed when a diff plan does not name one.
const DefaultLanguage = Java

// Parse normalises a raw language name. Empty input yields DefaultLanguage.
func Parse(raw string) Language {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultLanguage
	}
	return Language(raw)
}

// Known reports whether the language has its own table entry.
func (l Language) Known() bool {
	_, ok := table[l]
	return ok
}

func (l Language) String() string { return string(l) }

// Names are the service-name spellings a convention needs to build paths.
type Names struct {
	Service string // orders-enricher
	Class   string // OrdersEnricher
	Module  string // orders_enricher
}

// Convention describes where generated files live for one language.
type Convention struct {
	// OTelVersion is the recommended OpenTelemetry SDK version.
	OTelVersion string
	// TelemetryTestTemplate names the built-in telemetry test body.
	TelemetryTestTemplate string

	sourceRoot func(Names) string
	testPath   func(Names) string
}

// SourceRoot is the directory generated source files are placed in.
func (c Convention) SourceRoot(n Names) string {
	return c.sourceRoot(n)
}

// TestPath is the path of the generated telemetry validation test.
func (c Convention) TestPath(n Names) string {
	return c.testPath(n)
}

var table = map[Language]Convention{
	Java: {
		OTelVersion:           "1.32.0",
		TelemetryTestTemplate: "telemetry-test-java",
		sourceRoot: func(n Names) string {
			return "src/main/java/com/company/" + strings.ReplaceAll(n.Service, "-", "/")
		},
		testPath: func(n Names) string {
			return fmt.Sprintf("src/test/java/com/company/%s/otel/%sOtelInterceptorTest.java",
				strings.ReplaceAll(n.Service, "-", "/"), n.Class)
		},
	},
	Python: {
		OTelVersion:           "1.22.0",
		TelemetryTestTemplate: "telemetry-test-python",
		sourceRoot: func(n Names) string {
			return "src/" + n.Module
		},
		testPath: func(n Names) string {
			return "tests/test_otel_" + n.Module + ".py"
		},
	},
	Go: {
		OTelVersion:           "1.24.0",
		TelemetryTestTemplate: "telemetry-test-go",
		sourceRoot: func(Names) string {
			return "internal/observability"
		},
		testPath: func(Names) string {
			return "internal/observability/otel_test.go"
		},
	},
}

// Fallback returns the convention for a language without a table entry:
// default OTel version, sources under src/, the Java test body, and a test
// file named after the language.
func Fallback(lang Language) Convention {
	return Convention{
		OTelVersion:           "1.32.0",
		TelemetryTestTemplate: "telemetry-test-java",
		sourceRoot: func(Names) string {
			return "src"
		},
		testPath: func(Names) string {
			return "tests/test_telemetry." + string(lang)
		},
	}
}

// For returns the convention for lang, or Fallback(lang).
func For(lang Language) Convention {
	if c, ok := table[lang]; ok {
		return c
	}
	return Fallback(lang)
}

// Languages lists the languages that have their own conventions.
func Languages() []Language {
	return []Language{Java, Python, Go}
}
