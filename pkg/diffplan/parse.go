package diffplan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

// Format is a serialisation format for diff plans.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks a format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatAuto
}

// Parse decodes a diff plan. FormatAuto treats input starting with '{' as
// JSON and anything else as YAML.
func Parse(data []byte, format Format) (*Plan, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, apierrors.New(apierrors.ErrCodePlanParse, "diff plan is empty")
	}
	if format == FormatAuto {
		if trimmed[0] == '{' {
			format = FormatJSON
		} else {
			format = FormatYAML
		}
	}

	var plan Plan
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(trimmed, &plan); err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodePlanParse, "decode diff plan JSON")
		}
	case FormatYAML:
		if err := yaml.Unmarshal(trimmed, &plan); err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodePlanParse, "decode diff plan YAML")
		}
	default:
		return nil, apierrors.New(apierrors.ErrCodePlanParse, fmt.Sprintf("unsupported diff plan format %q", format))
	}
	return &plan, nil
}

// Decode reads and parses a plan from r.
func Decode(r io.Reader, format Format) (*Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodePlanParse, "read diff plan")
	}
	return Parse(data, format)
}

// Load reads and parses the plan file at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierrors.New(apierrors.ErrCodeInvalidInput, "diff plan not found: "+path).
				WithContext("path", path)
		}
		return nil, apierrors.Wrap(err, apierrors.ErrCodePlanParse, "read diff plan").WithContext("path", path)
	}
	plan, err := Parse(data, FormatForPath(path))
	if err != nil {
		if e, ok := apierrors.As(err); ok {
			e.WithContext("path", path)
		}
		return nil, err
	}
	return plan, nil
}
