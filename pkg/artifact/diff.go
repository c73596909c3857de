package artifact

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// FileDiff is a unified diff of one artifact against an existing checkout.
type FileDiff struct {
	Path    string
	New     bool
	Changed bool
	Patch   string
}

// DiffAgainst compares artifacts with the files in checkout. Missing files
// diff against empty content and are reported as new.
func DiffAgainst(checkout fs.FS, artifacts []Artifact) ([]FileDiff, error) {
	out := make([]FileDiff, 0, len(artifacts))
	for _, a := range Dedupe(artifacts) {
		var existing string
		isNew := false
		data, err := fs.ReadFile(checkout, a.Path)
		switch {
		case err == nil:
			existing = string(data)
		case errors.Is(err, fs.ErrNotExist):
			isNew = true
		default:
			return nil, err
		}

		patch, err := unifiedDiff(a.Path, existing, a.Content, isNew)
		if err != nil {
			return nil, err
		}
		out = append(out, FileDiff{
			Path:    a.Path,
			New:     isNew,
			Changed: existing != a.Content,
			Patch:   patch,
		})
	}
	return out, nil
}

func unifiedDiff(path, from, to string, isNew bool) (string, error) {
	fromFile := "a/" + path
	a := difflib.SplitLines(from)
	if isNew {
		fromFile = "/dev/null"
		a = nil
	}
	diff := difflib.UnifiedDiff{
		A:        a,
		B:        difflib.SplitLines(to),
		FromFile: fromFile,
		ToFile:   "b/" + path,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// JoinPatches concatenates the non-empty patches of diffs.
func JoinPatches(diffs []FileDiff) string {
	var b strings.Builder
	for _, d := range diffs {
		if d.Patch == "" {
			continue
		}
		b.WriteString(d.Patch)
		if !strings.HasSuffix(d.Patch, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
