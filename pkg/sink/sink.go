// Package sink stores generated artifacts outside version control, for dry
// runs and offline review: a local directory or an S3-compatible bucket.
package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/autopilot/pkg/artifact"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = errors.New("artifact not found")

// Sink persists artifact files grouped by run.
type Sink interface {
	Put(ctx context.Context, runID, path string, content []byte) error
	Get(ctx context.Context, runID, path string) ([]byte, error)
	// Location describes where a run's files end up, for display.
	Location(runID string) string
}

// DefaultConcurrency bounds parallel writes in WriteAll.
const DefaultConcurrency = 4

// WriteAll stores every artifact under runID with at most concurrency
// writes in flight. The first failure cancels the remaining writes.
func WriteAll(ctx context.Context, s Sink, runID string, artifacts []artifact.Artifact, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, a := range artifact.Dedupe(artifacts) {
		g.Go(func() error {
			return s.Put(gctx, runID, a.Path, []byte(a.Content))
		})
	}
	return g.Wait()
}

// FS writes files under Root/{runID}/. An empty runID writes directly
// under Root.
type FS struct {
	Root string
}

func (f FS) dest(runID, path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(strings.TrimSpace(path), "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apierrors.New(apierrors.ErrCodeInvalidInput, "artifact path escapes output directory").
			WithContext("path", path)
	}
	return filepath.Join(f.Root, strings.TrimSpace(runID), clean), nil
}

func (f FS) Put(ctx context.Context, runID, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := f.dest(runID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "create artifact directory").WithContext("path", dest)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "write artifact").WithContext("path", dest)
	}
	return nil
}

func (f FS) Get(_ context.Context, runID, path string) ([]byte, error) {
	dest, err := f.dest(runID, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dest)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "read artifact").WithContext("path", dest)
	}
	return data, nil
}

func (f FS) Location(runID string) string {
	return filepath.Join(f.Root, strings.TrimSpace(runID))
}
