package telemetry

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

// WriteTextfile writes every metric in g to path in the Prometheus text
// format, for collection by node_exporter's textfile collector. A nil
// gatherer writes the default registry.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "create metrics directory").WithContext("path", path)
		}
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "write metrics textfile").WithContext("path", path)
	}
	return nil
}
