// Package runlog keeps a SQLite ledger of pipeline runs for the history
// command and for auditing what was published where.
package runlog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/orchestrator"
)

//go:embed schema.sql
var schemaSQL string

// ErrClosed indicates the ledger's database is unavailable.
var ErrClosed = errors.New("runlog: closed")

// timeLayout is fixed-width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one recorded run.
type Entry struct {
	ID         string          `json:"id"`
	PlanID     string          `json:"diff_plan_id"`
	Repo       string          `json:"repo"`
	RepoURL    string          `json:"repo_url,omitempty"`
	Status     string          `json:"status"`
	DryRun     bool            `json:"dry_run"`
	Detail     string          `json:"detail,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Outcome    json.RawMessage `json:"outcome"`
}

// Ledger records runs. It implements orchestrator.Hook.
type Ledger struct {
	db *sql.DB
}

var _ orchestrator.Hook = (*Ledger)(nil)

// Open opens or creates the ledger at path. ":memory:" keeps it in memory.
func Open(path string) (*Ledger, error) {
	if filePath, onDisk := sqliteFilePath(path); onDisk {
		if dir := filepath.Dir(filePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "create history directory")
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "open history database")
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "configure history database")
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "migrate history database")
	}
	return &Ledger{db: db}, nil
}

func sqliteFilePath(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" {
		return "", false
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", false
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" || path == ":memory:" {
			return "", false
		}
		return path, true
	}
	return dsn, true
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return ErrClosed
	}
	return l.db.Close()
}

func (l *Ledger) AfterRun(ctx context.Context, run orchestrator.Run) error {
	_, err := l.Record(ctx, run)
	return err
}

// Record stores run and returns its entry.
func (l *Ledger) Record(ctx context.Context, run orchestrator.Run) (*Entry, error) {
	if l == nil || l.db == nil {
		return nil, ErrClosed
	}
	outcome, err := json.Marshal(run.Outcome)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeInternal, "encode outcome")
	}

	entry := &Entry{
		ID:         ulid.Make().String(),
		PlanID:     run.Outcome.Plan(),
		RepoURL:    run.RepoURL,
		Status:     string(run.Outcome.Status()),
		DryRun:     run.DryRun,
		Detail:     detail(run.Outcome),
		StartedAt:  run.Started.UTC(),
		DurationMS: run.Duration.Milliseconds(),
		Outcome:    outcome,
	}
	if run.Plan != nil {
		entry.Repo = run.Plan.Repo
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO runs (id, plan_id, repo, repo_url, status, dry_run, detail, started_at, duration_ms, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.PlanID, entry.Repo, entry.RepoURL, entry.Status, entry.DryRun,
		entry.Detail, entry.StartedAt.Format(timeLayout), entry.DurationMS, string(outcome))
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "record run").WithContext("plan_id", entry.PlanID)
	}
	return entry, nil
}

// detail is the one-line summary shown by the history command.
func detail(o orchestrator.Outcome) string {
	switch v := o.(type) {
	case *orchestrator.Skipped:
		return v.Reason
	case *orchestrator.DryRun:
		return fmt.Sprintf("%d artifacts", len(v.Manifest))
	case *orchestrator.Published:
		return v.URL
	case *orchestrator.Unpublished:
		return fmt.Sprintf("%d artifacts", v.ArtifactCount)
	}
	return ""
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, plan_id, repo, repo_url, status, dry_run, detail, started_at, duration_ms, outcome
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "query runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			started string
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.PlanID, &e.Repo, &e.RepoURL, &e.Status, &e.DryRun,
			&e.Detail, &started, &e.DurationMS, &outcome); err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "scan run")
		}
		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "parse run timestamp").WithContext("id", e.ID)
		}
		e.Outcome = json.RawMessage(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "iterate runs")
	}
	return entries, nil
}
