// Package events publishes run outcomes so downstream services (the
// telemetry validator, dashboards) can react to new change requests.
// NATS is the production transport; an in-memory publisher serves tests
// and single-process use.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/orchestrator"
)

// ErrClosed is returned when operating on a closed publisher or subscription.
var ErrClosed = errors.New("publisher closed")

// DefaultSubjectPrefix is prepended to the outcome status.
const DefaultSubjectPrefix = "autopilot.runs"

// Publisher is a subject-based pub/sub transport. Implementations must be
// safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe delivers messages whose subject matches pattern. "*" matches
	// one token and a trailing ">" matches the rest.
	Subscribe(ctx context.Context, pattern string, handler Handler) (Subscription, error)
	Close() error
}

// Handler processes one message.
type Handler func(msg *Message)

// Message is a delivered message.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// RunEvent is the payload emitted for each run.
type RunEvent struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	PlanID     string          `json:"diff_plan_id"`
	Repo       string          `json:"repo"`
	RepoURL    string          `json:"repo_url,omitempty"`
	DryRun     bool            `json:"dry_run"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMS int64           `json:"duration_ms"`
	Outcome    json.RawMessage `json:"outcome"`
}

// Emitter turns completed runs into RunEvents. It implements
// orchestrator.Hook.
type Emitter struct {
	publisher Publisher
	prefix    string
	logger    *zap.Logger
}

var _ orchestrator.Hook = (*Emitter)(nil)

// NewEmitter publishes on {prefix}.{status}. An empty prefix uses
// DefaultSubjectPrefix.
func NewEmitter(p Publisher, prefix string, logger *zap.Logger) *Emitter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Emitter{
		publisher: p,
		prefix:    prefix,
		logger:    logging.ForCategory(logger, logging.CategoryEvents),
	}
}

// Subject returns the subject an outcome with status is published on.
func (e *Emitter) Subject(status orchestrator.Status) string {
	return e.prefix + "." + string(status)
}

func (e *Emitter) AfterRun(ctx context.Context, run orchestrator.Run) error {
	return e.Emit(ctx, run)
}

// Emit publishes run.
func (e *Emitter) Emit(ctx context.Context, run orchestrator.Run) error {
	outcome, err := json.Marshal(run.Outcome)
	if err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeInternal, "encode outcome")
	}
	event := RunEvent{
		ID:         ulid.Make().String(),
		Status:     string(run.Outcome.Status()),
		PlanID:     run.Outcome.Plan(),
		RepoURL:    run.RepoURL,
		DryRun:     run.DryRun,
		Timestamp:  run.Started.UTC(),
		DurationMS: run.Duration.Milliseconds(),
		Outcome:    outcome,
	}
	if run.Plan != nil {
		event.Repo = run.Plan.Repo
	}
	data, err := json.Marshal(event)
	if err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeInternal, "encode run event")
	}

	subject := e.Subject(run.Outcome.Status())
	if err := e.publisher.Publish(ctx, subject, data); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeInternal, "publish run event").WithContext("subject", subject)
	}
	e.logger.Debug("run event published", zap.String("subject", subject), zap.String("event_id", event.ID))
	return nil
}

// matchSubject reports whether subject matches pattern.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	pi, si := 0, 0
	for pi < len(patternParts) && si < len(subjectParts) {
		switch patternParts[pi] {
		case "*":
			pi++
			si++
		case ">":
			return true
		default:
			if patternParts[pi] != subjectParts[si] {
				return false
			}
			pi++
			si++
		}
	}
	return pi == len(patternParts) && si == len(subjectParts)
}
