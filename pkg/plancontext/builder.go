package plancontext

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/diffplan"
	"github.com/odvcencio/autopilot/pkg/logging"
)

// OwnerResolver looks up code owners for a repository.
type OwnerResolver interface {
	CodeOwners(ctx context.Context, repoURL string) ([]string, error)
}

// Options are the ancillary inputs to Build.
type Options struct {
	RepoURL string
	// Owners is consulted for the owner team. Nil skips the lookup.
	Owners           OwnerResolver
	DefaultOwnerTeam string
	Now              func() time.Time
	Logger           *zap.Logger
}

// Build derives the context for plan.
func Build(ctx context.Context, plan *diffplan.Plan, opts Options) *Context {
	service := plan.Repo
	lang := plan.Language()

	input, output, kafkaGaps := topics(plan)
	if kafkaGaps > 1 {
		logging.OrNop(opts.Logger).Debug("multiple kafka gaps, topics taken from the first",
			logging.PlanID(plan.ID()),
			zap.Int("kafka_gaps", kafkaGaps),
			zap.String("input_topic", input))
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	return New(Fields{
		ServiceName:   service,
		ServiceURN:    ServiceURN(service),
		Namespace:     Namespace(service),
		InputTopic:    input,
		OutputTopic:   output,
		OwnerTeam:     ownerTeam(ctx, opts),
		ConsumerGroup: service + "-cg",
		SchemaID:      service + ".v1",
		Timestamp:     now().UTC().Format(time.RFC3339),
		PlanID:        plan.ID(),
		Confidence:    plan.ConfidenceValue(),
		Archetypes:    plan.Archetypes,
		Language:      lang,
	})
}

// topics names the input/output topics when a gap template mentions kafka.
// Only the first such gap decides; the count reports how many matched.
func topics(plan *diffplan.Plan) (input, output string, matched int) {
	for _, gap := range plan.Gaps {
		if !strings.Contains(strings.ToLower(gap.Template), "kafka") {
			continue
		}
		if matched == 0 {
			input, output = plan.Repo+"_input", plan.Repo+"_output"
		}
		matched++
	}
	return input, output, matched
}

func ownerTeam(ctx context.Context, opts Options) string {
	fallback := strings.TrimSpace(opts.DefaultOwnerTeam)
	if fallback == "" {
		fallback = DefaultOwnerTeam
	}
	if opts.Owners == nil || strings.TrimSpace(opts.RepoURL) == "" {
		return fallback
	}

	owners, err := opts.Owners.CodeOwners(ctx, opts.RepoURL)
	if err != nil {
		logging.ForCategory(opts.Logger, logging.CategoryGateway).Warn("code owner lookup failed, using default owner team",
			zap.String("repo_url", opts.RepoURL),
			zap.String("owner_team", fallback),
			zap.Error(err))
		return fallback
	}
	for _, owner := range owners {
		if team := TeamName(owner); team != "" {
			return team
		}
	}
	return fallback
}

// TeamName reduces a CODEOWNERS handle to a team name: "@org/team" becomes
// "team" and "@user" becomes "user".
func TeamName(owner string) string {
	owner = strings.TrimPrefix(strings.TrimSpace(owner), "@")
	if i := strings.LastIndex(owner, "/"); i >= 0 {
		owner = owner[i+1:]
	}
	return owner
}
