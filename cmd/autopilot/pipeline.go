package main

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/config"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/events"
	"github.com/odvcencio/autopilot/pkg/orchestrator"
	"github.com/odvcencio/autopilot/pkg/runlog"
	"github.com/odvcencio/autopilot/pkg/sink"
	"github.com/odvcencio/autopilot/pkg/templates"
	"github.com/odvcencio/autopilot/pkg/vcs"
	"github.com/odvcencio/autopilot/pkg/vcs/github"
	"github.com/odvcencio/autopilot/pkg/vcs/gitlab"
	"github.com/odvcencio/autopilot/pkg/vcs/local"
)

// pipelineOptions are per-command overrides of the loaded configuration.
type pipelineOptions struct {
	backend       string
	templatesPath string
	// requireGateway fails construction when the backend cannot be built.
	// Otherwise a gateway that rejects every call stands in for it.
	requireGateway bool
}

// pipeline is a wired orchestrator plus the resources its hooks hold open.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	ledger  *runlog.Ledger
	closers []io.Closer
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		_ = p.closers[i].Close()
	}
}

func newPipeline(cfg *config.Config, logger *zap.Logger, opts pipelineOptions) (*pipeline, error) {
	renderer, err := newRenderer(cfg, opts.templatesPath, logger)
	if err != nil {
		return nil, err
	}

	backend := cfg.VCS.Backend
	if strings.TrimSpace(opts.backend) != "" {
		backend = strings.TrimSpace(opts.backend)
	}
	gateway, err := newGateway(cfg, backend, logger)
	if err != nil {
		if opts.requireGateway {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeConfigInvalid, "configure vcs backend").
				WithContext("backend", backend)
		}
		logger.Debug("vcs backend unavailable", zap.String("backend", backend), zap.Error(err))
		gateway = unavailableGateway{err: err}
	}

	policy := cfg.VCS.RepoPolicy
	p := &pipeline{}
	p.orch = orchestrator.New(orchestrator.Options{
		Settings: cfg.Autopilot,
		Gateway:  gateway,
		Renderer: renderer,
		Policy:   &policy,
		Version:  version,
		Logger:   logger,
	})

	if strings.TrimSpace(cfg.Events.NATSURL) != "" {
		pub, err := events.NewNATSPublisher(events.NATSOptions{
			URL:     cfg.Events.NATSURL,
			Name:    "autopilot",
			Timeout: cfg.Events.Timeout,
		})
		if err != nil {
			// Events are best-effort; a missing broker never blocks a run.
			logger.Warn("run events disabled", zap.String("url", cfg.Events.NATSURL), zap.Error(err))
		} else {
			p.closers = append(p.closers, pub)
			p.orch.AddHook(events.NewEmitter(pub, cfg.Events.SubjectPrefix, logger))
		}
	}

	if cfg.History.Enabled {
		ledger, err := runlog.Open(config.ExpandPath(cfg.History.Path))
		if err != nil {
			p.Close()
			return nil, err
		}
		p.ledger = ledger
		p.closers = append(p.closers, ledger)
		p.orch.AddHook(ledger)
	}
	return p, nil
}

func newRenderer(cfg *config.Config, override string, logger *zap.Logger) (*templates.Store, error) {
	root := templates.Embedded()
	path := strings.TrimSpace(override)
	if path == "" {
		path = strings.TrimSpace(cfg.Templates.Path)
	}
	if path != "" {
		path = config.ExpandPath(path)
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			return nil, apierrors.New(apierrors.ErrCodeConfigInvalid, "template library not found: "+path).
				WithRemediation("pass --templates-path pointing at a directory of templates")
		}
		root = templates.Dir(path)
	}
	return templates.NewStore(root, templates.WithCacheSize(cfg.Templates.CacheSize), templates.WithLogger(logger))
}

func newGateway(cfg *config.Config, backend string, logger *zap.Logger) (vcs.Gateway, error) {
	retry := vcs.RetryPolicy{
		MaxRetries:     cfg.RetryPolicy.MaxRetries,
		InitialBackoff: cfg.RetryPolicy.InitialBackoff,
		MaxBackoff:     cfg.RetryPolicy.MaxBackoff,
		Multiplier:     cfg.RetryPolicy.Multiplier,
	}

	switch backend {
	case config.BackendGitHub:
		gh := cfg.VCS.GitHub
		opts := github.Options{
			APIURL:            gh.APIURL,
			Token:             gh.Token,
			Timeout:           cfg.VCS.Timeout,
			Retry:             retry,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			Logger:            logger,
		}
		if gh.Token == "" && gh.UsesApp() {
			key, err := os.ReadFile(config.ExpandPath(gh.PrivateKeyPath))
			if err != nil {
				return nil, apierrors.Wrap(err, apierrors.ErrCodeConfigInvalid, "read GitHub App private key").
					WithContext("path", gh.PrivateKeyPath)
			}
			opts.AppID = gh.AppID
			opts.InstallationID = gh.InstallationID
			opts.PrivateKey = key
		}
		client, err := github.New(opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendGitLab:
		client, err := gitlab.New(gitlab.Options{
			APIURL:            cfg.VCS.GitLab.APIURL,
			Token:             cfg.VCS.GitLab.Token,
			DefaultBranch:     cfg.Autopilot.DefaultBranch,
			Timeout:           cfg.VCS.Timeout,
			Retry:             retry,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendLocal:
		return local.New(local.Options{
			RepoPath:      config.ExpandPath(cfg.VCS.Local.RepoPath),
			AuthorName:    cfg.VCS.Local.AuthorName,
			AuthorEmail:   cfg.VCS.Local.AuthorEmail,
			DefaultBranch: cfg.Autopilot.DefaultBranch,
			Logger:        logger,
		}), nil
	}
	return nil, apierrors.New(apierrors.ErrCodeConfigInvalid, "unknown vcs backend: "+backend).
		WithRemediation("use one of github, gitlab, local")
}

func newSink(cfg *config.Config, outputDir string) (sink.Sink, error) {
	dir := strings.TrimSpace(outputDir)
	if dir == "" {
		dir = strings.TrimSpace(cfg.Artifacts.OutputDir)
	}
	if dir != "" {
		return sink.FS{Root: config.ExpandPath(dir)}, nil
	}
	if s3 := cfg.Artifacts.S3; s3.Enabled() {
		s, err := sink.NewS3(sink.S3Options{
			Endpoint:  s3.Endpoint,
			Region:    s3.Region,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
			UseSSL:    s3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}

// unavailableGateway stands in for a backend that could not be configured.
// Dry runs never reach it.
type unavailableGateway struct {
	err error
}

func (g unavailableGateway) fail() error {
	return apierrors.Wrap(g.err, apierrors.ErrCodeGateway, "vcs backend not configured").
		WithRemediation("configure credentials for the selected vcs backend or use --dry-run")
}

func (g unavailableGateway) CreateBranch(context.Context, string, string, string) (*vcs.BranchRef, error) {
	return nil, g.fail()
}

func (g unavailableGateway) CommitFiles(context.Context, string, string, []vcs.File, string) (*vcs.Commit, error) {
	return nil, g.fail()
}

func (g unavailableGateway) CreateChangeRequest(context.Context, string, vcs.ChangeRequestInput) (*vcs.ChangeRequest, error) {
	return nil, g.fail()
}

func (g unavailableGateway) CodeOwners(context.Context, string) ([]string, error) {
	return nil, g.fail()
}
