// Package gitlab publishes change sets through the GitLab REST API (v4).
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/giturl"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/vcs"
)

const DefaultAPIURL = "https://gitlab.com/api/v4"

var codeOwnerPaths = []string{"CODEOWNERS", ".gitlab/CODEOWNERS", "docs/CODEOWNERS"}

// Options configures a Client.
type Options struct {
	APIURL string
	Token  string
	// DefaultBranch is the ref CODEOWNERS is read from. Defaults to main.
	DefaultBranch string

	Timeout           time.Duration
	Retry             vcs.RetryPolicy
	RequestsPerSecond float64
	Burst             int
	// Concurrency bounds parallel file-existence probes. Defaults to 4.
	Concurrency int
	Logger      *zap.Logger
	HTTPClient  *http.Client
}

// Client implements vcs.Gateway for GitLab.
type Client struct {
	http          *vcs.HTTPClient
	defaultBranch string
	concurrency   int
	logger        *zap.Logger
}

var _ vcs.Gateway = (*Client)(nil)

// New creates a GitLab client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, apierrors.New(apierrors.ErrCodeGatewayAuth, "GitLab token missing").
			WithRemediation("set GITLAB_TOKEN")
	}
	apiURL := strings.TrimSpace(opts.APIURL)
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	branch := strings.TrimSpace(opts.DefaultBranch)
	if branch == "" {
		branch = "main"
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Client{
		http: vcs.NewHTTPClient(vcs.HTTPOptions{
			BaseURL:           apiURL,
			Timeout:           opts.Timeout,
			Retry:             opts.Retry,
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             opts.Burst,
			Header:            http.Header{"Accept": []string{"application/json"}},
			Auth:              vcs.HeaderToken("PRIVATE-TOKEN", opts.Token),
			Logger:            opts.Logger,
			Client:            opts.HTTPClient,
		}),
		defaultBranch: branch,
		concurrency:   concurrency,
		logger:        logging.ForCategory(opts.Logger, logging.CategoryGateway),
	}, nil
}

// project is the URL-encoded project path GitLab accepts in place of an id.
type project string

func (p project) String() string {
	return "/projects/" + string(p)
}

func parseProject(repoURL string) (project, error) {
	repo, err := giturl.Parse(repoURL)
	if err != nil {
		return "", apierrors.Wrap(err, apierrors.ErrCodeInvalidInput, "invalid repository URL").
			WithContext("repo_url", repoURL)
	}
	if repo.IsLocal() {
		return "", apierrors.New(apierrors.ErrCodeInvalidInput, "not a GitLab project URL").
			WithContext("repo_url", repoURL)
	}
	return project(url.PathEscape(repo.Path)), nil
}

func (c *Client) CreateBranch(ctx context.Context, repoURL, branch, base string) (*vcs.BranchRef, error) {
	p, err := parseProject(repoURL)
	if err != nil {
		return nil, err
	}
	var out struct {
		Name   string `json:"name"`
		Commit struct {
			ID string `json:"id"`
		} `json:"commit"`
	}
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   p.String() + "/repository/branches",
		Body:   map[string]string{"branch": branch, "ref": base},
	}, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Info("created branch", zap.String("branch", branch), zap.String("base", base))
	return &vcs.BranchRef{Name: out.Name, SHA: out.Commit.ID}, nil
}

type commitAction struct {
	Action   string `json:"action"`
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// CommitFiles probes which paths already exist on branch, then sends one
// commit with a create or update action per file.
func (c *Client) CommitFiles(ctx context.Context, repoURL, branch string, files []vcs.File, message string) (*vcs.Commit, error) {
	if len(files) == 0 {
		return nil, apierrors.New(apierrors.ErrCodeInvalidInput, "no files to commit")
	}
	p, err := parseProject(repoURL)
	if err != nil {
		return nil, err
	}

	actions := make([]commitAction, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, f := range files {
		g.Go(func() error {
			exists, err := c.fileExists(gctx, p, f.Path, branch)
			if err != nil {
				return err
			}
			action := "create"
			if exists {
				action = "update"
			}
			actions[i] = commitAction{Action: action, FilePath: f.Path, Content: f.Content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out struct {
		ID     string `json:"id"`
		WebURL string `json:"web_url"`
	}
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   p.String() + "/repository/commits",
		Body: map[string]any{
			"branch":         branch,
			"commit_message": message,
			"actions":        actions,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Info("committed files", zap.String("branch", branch), zap.String("sha", out.ID), zap.Int("files", len(files)))
	return &vcs.Commit{SHA: out.ID, URL: out.WebURL}, nil
}

func (c *Client) fileExists(ctx context.Context, p project, path, ref string) (bool, error) {
	err := c.http.JSON(ctx, vcs.Request{
		Method: http.MethodGet,
		Path:   p.String() + "/repository/files/" + url.PathEscape(path),
		Query:  url.Values{"ref": []string{ref}},
	}, nil)
	switch {
	case err == nil:
		return true, nil
	case vcs.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// CreateChangeRequest opens a merge request. Reviewer usernames are resolved
// to user ids first; unknown usernames are dropped with a warning.
func (c *Client) CreateChangeRequest(ctx context.Context, repoURL string, in vcs.ChangeRequestInput) (*vcs.ChangeRequest, error) {
	p, err := parseProject(repoURL)
	if err != nil {
		return nil, err
	}

	title := in.Title
	if in.Draft {
		title = "Draft: " + title
	}
	body := map[string]any{
		"source_branch":        in.Head,
		"target_branch":        in.Base,
		"title":                title,
		"description":          in.Body,
		"remove_source_branch": true,
	}
	if len(in.Labels) > 0 {
		body["labels"] = strings.Join(in.Labels, ",")
	}
	if ids := c.reviewerIDs(ctx, in.Reviewers); len(ids) > 0 {
		body["reviewer_ids"] = ids
	}

	var mr struct {
		IID    int    `json:"iid"`
		WebURL string `json:"web_url"`
		State  string `json:"state"`
	}
	if err := c.http.JSON(ctx, vcs.Request{Method: http.MethodPost, Path: p.String() + "/merge_requests", Body: body}, &mr); err != nil {
		return nil, err
	}
	return &vcs.ChangeRequest{
		Number: mr.IID,
		URL:    mr.WebURL,
		State:  mr.State,
		Head:   in.Head,
		Base:   in.Base,
	}, nil
}

func (c *Client) reviewerIDs(ctx context.Context, usernames []string) []int64 {
	var ids []int64
	for _, name := range usernames {
		var users []struct {
			ID int64 `json:"id"`
		}
		err := c.http.JSON(ctx, vcs.Request{
			Method: http.MethodGet,
			Path:   "/users",
			Query:  url.Values{"username": []string{name}},
		}, &users)
		if err != nil {
			c.logger.Warn("failed to resolve reviewer", zap.String("username", name), zap.Error(err))
			continue
		}
		if len(users) == 0 {
			c.logger.Warn("reviewer not found", zap.String("username", name))
			continue
		}
		ids = append(ids, users[0].ID)
	}
	return ids
}

func (c *Client) CodeOwners(ctx context.Context, repoURL string) ([]string, error) {
	p, err := parseProject(repoURL)
	if err != nil {
		return nil, err
	}
	for _, path := range codeOwnerPaths {
		content, err := c.http.Raw(ctx, vcs.Request{
			Method: http.MethodGet,
			Path:   p.String() + "/repository/files/" + url.PathEscape(path) + "/raw",
			Query:  url.Values{"ref": []string{c.defaultBranch}},
		})
		if vcs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return vcs.ParseCodeOwners(string(content)), nil
	}
	return []string{}, nil
}

// DefaultBranch returns the project's default branch name.
func (c *Client) DefaultBranch(ctx context.Context, repoURL string) (string, error) {
	p, err := parseProject(repoURL)
	if err != nil {
		return "", err
	}
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.http.JSON(ctx, vcs.Request{Method: http.MethodGet, Path: p.String()}, &out); err != nil {
		return "", err
	}
	return out.DefaultBranch, nil
}

// Note is a merge request comment.
type Note struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// AddComment adds a note to a merge request.
func (c *Client) AddComment(ctx context.Context, repoURL string, iid int, body string) (*Note, error) {
	p, err := parseProject(repoURL)
	if err != nil {
		return nil, err
	}
	var out Note
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/merge_requests/%d/notes", p, iid),
		Body:   map[string]string{"body": body},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Pipeline is a CI pipeline attached to a merge request.
type Pipeline struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Ref    string `json:"ref"`
	SHA    string `json:"sha"`
	WebURL string `json:"web_url"`
}

// PipelineStatus returns the most recent pipeline of a merge request, or a
// pipeline with status "unknown" when none has run.
func (c *Client) PipelineStatus(ctx context.Context, repoURL string, iid int) (*Pipeline, error) {
	p, err := parseProject(repoURL)
	if err != nil {
		return nil, err
	}
	var pipelines []Pipeline
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("%s/merge_requests/%d/pipelines", p, iid),
	}, &pipelines)
	if err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		return &Pipeline{Status: "unknown"}, nil
	}
	return &pipelines[0], nil
}
