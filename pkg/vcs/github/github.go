// Package github publishes change sets through the GitHub REST API.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/giturl"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/vcs"
)

const (
	DefaultAPIURL = "https://api.github.com"
	apiVersion    = "2022-11-28"
)

// codeOwnerPaths are probed in order; the first file found wins.
var codeOwnerPaths = []string{"CODEOWNERS", ".github/CODEOWNERS", "docs/CODEOWNERS"}

// Options configures a Client. Token is used when set; otherwise AppID,
// InstallationID and PrivateKey select GitHub App authentication.
type Options struct {
	APIURL         string
	Token          string
	AppID          int64
	InstallationID int64
	// PrivateKey is the App's PEM-encoded RSA key.
	PrivateKey []byte

	Timeout           time.Duration
	Retry             vcs.RetryPolicy
	RequestsPerSecond float64
	Burst             int
	// Concurrency bounds parallel blob uploads. Defaults to 4.
	Concurrency int
	Logger      *zap.Logger
	HTTPClient  *http.Client
}

// Client implements vcs.Gateway for GitHub.
type Client struct {
	http        *vcs.HTTPClient
	concurrency int
	logger      *zap.Logger
}

var _ vcs.Gateway = (*Client)(nil)

// New creates a GitHub client.
func New(opts Options) (*Client, error) {
	apiURL := strings.TrimSpace(opts.APIURL)
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	httpOpts := vcs.HTTPOptions{
		BaseURL:           apiURL,
		Timeout:           opts.Timeout,
		Retry:             opts.Retry,
		RequestsPerSecond: opts.RequestsPerSecond,
		Burst:             opts.Burst,
		Header: http.Header{
			"Accept":               []string{"application/vnd.github+json"},
			"X-Github-Api-Version": []string{apiVersion},
		},
		Logger: opts.Logger,
		Client: opts.HTTPClient,
	}

	var app *appTokens
	switch {
	case opts.Token != "":
		httpOpts.Auth = vcs.BearerToken(opts.Token)
	case opts.AppID != 0 && opts.InstallationID != 0 && len(opts.PrivateKey) > 0:
		key, err := jwt.ParseRSAPrivateKeyFromPEM(opts.PrivateKey)
		if err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeGatewayAuth, "parse GitHub App private key")
		}
		app = &appTokens{appID: opts.AppID, installationID: opts.InstallationID, key: key, now: time.Now}
		httpOpts.Auth = app
	default:
		return nil, apierrors.New(apierrors.ErrCodeGatewayAuth, "GitHub credentials missing").
			WithRemediation("set GITHUB_TOKEN", "or configure GITHUB_APP_ID, GITHUB_INSTALLATION_ID and GITHUB_APP_PRIVATE_KEY_PATH")
	}

	client := vcs.NewHTTPClient(httpOpts)
	if app != nil {
		app.http = client
	}
	return &Client{
		http:        client,
		concurrency: concurrency,
		logger:      logging.ForCategory(opts.Logger, logging.CategoryGateway),
	}, nil
}

type repoPath struct {
	owner string
	name  string
}

func (r repoPath) String() string {
	return "/repos/" + url.PathEscape(r.owner) + "/" + url.PathEscape(r.name)
}

func parseRepo(repoURL string) (repoPath, error) {
	repo, err := giturl.Parse(repoURL)
	if err != nil {
		return repoPath{}, apierrors.Wrap(err, apierrors.ErrCodeInvalidInput, "invalid repository URL").
			WithContext("repo_url", repoURL)
	}
	if repo.IsLocal() || strings.Contains(repo.Owner, "/") {
		return repoPath{}, apierrors.New(apierrors.ErrCodeInvalidInput, "not a GitHub repository URL").
			WithContext("repo_url", repoURL)
	}
	return repoPath{owner: repo.Owner, name: repo.Name}, nil
}

func escapeRef(branch string) string {
	parts := strings.Split(branch, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

type gitRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// BranchSHA returns the head commit of branch.
func (c *Client) BranchSHA(ctx context.Context, repoURL, branch string) (string, error) {
	repo, err := parseRepo(repoURL)
	if err != nil {
		return "", err
	}
	return c.branchSHA(ctx, repo, branch)
}

func (c *Client) branchSHA(ctx context.Context, repo repoPath, branch string) (string, error) {
	var ref gitRef
	if err := c.http.JSON(ctx, vcs.Request{Method: http.MethodGet, Path: repo.String() + "/git/ref/heads/" + escapeRef(branch)}, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// DefaultBranch returns the repository's default branch name.
func (c *Client) DefaultBranch(ctx context.Context, repoURL string) (string, error) {
	repo, err := parseRepo(repoURL)
	if err != nil {
		return "", err
	}
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.http.JSON(ctx, vcs.Request{Method: http.MethodGet, Path: repo.String()}, &out); err != nil {
		return "", err
	}
	return out.DefaultBranch, nil
}

func (c *Client) CreateBranch(ctx context.Context, repoURL, branch, base string) (*vcs.BranchRef, error) {
	repo, err := parseRepo(repoURL)
	if err != nil {
		return nil, err
	}
	sha, err := c.branchSHA(ctx, repo, base)
	if err != nil {
		return nil, err
	}

	var ref gitRef
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   repo.String() + "/git/refs",
		Body:   map[string]string{"ref": "refs/heads/" + branch, "sha": sha},
	}, &ref)
	if err != nil {
		return nil, err
	}
	c.logger.Info("created branch", zap.String("repo", repo.owner+"/"+repo.name), zap.String("branch", branch), zap.String("base", base))
	return &vcs.BranchRef{Name: branch, SHA: ref.Object.SHA}, nil
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// CommitFiles uploads blobs in parallel, then writes one tree and one commit
// on top of the branch head and moves the branch to it.
func (c *Client) CommitFiles(ctx context.Context, repoURL, branch string, files []vcs.File, message string) (*vcs.Commit, error) {
	if len(files) == 0 {
		return nil, apierrors.New(apierrors.ErrCodeInvalidInput, "no files to commit")
	}
	repo, err := parseRepo(repoURL)
	if err != nil {
		return nil, err
	}

	head, err := c.branchSHA(ctx, repo, branch)
	if err != nil {
		return nil, err
	}
	var parent struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.http.JSON(ctx, vcs.Request{Method: http.MethodGet, Path: repo.String() + "/git/commits/" + head}, &parent); err != nil {
		return nil, err
	}

	entries := make([]treeEntry, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, f := range files {
		g.Go(func() error {
			var blob struct {
				SHA string `json:"sha"`
			}
			err := c.http.JSON(gctx, vcs.Request{
				Method: http.MethodPost,
				Path:   repo.String() + "/git/blobs",
				Body: map[string]string{
					"content":  base64.StdEncoding.EncodeToString([]byte(f.Content)),
					"encoding": "base64",
				},
			}, &blob)
			if err != nil {
				return err
			}
			entries[i] = treeEntry{Path: f.Path, Mode: "100644", Type: "blob", SHA: blob.SHA}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   repo.String() + "/git/trees",
		Body:   map[string]any{"base_tree": parent.Tree.SHA, "tree": entries},
	}, &tree)
	if err != nil {
		return nil, err
	}

	var commit struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	}
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   repo.String() + "/git/commits",
		Body:   map[string]any{"message": message, "tree": tree.SHA, "parents": []string{head}},
	}, &commit)
	if err != nil {
		return nil, err
	}

	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPatch,
		Path:   repo.String() + "/git/refs/heads/" + escapeRef(branch),
		Body:   map[string]string{"sha": commit.SHA},
	}, nil)
	if err != nil {
		return nil, err
	}

	c.logger.Info("committed files", zap.String("branch", branch), zap.String("sha", commit.SHA), zap.Int("files", len(files)))
	return &vcs.Commit{SHA: commit.SHA, URL: commit.HTMLURL}, nil
}

// CreateChangeRequest opens a pull request, then applies labels and requests
// reviewers. Label and reviewer failures are logged; the pull request stands.
func (c *Client) CreateChangeRequest(ctx context.Context, repoURL string, in vcs.ChangeRequestInput) (*vcs.ChangeRequest, error) {
	repo, err := parseRepo(repoURL)
	if err != nil {
		return nil, err
	}

	var pr struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
	}
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   repo.String() + "/pulls",
		Body: map[string]any{
			"title": in.Title,
			"body":  in.Body,
			"head":  in.Head,
			"base":  in.Base,
			"draft": in.Draft,
		},
	}, &pr)
	if err != nil {
		return nil, err
	}

	if len(in.Labels) > 0 {
		err := c.http.JSON(ctx, vcs.Request{
			Method: http.MethodPost,
			Path:   fmt.Sprintf("%s/issues/%d/labels", repo, pr.Number),
			Body:   map[string][]string{"labels": in.Labels},
		}, nil)
		if err != nil {
			c.logger.Warn("failed to label pull request", zap.Int("number", pr.Number), zap.Error(err))
		}
	}
	if len(in.Reviewers) > 0 {
		err := c.http.JSON(ctx, vcs.Request{
			Method: http.MethodPost,
			Path:   fmt.Sprintf("%s/pulls/%d/requested_reviewers", repo, pr.Number),
			Body:   map[string][]string{"reviewers": in.Reviewers},
		}, nil)
		if err != nil {
			c.logger.Warn("failed to request reviewers", zap.Int("number", pr.Number), zap.Strings("reviewers", in.Reviewers), zap.Error(err))
		}
	}

	return &vcs.ChangeRequest{
		Number: pr.Number,
		URL:    pr.HTMLURL,
		State:  pr.State,
		Head:   in.Head,
		Base:   in.Base,
	}, nil
}

func (c *Client) CodeOwners(ctx context.Context, repoURL string) ([]string, error) {
	repo, err := parseRepo(repoURL)
	if err != nil {
		return nil, err
	}
	for _, p := range codeOwnerPaths {
		var file struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		err := c.http.JSON(ctx, vcs.Request{Method: http.MethodGet, Path: repo.String() + "/contents/" + p}, &file)
		if vcs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		content := file.Content
		if file.Encoding == "base64" {
			data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
			if err != nil {
				return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "decode CODEOWNERS").WithContext("path", p)
			}
			content = string(data)
		}
		return vcs.ParseCodeOwners(content), nil
	}
	return []string{}, nil
}

// Comment is a created issue comment.
type Comment struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
}

// AddComment posts a comment on a pull request.
func (c *Client) AddComment(ctx context.Context, repoURL string, number int, body string) (*Comment, error) {
	repo, err := parseRepo(repoURL)
	if err != nil {
		return nil, err
	}
	var out Comment
	err = c.http.JSON(ctx, vcs.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/issues/%d/comments", repo, number),
		Body:   map[string]string{"body": body},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
