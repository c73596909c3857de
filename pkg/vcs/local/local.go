// Package local publishes change sets into a local git clone with go-git.
// Commits are written straight to the object store, so the working tree is
// never touched. Change requests become markdown files under
// .git/autopilot/change-requests/.
package local

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/giturl"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/vcs"
)

var codeOwnerPaths = []string{"CODEOWNERS", ".github/CODEOWNERS", ".gitlab/CODEOWNERS", "docs/CODEOWNERS"}

// Options configures a Client.
type Options struct {
	// RepoPath, when set, is used for every call regardless of repoURL.
	RepoPath      string
	AuthorName    string
	AuthorEmail   string
	DefaultBranch string
	Now           func() time.Time
	Logger        *zap.Logger
}

// Client implements vcs.Gateway over a local repository.
type Client struct {
	opts   Options
	logger *zap.Logger
	mu     sync.Mutex
}

var _ vcs.Gateway = (*Client)(nil)

// New creates a local backend.
func New(opts Options) *Client {
	if opts.AuthorName == "" {
		opts.AuthorName = "Instrumentation Autopilot"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "autopilot@localhost"
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "main"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{opts: opts, logger: logging.ForCategory(opts.Logger, logging.CategoryGateway)}
}

func (c *Client) repoPath(repoURL string) string {
	if c.opts.RepoPath != "" {
		return c.opts.RepoPath
	}
	return giturl.LocalPath(repoURL)
}

func (c *Client) open(repoURL string) (*git.Repository, string, error) {
	path := c.repoPath(repoURL)
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, "", apierrors.Wrap(err, apierrors.ErrCodeGateway, "open local repository").WithContext("path", path)
	}
	return repo, path, nil
}

func (c *Client) CreateBranch(_ context.Context, repoURL, branch, base string) (*vcs.BranchRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	repo, _, err := c.open(repoURL)
	if err != nil {
		return nil, err
	}
	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "resolve base branch").WithContext("base", base)
	}

	name := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(name, false); err == nil {
		return nil, apierrors.New(apierrors.ErrCodeGateway, "branch already exists").WithContext("branch", branch)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(name, baseRef.Hash())); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "create branch").WithContext("branch", branch)
	}
	c.logger.Info("created branch", zap.String("branch", branch), zap.String("base", base))
	return &vcs.BranchRef{Name: branch, SHA: baseRef.Hash().String()}, nil
}

// CommitFiles writes one commit on branch whose tree is the branch head's
// tree with files added or replaced.
func (c *Client) CommitFiles(_ context.Context, repoURL, branch string, files []vcs.File, message string) (*vcs.Commit, error) {
	if len(files) == 0 {
		return nil, apierrors.New(apierrors.ErrCodeInvalidInput, "no files to commit")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	repo, _, err := c.open(repoURL)
	if err != nil {
		return nil, err
	}
	name := plumbing.NewBranchReferenceName(branch)
	ref, err := repo.Reference(name, true)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "resolve branch").WithContext("branch", branch)
	}
	parent, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "load branch head")
	}
	baseTree, err := parent.Tree()
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "load branch tree")
	}

	contents := make(map[string]string, len(files))
	for _, f := range files {
		p := strings.Trim(filepath.ToSlash(f.Path), "/")
		if p == "" || strings.Contains("/"+p+"/", "/../") {
			return nil, apierrors.New(apierrors.ErrCodeInvalidInput, "invalid file path").WithContext("path", f.Path)
		}
		contents[p] = f.Content
	}

	treeHash, err := writeTree(repo.Storer, baseTree, contents)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "write tree")
	}

	sig := object.Signature{Name: c.opts.AuthorName, Email: c.opts.AuthorEmail, When: c.opts.Now()}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: []plumbing.Hash{parent.Hash},
	}
	obj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "encode commit")
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "store commit")
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(name, hash)); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "update branch")
	}

	c.logger.Info("committed files", zap.String("branch", branch), zap.String("sha", hash.String()), zap.Int("files", len(files)))
	return &vcs.Commit{SHA: hash.String()}, nil
}

// writeTree stores a tree equal to base with files (slash paths relative to
// base) written over it and returns its hash. base may be nil.
func writeTree(s storer.EncodedObjectStorer, base *object.Tree, files map[string]string) (plumbing.Hash, error) {
	entries := make(map[string]object.TreeEntry)
	if base != nil {
		for _, e := range base.Entries {
			entries[e.Name] = e
		}
	}

	subdirs := make(map[string]map[string]string)
	for p, content := range files {
		head, rest, nested := strings.Cut(p, "/")
		if !nested {
			hash, err := writeBlob(s, content)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			entries[head] = object.TreeEntry{Name: head, Mode: filemode.Regular, Hash: hash}
			continue
		}
		if subdirs[head] == nil {
			subdirs[head] = make(map[string]string)
		}
		subdirs[head][rest] = content
	}

	for dir, children := range subdirs {
		var sub *object.Tree
		if e, ok := entries[dir]; ok && e.Mode == filemode.Dir {
			t, err := object.GetTree(s, e.Hash)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			sub = t
		}
		hash, err := writeTree(s, sub, children)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries[dir] = object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: hash}
	}

	tree := &object.Tree{Entries: make([]object.TreeEntry, 0, len(entries))}
	for _, e := range entries {
		tree.Entries = append(tree.Entries, e)
	}
	// git orders entries as if directory names had a trailing slash.
	sortKey := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(tree.Entries, func(i, j int) bool {
		return sortKey(tree.Entries[i]) < sortKey(tree.Entries[j])
	})

	obj := s.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

func writeBlob(s storer.EncodedObjectStorer, content string) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := io.WriteString(w, content); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// ChangeRequestRecord is the front matter of a recorded change request.
type ChangeRequestRecord struct {
	Number    int       `yaml:"number"`
	Title     string    `yaml:"title"`
	Head      string    `yaml:"head"`
	Base      string    `yaml:"base"`
	Labels    []string  `yaml:"labels,omitempty"`
	Reviewers []string  `yaml:"reviewers,omitempty"`
	Draft     bool      `yaml:"draft"`
	State     string    `yaml:"state"`
	CreatedAt time.Time `yaml:"created_at"`
}

// CreateChangeRequest records the request as {n}.md with YAML front matter
// followed by the description.
func (c *Client) CreateChangeRequest(_ context.Context, repoURL string, in vcs.ChangeRequestInput) (*vcs.ChangeRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	repo, path, err := c.open(repoURL)
	if err != nil {
		return nil, err
	}
	for _, b := range []string{in.Head, in.Base} {
		if _, err := repo.Reference(plumbing.NewBranchReferenceName(b), true); err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "resolve change request branch").WithContext("branch", b)
		}
	}

	dir := ChangeRequestDir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "create change request directory")
	}
	existing, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "list change requests")
	}

	record := ChangeRequestRecord{
		Number:    len(existing) + 1,
		Title:     in.Title,
		Head:      in.Head,
		Base:      in.Base,
		Labels:    in.Labels,
		Reviewers: in.Reviewers,
		Draft:     in.Draft,
		State:     "open",
		CreatedAt: c.opts.Now().UTC(),
	}
	header, err := yaml.Marshal(record)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeInternal, "encode change request")
	}

	file := filepath.Join(dir, fmt.Sprintf("%d.md", record.Number))
	content := "---\n" + string(header) + "---\n\n" + in.Body
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "write change request").WithContext("path", file)
	}

	return &vcs.ChangeRequest{
		Number: record.Number,
		URL:    "file://" + filepath.ToSlash(file),
		State:  record.State,
		Head:   in.Head,
		Base:   in.Base,
	}, nil
}

// ChangeRequestDir is where change requests for the clone at repoPath live.
func ChangeRequestDir(repoPath string) string {
	return filepath.Join(repoPath, ".git", "autopilot", "change-requests")
}

// CodeOwners reads CODEOWNERS from the default branch, falling back to HEAD.
func (c *Client) CodeOwners(_ context.Context, repoURL string) ([]string, error) {
	repo, _, err := c.open(repoURL)
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(c.opts.DefaultBranch), true)
	if err != nil {
		ref, err = repo.Head()
	}
	if stderrors.Is(err, plumbing.ErrReferenceNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "resolve default branch")
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "load default branch head")
	}
	for _, p := range codeOwnerPaths {
		f, err := commit.File(p)
		if stderrors.Is(err, object.ErrFileNotFound) {
			continue
		}
		if err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "read CODEOWNERS").WithContext("path", p)
		}
		content, err := f.Contents()
		if err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeGateway, "read CODEOWNERS").WithContext("path", p)
		}
		return vcs.ParseCodeOwners(content), nil
	}
	return []string{}, nil
}
