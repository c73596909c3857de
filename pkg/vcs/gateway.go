// Package vcs defines the version-control gateway the orchestrator publishes
// through, plus the HTTP plumbing shared by the REST backends.
package vcs

import (
	"context"
	"strings"
)

// File is one path and its full content in a commit.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// BranchRef is a created branch.
type BranchRef struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
}

// Commit is a created commit.
type Commit struct {
	SHA string `json:"sha"`
	URL string `json:"url,omitempty"`
}

// ChangeRequestInput describes a pull or merge request to open.
type ChangeRequestInput struct {
	Title     string
	Body      string
	Head      string
	Base      string
	Labels    []string
	Reviewers []string
	Draft     bool
}

// ChangeRequest is an opened pull or merge request.
type ChangeRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	State  string `json:"state"`
	Head   string `json:"head"`
	Base   string `json:"base"`
}

// Gateway is a version-control backend.
//
//go:generate mockgen -source=gateway.go -destination=../orchestrator/mock_gateway_test.go -package=orchestrator
type Gateway interface {
	// CreateBranch points branch at the current head of base.
	CreateBranch(ctx context.Context, repoURL, branch, base string) (*BranchRef, error)
	// CommitFiles adds or updates every file in a single commit on branch.
	CommitFiles(ctx context.Context, repoURL, branch string, files []File, message string) (*Commit, error)
	CreateChangeRequest(ctx context.Context, repoURL string, in ChangeRequestInput) (*ChangeRequest, error)
	// CodeOwners returns owner handles without the leading "@". A repository
	// without a CODEOWNERS file yields an empty list and no error.
	CodeOwners(ctx context.Context, repoURL string) ([]string, error)
}

// Reviewers keeps the owners that name individual users, dropping team
// handles such as "org/team".
func Reviewers(owners []string) []string {
	var out []string
	for _, o := range owners {
		o = strings.TrimPrefix(strings.TrimSpace(o), "@")
		if o == "" || strings.Contains(o, "/") {
			continue
		}
		out = append(out, o)
	}
	return out
}
