package giturl

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

// Repo is a parsed repository URL.
type Repo struct {
	Raw      string
	Scheme   string
	HostPort string
	Host     string
	// Path is the repository path without surrounding slashes or a .git
	// suffix, e.g. "org/orders-enricher" or "group/sub/orders-enricher".
	Path string
	// Owner is everything in Path before the final segment.
	Owner string
	Name  string
}

// FullName is Owner/Name.
func (r Repo) FullName() string {
	return r.Path
}

// IsLocal reports whether the URL points at the local filesystem.
func (r Repo) IsLocal() bool {
	return r.Scheme == "file"
}

// Parse accepts https, http, ssh, git and file URLs plus scp-style
// "user@host:org/repo.git" addresses.
func Parse(raw string) (Repo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Repo{}, fmt.Errorf("repository URL is empty")
	}

	var (
		repo Repo
		p    string
		err  error
	)
	if strings.Contains(raw, "://") {
		repo, p, err = splitURL(raw)
	} else {
		repo, p, err = splitSCP(raw)
	}
	if err != nil {
		return Repo{}, err
	}
	repo.Raw = raw

	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")
	if repo.IsLocal() {
		repo.Path = "/" + p
		repo.Name = path.Base(repo.Path)
		repo.Owner = strings.Trim(path.Dir(repo.Path), "/")
		return repo, nil
	}

	segments := strings.Split(p, "/")
	if len(segments) < 2 || segments[0] == "" || segments[len(segments)-1] == "" {
		return Repo{}, fmt.Errorf("repository URL %q has no owner/name path", raw)
	}
	repo.Path = p
	repo.Owner = strings.Join(segments[:len(segments)-1], "/")
	repo.Name = segments[len(segments)-1]
	return repo, nil
}

func splitURL(raw string) (Repo, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Repo{}, "", fmt.Errorf("invalid repository URL: %w", err)
	}
	repo := Repo{
		Scheme:   strings.ToLower(u.Scheme),
		HostPort: u.Host,
		Host:     hostname(u.Host),
	}
	if repo.Scheme == "" {
		return Repo{}, "", fmt.Errorf("repository URL scheme is required")
	}
	if repo.Host == "" && !repo.IsLocal() {
		return Repo{}, "", fmt.Errorf("repository URL host is required for scheme %q", repo.Scheme)
	}
	return repo, u.Path, nil
}

// splitSCP handles [user@]host:org/repo(.git).
func splitSCP(raw string) (Repo, string, error) {
	if strings.ContainsAny(raw, " \t\r\n") {
		return Repo{}, "", fmt.Errorf("invalid repository URL %q", raw)
	}
	hostPart, p, ok := strings.Cut(raw, ":")
	if !ok || hostPart == "" || p == "" || strings.ContainsAny(hostPart, `/\`) {
		return Repo{}, "", fmt.Errorf("invalid repository URL %q", raw)
	}
	if i := strings.LastIndex(hostPart, "@"); i >= 0 {
		hostPart = hostPart[i+1:]
	}
	host := hostname(hostPart)
	if host == "" {
		return Repo{}, "", fmt.Errorf("repository URL host is required")
	}
	return Repo{Scheme: "ssh", HostPort: hostPart, Host: host}, p, nil
}

// hostname strips a port and IPv6 brackets and lowercases the result.
func hostname(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		hostport = host
	}
	return strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]"))
}

// LocalPath returns the filesystem path of a file URL, or raw itself when it
// is not a URL.
func LocalPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return raw
	}
	return u.Path
}
