// Package repourl parses source repository references into owner/repo pairs.
//
// Three forms are accepted:
//
//	https://host/owner/repo[.git]
//	git@host:owner/repo[.git]
//	owner/repo
//
// Anything else is rejected. All call sites that need owner/repo go through
// Parse so the accepted grammar lives in exactly one place.
package repourl

import (
	"fmt"
	"net/url"
	"strings"
)

// Ref identifies a remote repository.
type Ref struct {
	Owner string
	Repo  string
}

func (r Ref) String() string {
	return r.Owner + "/" + r.Repo
}

// Parse extracts the owner and repository name from a repository reference.
func Parse(ref string) (Ref, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Ref{}, fmt.Errorf("repository reference is empty")
	}

	trimmed := strings.TrimSuffix(strings.TrimSuffix(ref, "/"), ".git")

	switch {
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"):
		return parseHTTP(ref, trimmed)
	case strings.HasPrefix(trimmed, "git@"):
		return parseSSH(ref, trimmed)
	default:
		return parseBare(ref, trimmed)
	}
}

func parseHTTP(orig, ref string) (Ref, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid repository url %q: %w", orig, err)
	}
	if u.Host == "" {
		return Ref{}, fmt.Errorf("invalid repository url %q: missing host", orig)
	}
	parts := splitPath(u.Path)
	if len(parts) != 2 {
		return Ref{}, fmt.Errorf("invalid repository url %q: want host/owner/repo", orig)
	}
	return newRef(orig, parts[0], parts[1])
}

func parseSSH(orig, ref string) (Ref, error) {
	// git@host:owner/repo
	rest := strings.TrimPrefix(ref, "git@")
	host, path, ok := strings.Cut(rest, ":")
	if !ok || host == "" {
		return Ref{}, fmt.Errorf("invalid repository reference %q: want git@host:owner/repo", orig)
	}
	parts := splitPath(path)
	if len(parts) != 2 {
		return Ref{}, fmt.Errorf("invalid repository reference %q: want git@host:owner/repo", orig)
	}
	return newRef(orig, parts[0], parts[1])
}

func parseBare(orig, ref string) (Ref, error) {
	parts := splitPath(ref)
	if len(parts) != 2 {
		return Ref{}, fmt.Errorf("invalid repository reference %q: want owner/repo", orig)
	}
	return newRef(orig, parts[0], parts[1])
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func newRef(orig, owner, repo string) (Ref, error) {
	if owner == "" || repo == "" {
		return Ref{}, fmt.Errorf("invalid repository reference %q", orig)
	}
	if strings.ContainsAny(owner, " \t") || strings.ContainsAny(repo, " \t") {
		return Ref{}, fmt.Errorf("invalid repository reference %q", orig)
	}
	return Ref{Owner: owner, Repo: repo}, nil
}
