// Package repository resolves VCS root fetch URLs to the owner and name of the
// repository on a hosting service.
package repository

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// VcsKind is the version control system of a VCS root.
type VcsKind string

const (
	// Git is a git VCS root.
	Git VcsKind = "git"
	// Mercurial is a mercurial VCS root.
	Mercurial VcsKind = "mercurial"
	// Subversion is a subversion VCS root.
	Subversion VcsKind = "subversion"
	// Perforce is a Perforce VCS root. Perforce roots do not carry a repository URL
	// the hosting services understand, so they never parse.
	Perforce VcsKind = "perforce"
)

// Repository identifies a repository on a hosting service.
type Repository struct {
	// Owner is the user, organization, workspace or project owning the repository.
	Owner string
	// Name is the repository name.
	Name string
	// URL is the canonical web URL of the repository.
	URL string
	// Server is the base URL of the service the repository lives on. For Azure DevOps
	// this is the organization or collection URL.
	Server string
}

// String returns owner/name.
func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseError is returned when a URL does not match the grammar of a hosting service.
type ParseError struct {
	URL    string
	Kind   VcsKind
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot determine repository from %s url %q: %s", e.Kind, e.URL, e.Reason)
}

// Rule is a hosting service specific path convention.
//
// Path must define the named groups "name" and optionally "owner" and "base".
// "base" is a path prefix that belongs to the service base URL (an Azure DevOps
// collection, a sub-directory install). When "owner" does not participate in the
// match the repository name is used as owner.
type Rule struct {
	// Host restricts the rule to matching hosts. Nil matches every host.
	Host *regexp.Regexp
	// CanonicalHost replaces the URL host in the resolved URLs.
	CanonicalHost string
	// Path is matched against the URL path with a leading slash.
	Path *regexp.Regexp
	// URL formats the canonical web URL. Defaults to server/owner/name.
	URL func(server, owner, name string) string
}

// Grammar describes how a hosting service lays out repository URLs.
type Grammar struct {
	// Name of the grammar, used in diagnostics.
	Name string
	// PathPrefix is stripped from HTTP paths before splitting, e.g. "/scm".
	PathPrefix string
	// LowerCase folds owner and name for services with case-insensitive paths.
	LowerCase bool
	// Rules are tried in order. A grammar without rules splits the path on its first separator.
	Rules []Rule
}

var (
	scpLikeURL = regexp.MustCompile(`^(?:[^@/]+@)?([^:/]+):(.+)$`)
	// svnLayout matches the last trunk, branch or tag segment so owners and
	// repositories may carry those names themselves.
	svnLayout = regexp.MustCompile(`^(.*)/(?:trunk|branches/[^/]+|tags/[^/]+)(?:/.*)?$`)
)

// location is a fetch URL reduced to the parts the grammars care about.
type location struct {
	scheme string
	host   string
	path   string
	// http is false for ssh and scp-like URLs, which never carry a path prefix.
	http bool
}

// Parse maps a VCS root fetch URL to a Repository using grammar. It returns a
// *ParseError, never a partially populated Repository, when the URL does not match.
func Parse(ctx context.Context, kind VcsKind, rawURL string, grammar Grammar) (*Repository, error) {
	repo, err := parse(kind, rawURL, grammar)
	if err != nil {
		log.FromContext(ctx).Info("Unable to parse repository url", "url", redact(rawURL), "grammar", grammar.Name, "reason", err.Reason)
		return nil, err
	}
	return repo, nil
}

func parse(kind VcsKind, rawURL string, grammar Grammar) (*Repository, *ParseError) {
	fail := func(reason string) *ParseError {
		return &ParseError{URL: redact(rawURL), Kind: kind, Reason: reason}
	}

	switch kind {
	case Git, Mercurial, Subversion:
	case Perforce:
		return nil, fail("perforce roots have no repository url")
	default:
		return nil, fail(fmt.Sprintf("unsupported vcs %q", kind))
	}

	loc, ok := split(strings.TrimSpace(rawURL))
	if !ok {
		return nil, fail("not a url")
	}

	if kind == Subversion {
		loc.path = svnLayout.ReplaceAllString(loc.path, "$1")
	}

	if len(grammar.Rules) > 0 {
		return matchRules(loc, grammar, fail)
	}

	path := loc.path
	if loc.http && grammar.PathPrefix != "" {
		p := "/" + strings.Trim(grammar.PathPrefix, "/")
		if path == p || strings.HasPrefix(path, p+"/") {
			path = strings.TrimPrefix(path, p)
		}
	}
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	path = strings.TrimSuffix(path, ".git")

	idx := strings.Index(path, "/")
	if idx <= 0 {
		return nil, fail("path has no owner segment")
	}
	owner, name := path[:idx], strings.TrimSuffix(path[idx+1:], "/")
	if name == "" {
		return nil, fail("path has no repository segment")
	}
	if grammar.LowerCase {
		owner, name = strings.ToLower(owner), strings.ToLower(name)
	}

	server := loc.scheme + "://" + loc.host
	return &Repository{
		Owner:  owner,
		Name:   name,
		URL:    server + "/" + owner + "/" + name,
		Server: server,
	}, nil
}

func matchRules(loc location, grammar Grammar, fail func(string) *ParseError) (*Repository, *ParseError) {
	for _, rule := range grammar.Rules {
		if rule.Host != nil && !rule.Host.MatchString(loc.host) {
			continue
		}
		m := rule.Path.FindStringSubmatch(loc.path)
		if m == nil {
			continue
		}
		group := func(name string) string {
			if i := rule.Path.SubexpIndex(name); i > 0 {
				return m[i]
			}
			return ""
		}

		name := strings.TrimSuffix(group("name"), ".git")
		owner := group("owner")
		if owner == "" {
			owner = name
		}
		if name == "" {
			return nil, fail("path has no repository segment")
		}
		if grammar.LowerCase {
			owner, name = strings.ToLower(owner), strings.ToLower(name)
		}

		host := loc.host
		if rule.CanonicalHost != "" {
			host = rule.CanonicalHost
		}
		server := loc.scheme + "://" + host
		if base := strings.Trim(group("base"), "/"); base != "" {
			server += "/" + base
		}

		repo := &Repository{Owner: owner, Name: name, Server: server}
		if rule.URL != nil {
			repo.URL = rule.URL(server, owner, name)
		} else {
			repo.URL = server + "/" + owner + "/" + name
		}
		return repo, nil
	}
	return nil, fail(fmt.Sprintf("path does not match any %s url convention", grammar.Name))
}

func split(raw string) (location, bool) {
	if raw == "" {
		return location{}, false
	}

	if !strings.Contains(raw, "://") {
		m := scpLikeURL.FindStringSubmatch(raw)
		if m == nil {
			return location{}, false
		}
		path := m[2]
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return location{scheme: "https", host: m[1], path: path}, true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return location{}, false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return location{scheme: strings.ToLower(u.Scheme), host: u.Host, path: u.Path, http: true}, true
	case "ssh", "git+ssh", "ssh+git", "svn+ssh", "git", "svn":
		// Ports of ssh and git daemons say nothing about the web endpoint.
		return location{scheme: "https", host: u.Hostname(), path: u.Path}, true
	default:
		return location{}, false
	}
}

// redact removes passwords from URLs before they reach logs or errors.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
