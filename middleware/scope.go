package middleware

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultPublicPaths are the API-relative endpoints that never carry a
// bearer token.
var DefaultPublicPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/verify-2fa",
	"/auth/refresh-token",
	"/auth/forgot-password",
	"/auth/reset-password",
	"/languages",
}

// Scope classifies request URLs relative to the API base URL.
type Scope struct {
	scheme string
	host   string
	path   string
	public []string
}

// NewScope parses baseURL, which must be absolute. publicPaths are relative
// to the base path; a path also covers its sub-paths.
func NewScope(baseURL string, publicPaths []string) (*Scope, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("middleware: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("middleware: base url %q must be absolute", baseURL)
	}

	s := &Scope{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Host),
		path:   strings.TrimRight(u.Path, "/"),
	}
	for _, p := range publicPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		s.public = append(s.public, strings.TrimRight(p, "/"))
	}
	return s, nil
}

// Relative returns u's path relative to the API base path and whether u is
// under the base at all.
func (s *Scope) Relative(u *url.URL) (string, bool) {
	if s == nil {
		if u == nil {
			return "", false
		}
		return u.Path, true
	}
	if u == nil || strings.ToLower(u.Scheme) != s.scheme || strings.ToLower(u.Host) != s.host {
		return "", false
	}
	p := u.Path
	if s.path == "" {
		return p, true
	}
	if p == s.path {
		return "/", true
	}
	if !strings.HasPrefix(p, s.path+"/") {
		return "", false
	}
	return p[len(s.path):], true
}

// InAPI reports whether u is under the API base.
func (s *Scope) InAPI(u *url.URL) bool {
	_, ok := s.Relative(u)
	return ok
}

// IsPublic reports whether u is an allowlisted endpoint under the API base.
func (s *Scope) IsPublic(u *url.URL) bool {
	rel, ok := s.Relative(u)
	if !ok || s == nil {
		return false
	}
	for _, p := range s.public {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

// Host returns the API host, "" for a nil scope.
func (s *Scope) Host() string {
	if s == nil {
		return ""
	}
	return s.host
}

// Resolve turns an API-relative reference such as "/auth/login?x=1" into an
// absolute URL under the base. Absolute references are returned unchanged.
func (s *Scope) Resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("middleware: parse request path: %w", err)
	}
	if r.IsAbs() {
		return r, nil
	}
	if s == nil {
		return nil, fmt.Errorf("middleware: relative path %q without API base", ref)
	}
	out := &url.URL{
		Scheme:   s.scheme,
		Host:     s.host,
		Path:     s.path + "/" + strings.TrimLeft(r.Path, "/"),
		RawQuery: r.RawQuery,
	}
	return out, nil
}
