package authclient

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one finding of Config.Lint. Code is stable and safe to
// match on; Message is for humans.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins the warnings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	var errs []error
	for _, w := range r.BySeverity(min) {
		errs = append(errs, fmt.Errorf("%s [%s]: %s", w.Code, w.Severity, w.Message))
	}
	return errors.Join(errs...)
}

// Lint reports settings that are valid but likely wrong. Unlike Validate it
// never fails; callers decide which severities to act on.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.API.BaseURL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		add("plaintext_base_url", LintWarn, "tokens are sent over plain HTTP to %s", u.Host)
	}
	if c.API.Timeout == 0 {
		add("api_timeout_disabled", LintInfo, "API requests have no client-side timeout")
	}
	for _, p := range []string{"/auth/login", "/auth/verify-2fa", "/auth/refresh-token"} {
		if !containsPath(c.API.PublicPaths, p) {
			add("auth_path_not_public", LintHigh, "%s is not in API PublicPaths; a rejected attempt would end the session", p)
		}
	}

	switch {
	case c.Refresh.LeadTime == 0:
		add("lead_time_zero", LintWarn, "refresh fires only when the access token has already expired")
	case c.Refresh.LeadTime > 10*time.Minute:
		add("lead_time_large", LintInfo, "refresh lead time %s refreshes short-lived tokens immediately", c.Refresh.LeadTime)
	}
	if c.Refresh.LeadTime > 0 && c.Refresh.Timeout > c.Refresh.LeadTime {
		add("refresh_timeout_exceeds_lead", LintWarn, "a refresh taking %s can outlive the %s lead time", c.Refresh.Timeout, c.Refresh.LeadTime)
	}

	if c.Routes.Forbidden == c.Routes.Login {
		add("forbidden_route_is_login", LintHigh, "a 403 would send an authenticated user to the login route")
	}
	for _, p := range c.Faults.ForbiddenRedirectPrefixes {
		if p == "/" {
			add("forbidden_redirect_everywhere", LintWarn, "every 403 navigates away from the current view")
			break
		}
	}

	if c.Audit.Enabled && !c.Audit.DropIfFull {
		add("audit_blocking", LintWarn, "a slow audit sink blocks session operations")
	}

	return ws
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func containsPath(paths []string, p string) bool {
	for _, v := range paths {
		if strings.TrimSuffix(v, "/") == p {
			return true
		}
	}
	return false
}
