package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/crimedesk/authclient/token"
)

// TokenSource yields the current access token, "" when there is none.
type TokenSource interface {
	AccessToken() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) AccessToken() string { return f() }

// Decision is the authorizer's verdict for one request.
type Decision uint8

const (
	// DecisionOutsideAPI: the URL is not under the API base.
	DecisionOutsideAPI Decision = iota
	// DecisionPublic: the URL is an allowlisted auth/public endpoint.
	DecisionPublic
	// DecisionExplicit: the caller already set Authorization.
	DecisionExplicit
	// DecisionAttach: a fresh, well-formed token is attached.
	DecisionAttach
	// DecisionNoToken: no usable token; sent as is.
	DecisionNoToken
)

func (d Decision) String() string {
	switch d {
	case DecisionOutsideAPI:
		return "outside_api"
	case DecisionPublic:
		return "public"
	case DecisionExplicit:
		return "explicit"
	case DecisionAttach:
		return "attach"
	case DecisionNoToken:
		return "no_token"
	default:
		return "unknown"
	}
}

// Authorizer decides per request whether to attach the bearer token. It
// never refuses a request; the server is the authority.
type Authorizer struct {
	scope  *Scope
	tokens TokenSource
	now    func() time.Time
}

// NewAuthorizer builds an Authorizer. A nil now uses time.Now.
func NewAuthorizer(scope *Scope, tokens TokenSource, now func() time.Time) *Authorizer {
	if now == nil {
		now = time.Now
	}
	return &Authorizer{scope: scope, tokens: tokens, now: now}
}

// Decide returns the decision for req and the token to attach, if any.
func (a *Authorizer) Decide(req *http.Request) (Decision, string) {
	if !a.scope.InAPI(req.URL) {
		return DecisionOutsideAPI, ""
	}
	if a.scope.IsPublic(req.URL) {
		return DecisionPublic, ""
	}
	if req.Header.Get("Authorization") != "" {
		return DecisionExplicit, ""
	}
	if a.tokens == nil {
		return DecisionNoToken, ""
	}
	tok := a.tokens.AccessToken()
	if _, ok := token.Fresh(tok, a.now()); !ok {
		return DecisionNoToken, ""
	}
	return DecisionAttach, tok
}

// Middleware returns the authorizer as a pipeline stage.
func (a *Authorizer) Middleware() Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			d, tok := a.Decide(req)
			if d != DecisionAttach {
				return next.Do(req)
			}
			out := req.Clone(req.Context())
			out.Header.Set("Authorization", "Bearer "+tok)
			return next.Do(out)
		})
	}
}

// Authorize is shorthand for NewAuthorizer(scope, tokens, now).Middleware().
func Authorize(scope *Scope, tokens TokenSource, now func() time.Time) Middleware {
	return NewAuthorizer(scope, tokens, now).Middleware()
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	tok := value[len(bearer):]
	if tok == "" {
		return "", false
	}

	return tok, true
}
