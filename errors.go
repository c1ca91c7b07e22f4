package authclient

import (
	"errors"

	"github.com/crimedesk/authclient/middleware"
)

var (
	// ErrInvalidCredentials is returned when the server rejects an email and
	// password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidMFACode is returned when the server rejects a verification code.
	ErrInvalidMFACode = errors.New("invalid verification code")
	// ErrMFANotPending is returned by LoginFlow when no code step is pending.
	ErrMFANotPending = errors.New("no verification step pending")
	// ErrLoginComplete is returned by LoginFlow.Submit after authentication;
	// call Reset to start over.
	ErrLoginComplete = errors.New("login flow already complete")
	// ErrNoSession is returned by operations that need a logged-in user.
	ErrNoSession = errors.New("no active session")
	// ErrTokenInvalid is returned when the server hands out an access token
	// that is malformed or already expired.
	ErrTokenInvalid = errors.New("access token invalid or expired")
	// ErrRefreshFailed wraps every refresh failure. The session has been
	// demoted unless it changed while the refresh was in flight.
	ErrRefreshFailed = errors.New("session refresh failed")
	// ErrRefreshSuperseded is returned when the session changed while a
	// refresh was in flight and its result was dropped.
	ErrRefreshSuperseded = errors.New("refresh result superseded")
	// ErrMalformedReply is returned when a server reply does not have the
	// documented shape.
	ErrMalformedReply = errors.New("malformed server reply")
	ErrPasswordPolicy = errors.New("password policy violation")
	ErrPasswordReuse  = errors.New("new password must be different from current password")
	// ErrProfileInvalid is returned for profile updates with no changes or an
	// empty name.
	ErrProfileInvalid = errors.New("invalid profile update")
	// ErrClientNotReady is returned by methods called on a nil or closed Client.
	ErrClientNotReady = errors.New("client not ready")
	// ErrInvalidConfig is wrapped by Config.Validate failures.
	ErrInvalidConfig = errors.New("invalid configuration")

	// Transport-level sentinels, re-exported so callers need only this package
	// for errors.Is checks.
	ErrUnauthorized = middleware.ErrUnauthorized
	ErrForbidden    = middleware.ErrForbidden
	ErrNotFound     = middleware.ErrNotFound
	ErrServer       = middleware.ErrServer
	ErrNetwork      = middleware.ErrNetwork
)

// APIError and NetworkError are the error types returned by requests sent
// through the client pipeline.
type (
	APIError     = middleware.APIError
	NetworkError = middleware.NetworkError
)
