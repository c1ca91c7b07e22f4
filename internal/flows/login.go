package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/crimedesk/authclient/role"
	"github.com/crimedesk/authclient/session"
	"github.com/crimedesk/authclient/token"
)

// AuthReply is the response body of /auth/login and /auth/verify-2fa.
type AuthReply struct {
	AccessToken             string                           `json:"accessToken,omitempty"`
	RefreshToken            string                           `json:"refreshToken,omitempty"`
	UserID                  int64                            `json:"userId"`
	FirstName               string                           `json:"firstName"`
	LastName                string                           `json:"lastName"`
	Email                   string                           `json:"email"`
	Role                    string                           `json:"role"`
	MFAEnabled              bool                             `json:"mfaEnabled"`
	MFARequired             bool                             `json:"mfaRequired"`
	NotificationPreferences *session.NotificationPreferences `json:"notificationPreferences,omitempty"`
}

// LoginStep is where the login state machine stands after a reply.
type LoginStep int

const (
	LoginStepNone LoginStep = iota
	LoginStepMFA
	LoginStepAuthenticated
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRejected
	LoginFailureExchange
	LoginFailureMalformedReply
	LoginFailureInvalidToken
)

// LoginOutcome carries either the next step or failure metadata.
type LoginOutcome struct {
	Step    LoginStep
	Failure LoginFailureKind
	Err     error
	User    *session.User
	Claims  *token.Claims
	// ApplyErr is a persistence failure; the session is still established.
	ApplyErr error
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	Success     int
	Failure     int
	MFARequired int
}

// LoginEvents carries audit event names for one login step.
type LoginEvents struct {
	Success     string
	Failure     string
	MFARequired string
}

// LoginDeps captures login and MFA verification dependencies. The same flow
// serves both endpoints; only Exchange and the metric/event names differ.
type LoginDeps struct {
	Email string

	Exchange    func(context.Context) (*AuthReply, error)
	IsRejection func(error) bool
	Now         func() time.Time
	Apply       func(context.Context, *session.User) error

	Metrics   LoginMetrics
	Events    LoginEvents
	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, *session.User, error, func() map[string]string)

	MalformedErr error
	InvalidErr   error
}

// RunLogin exchanges credentials (or an MFA code) and classifies the reply:
// both tokens present means authenticated, mfaRequired without tokens means
// the code step, anything else is a failure.
func RunLogin(ctx context.Context, deps LoginDeps) LoginOutcome {
	reply, err := deps.Exchange(ctx)
	if err != nil {
		kind := LoginFailureExchange
		if deps.IsRejection != nil && deps.IsRejection(err) {
			kind = LoginFailureRejected
		}
		return loginFailure(ctx, deps, kind, err)
	}
	if reply == nil {
		return loginFailure(ctx, deps, LoginFailureMalformedReply, deps.MalformedErr)
	}

	hasAccess, hasRefresh := reply.AccessToken != "", reply.RefreshToken != ""
	switch {
	case !hasAccess && !hasRefresh && reply.MFARequired:
		deps.metricInc(deps.Metrics.MFARequired)
		deps.emit(ctx, deps.Events.MFARequired, true, nil, nil, func() map[string]string {
			return map[string]string{"user_id": strconv.FormatInt(reply.UserID, 10)}
		})
		return LoginOutcome{Step: LoginStepMFA}
	case !hasAccess || !hasRefresh:
		return loginFailure(ctx, deps, LoginFailureMalformedReply, deps.MalformedErr)
	}

	claims, ok := token.Fresh(reply.AccessToken, deps.now())
	if !ok {
		return loginFailure(ctx, deps, LoginFailureInvalidToken, deps.InvalidErr)
	}

	r, err := ReplyRole(reply.Role, claims)
	if err != nil {
		return loginFailure(ctx, deps, LoginFailureMalformedReply, errors.Join(deps.MalformedErr, err))
	}

	user := &session.User{
		ID:           reply.UserID,
		FirstName:    reply.FirstName,
		LastName:     reply.LastName,
		Email:        reply.Email,
		Role:         r,
		MFAEnabled:   reply.MFAEnabled,
		AccessToken:  reply.AccessToken,
		RefreshToken: reply.RefreshToken,
	}
	if user.Email == "" {
		user.Email = firstNonEmpty(claims.Email, deps.Email)
	}
	if reply.NotificationPreferences != nil {
		user.Notifications = *reply.NotificationPreferences
	}

	out := LoginOutcome{Step: LoginStepAuthenticated, User: user, Claims: claims}
	if deps.Apply != nil {
		out.ApplyErr = deps.Apply(ctx, user)
	}

	deps.metricInc(deps.Metrics.Success)
	deps.emit(ctx, deps.Events.Success, true, user, nil, nil)
	return out
}

// ReplyRole resolves the user's role from the reply body, falling back to
// the access token's role claim.
func ReplyRole(raw string, claims *token.Claims) (role.Role, error) {
	if raw == "" && claims != nil {
		raw = claims.Role
	}
	return role.Parse(raw)
}

func loginFailure(ctx context.Context, deps LoginDeps, kind LoginFailureKind, err error) LoginOutcome {
	deps.metricInc(deps.Metrics.Failure)
	deps.emit(ctx, deps.Events.Failure, false, nil, err, func() map[string]string {
		return map[string]string{"reason": kind.String()}
	})
	return LoginOutcome{Failure: kind, Err: err}
}

func (k LoginFailureKind) String() string {
	switch k {
	case LoginFailureRejected:
		return "rejected"
	case LoginFailureExchange:
		return "exchange"
	case LoginFailureMalformedReply:
		return "malformed_reply"
	case LoginFailureInvalidToken:
		return "invalid_token"
	default:
		return "none"
	}
}

func (d LoginDeps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d LoginDeps) metricInc(id int) {
	if d.MetricInc != nil {
		d.MetricInc(id)
	}
}

func (d LoginDeps) emit(ctx context.Context, event string, success bool, u *session.User, err error, meta func() map[string]string) {
	if d.EmitAudit != nil && event != "" {
		d.EmitAudit(ctx, event, success, u, err, meta)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
