package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	internalaudit "github.com/crimedesk/authclient/internal/audit"
	"github.com/crimedesk/authclient/internal/flows"
	"github.com/crimedesk/authclient/notify"
	"github.com/crimedesk/authclient/role"
	"github.com/crimedesk/authclient/token"
)

const (
	pathLogin          = "/auth/login"
	pathVerifyMFA      = "/auth/verify-2fa"
	pathRefreshToken   = "/auth/refresh-token"
	pathLogout         = "/auth/logout"
	pathProfile        = "/auth/users/profile"
	pathChangePassword = "/auth/change-password"
)

type verifyMFARequest struct {
	Email   string `json:"email"`
	MFACode string `json:"mfaCode"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login posts the credentials to /auth/login.
//
// With both tokens in the reply the session is established, persisted and
// the refresh timer armed. A reply with mfaRequired and no tokens returns
// LoginResult{MFARequired: true} and leaves the session alone. A 400 or 401
// reply is ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if creds.Email == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidCredentials)
	}

	deps := c.loginDeps(creds.Email, pathLogin, creds, ErrInvalidCredentials,
		flows.LoginMetrics{
			Success:     int(MetricLoginSuccess),
			Failure:     int(MetricLoginFailure),
			MFARequired: int(MetricMFARequired),
		},
		flows.LoginEvents{
			Success:     internalaudit.EventLoginSuccess,
			Failure:     internalaudit.EventLoginFailure,
			MFARequired: internalaudit.EventMFARequired,
		},
	)
	return c.finishLogin(ctx, flows.RunLogin(ctx, deps))
}

// VerifyMFA posts the emailed code to /auth/verify-2fa. The reply has the
// same shape as the login reply; a rejected code is ErrInvalidMFACode.
func (c *Client) VerifyMFA(ctx context.Context, email, code string) (*LoginResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if email == "" || code == "" {
		return nil, fmt.Errorf("%w: email and code are required", ErrInvalidMFACode)
	}

	deps := c.loginDeps(email, pathVerifyMFA, verifyMFARequest{Email: email, MFACode: code}, ErrInvalidMFACode,
		flows.LoginMetrics{
			Success:     int(MetricMFASuccess),
			Failure:     int(MetricMFAFailure),
			MFARequired: int(MetricMFARequired),
		},
		flows.LoginEvents{
			Success:     internalaudit.EventMFASuccess,
			Failure:     internalaudit.EventMFAFailure,
			MFARequired: internalaudit.EventMFARequired,
		},
	)
	return c.finishLogin(ctx, flows.RunLogin(ctx, deps))
}

func (c *Client) loginDeps(email, path string, body any, rejectErr error, metrics flows.LoginMetrics, events flows.LoginEvents) flows.LoginDeps {
	return flows.LoginDeps{
		Email: email,
		Exchange: func(ctx context.Context) (*flows.AuthReply, error) {
			var reply flows.AuthReply
			if err := c.sendJSON(ctx, http.MethodPost, path, body, &reply); err != nil {
				if isRejection(err) {
					return nil, fmt.Errorf("%w: %w", rejectErr, err)
				}
				return nil, err
			}
			return &reply, nil
		},
		IsRejection: func(err error) bool { return errors.Is(err, rejectErr) },
		Now:         c.clock.Now,
		Apply:       c.state.SetUser,
		Metrics:     metrics,
		Events:      events,
		MetricInc:   func(id int) { c.metricInc(MetricID(id)) },
		EmitAudit:   c.emitAudit,

		MalformedErr: ErrMalformedReply,
		InvalidErr:   ErrTokenInvalid,
	}
}

func (c *Client) finishLogin(ctx context.Context, out flows.LoginOutcome) (*LoginResult, error) {
	if out.Failure != flows.LoginFailureNone {
		c.logger.Debug("authclient: login failed", "reason", out.Failure.String(), "error", out.Err)
		return nil, out.Err
	}
	if out.Step == flows.LoginStepMFA {
		return &LoginResult{MFARequired: true}, nil
	}

	if out.ApplyErr != nil {
		c.logger.Warn("authclient: session established but not persisted", "error", out.ApplyErr)
	}
	c.armRefresh(ctx, out.Claims)

	return &LoginResult{
		User:     out.User.Clone(),
		Redirect: c.config.Routes.RouteFor(out.User.Role),
	}, nil
}

// isRejection reports whether err is the server refusing the submitted
// credentials or code.
func isRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized
}

// Refresh exchanges the refresh token for a new token pair and re-arms the
// timer. Concurrent callers share one exchange.
//
// Any failure demotes the session: tokens are dropped, the profile is kept
// in memory (State.Remembered) and a session-expired notice is raised. There
// is no retry. A result that arrives after the session changed (logout, new
// login) is dropped and ErrRefreshSuperseded returned.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err, shared := c.refreshGroup.Do("refresh", func() (any, error) {
		return nil, c.runRefresh(ctx, c.flows.Refresh, nil)
	})
	if shared {
		c.metricInc(MetricRefreshShared)
	}
	return err
}

// runRefresh runs one exchange with deps. stored is the unpublished record
// Restore refreshes from; nil means the published session.
func (c *Client) runRefresh(ctx context.Context, deps flows.RefreshDeps, stored *User) error {
	res := flows.RunRefresh(ctx, deps)

	switch res.Failure {
	case flows.RefreshFailureNone:
		if res.ApplyErr != nil {
			c.logger.Warn("authclient: refreshed session not persisted", "error", res.ApplyErr)
		}
		c.metricInc(MetricRefreshSuccess)
		c.emitAudit(ctx, internalaudit.EventRefreshSuccess, true, res.User, nil, nil)
		c.armRefresh(ctx, res.Claims)
		return nil
	case flows.RefreshFailureStale:
		c.metricInc(MetricRefreshStale)
		c.logger.Debug("authclient: refresh result dropped, session changed")
		return ErrRefreshSuperseded
	}

	if res.Failure == flows.RefreshFailureExchange && errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("refresh: %w", ctx.Err())
	}

	c.metricInc(MetricRefreshFailure)
	c.emitAudit(ctx, internalaudit.EventRefreshFailure, false, nil, res.Err, func() map[string]string {
		return map[string]string{"reason": res.Failure.String()}
	})

	current, _ := c.state.Current()
	var demoted bool
	var err error
	if stored != nil {
		current = stored
		demoted, err = c.state.RememberIf(ctx, res.Gen, stored)
	} else {
		demoted, err = c.state.DemoteIf(ctx, res.Gen)
	}
	if err != nil {
		c.logger.Warn("authclient: clear persisted session failed", "error", err)
	}
	if demoted {
		c.scheduler.Cancel()
		c.metricInc(MetricSessionInvalidated)
		c.emitAudit(ctx, internalaudit.EventSessionInvalidated, true, current, res.Err, func() map[string]string {
			return map[string]string{"cause": "refresh_failure"}
		})
		c.notify(ctx, notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "Session expired",
			Message: "Your session has expired. Please log in again.",
			Code:    "session_expired",
		})
		if refreshFromTimer(ctx) {
			c.navigate(ctx, c.config.Routes.Login)
		}
	}
	return fmt.Errorf("%w: %w", ErrRefreshFailed, res.Err)
}

func (c *Client) exchangeRefresh(ctx context.Context, refreshToken string) (*flows.RefreshReply, error) {
	var reply flows.RefreshReply
	if err := c.sendJSON(ctx, http.MethodPost, pathRefreshToken, refreshRequest{RefreshToken: refreshToken}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) buildFlowDeps() flows.Deps {
	return flows.Deps{
		Refresh: flows.RefreshDeps{
			Current:      c.state.Current,
			Exchange:     c.exchangeRefresh,
			Now:          c.clock.Now,
			ApplyIf:      c.state.SetUserIf,
			NoSessionErr: ErrNoSession,
			InvalidErr:   ErrTokenInvalid,
		},
	}
}

// armRefresh schedules the next refresh for claims. A timer-fired refresh
// that produced a token already inside the lead window is not rescheduled,
// which would otherwise loop.
func (c *Client) armRefresh(ctx context.Context, claims *token.Claims) {
	exp, ok := token.ExpiresAt(claims)
	if !ok {
		c.scheduler.Cancel()
		return
	}
	if refreshFromTimer(ctx) && !exp.After(c.clock.Now().Add(c.scheduler.LeadTime())) {
		c.logger.Warn("authclient: refreshed token expires within the lead time, not rescheduling",
			"expires_at", exp,
			"lead_time", c.scheduler.LeadTime(),
		)
		c.scheduler.Cancel()
		return
	}
	delay := c.scheduler.Arm(exp)
	c.logger.Debug("authclient: refresh scheduled", "in", delay)
}

func (c *Client) onRefreshTimer() {
	if c.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(withTimerRefresh(context.Background()), c.config.Refresh.Timeout)
	defer cancel()

	if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshSuperseded) {
		c.logger.Warn("authclient: scheduled refresh failed", "error", err)
	}
}

// Logout ends the session locally and tells the server, best effort.
//
// The timer is cancelled and the session and every persisted record are
// cleared before the server is contacted, so replies to requests still in
// flight are ignored. The server call carries the old token explicitly and
// its failure is only logged. The returned error is a storage failure.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	c.scheduler.Cancel()
	u, _ := c.state.Current()
	err := c.state.Purge(ctx)

	if u != nil && u.AccessToken != "" {
		c.remoteLogout(ctx, u.AccessToken)
	}

	c.metricInc(MetricLogout)
	c.emitAudit(ctx, internalaudit.EventLogout, true, u, nil, nil)
	c.navigate(ctx, c.config.Routes.Login)
	return err
}

func (c *Client) remoteLogout(ctx context.Context, accessToken string) {
	req, err := c.newJSONRequest(WithoutFaultReactions(ctx), http.MethodPost, pathLogout, struct{}{})
	if err != nil {
		c.logger.Debug("authclient: build logout request", "error", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if err := c.exchange(req, nil); err != nil {
		c.logger.Debug("authclient: server logout failed", "error", err)
	}
}

// Restore picks up a persisted session at startup. A stored session with a
// fresh access token is published and the timer armed. One with an expired
// access token is refreshed first and published only with the new token;
// while that exchange runs the session stays logged out. Anything else is
// cleared.
func (c *Client) Restore(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	u, err := c.state.Hydrate(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if u == nil {
		return nil
	}

	if claims, ok := token.Fresh(u.AccessToken, c.clock.Now()); ok {
		if err := c.state.SetUser(ctx, u); err != nil {
			c.logger.Warn("authclient: restored session not persisted", "error", err)
		}
		c.armRefresh(ctx, claims)
		c.sessionRestored(ctx, u, "stored")
		return nil
	}

	if u.RefreshToken == "" {
		return c.state.SetUser(ctx, nil)
	}

	_, gen := c.state.Current()
	deps := c.flows.Refresh
	deps.Current = func() (*User, uint64) { return u, gen }
	_, err, _ = c.refreshGroup.Do("refresh", func() (any, error) {
		return nil, c.runRefresh(ctx, deps, u)
	})
	if err != nil {
		return err
	}
	current, _ := c.state.Current()
	c.sessionRestored(ctx, current, "refreshed")
	return nil
}

func (c *Client) sessionRestored(ctx context.Context, u *User, source string) {
	c.metricInc(MetricSessionRestored)
	c.emitAudit(ctx, internalaudit.EventSessionRestored, true, u, nil, func() map[string]string {
		return map[string]string{"source": source}
	})
}

// IsAuthenticated reports whether the session holds a well-formed,
// unexpired access token. It never refreshes.
func (c *Client) IsAuthenticated() bool {
	if c == nil || c.state == nil {
		return false
	}
	_, ok := token.Fresh(c.state.AccessToken(), c.clock.Now())
	return ok
}

// Guard decides whether the current user may enter a view restricted to
// roles (any role when none are given). A stale access token is refreshed
// once first. Guard never fails: a refresh failure is a login redirect.
func (c *Client) Guard(ctx context.Context, roles ...role.Role) GuardDecision {
	if c.ready() != nil {
		return GuardDecision{Redirect: c.loginRoute()}
	}

	u, _ := c.state.Current()
	if u == nil {
		return GuardDecision{Redirect: c.config.Routes.Login}
	}
	if _, ok := token.Fresh(u.AccessToken, c.clock.Now()); !ok {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Debug("authclient: guard refresh failed", "error", err)
			return GuardDecision{Redirect: c.config.Routes.Login}
		}
		if u, _ = c.state.Current(); u == nil {
			return GuardDecision{Redirect: c.config.Routes.Login}
		}
	}

	if len(roles) > 0 && !role.SetOf(roles...).Has(u.Role) {
		return GuardDecision{Redirect: c.config.Routes.Forbidden, User: u}
	}
	return GuardDecision{Allowed: true, User: u}
}

func (c *Client) loginRoute() string {
	if c == nil {
		return defaultConfig().Routes.Login
	}
	return c.config.Routes.Login
}
