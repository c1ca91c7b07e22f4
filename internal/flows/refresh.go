package flows

import (
	"context"
	"time"

	"github.com/crimedesk/authclient/session"
	"github.com/crimedesk/authclient/token"
)

// RefreshReply is the response body of /auth/refresh-token.
type RefreshReply struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNoSession
	RefreshFailureExchange
	RefreshFailureInvalidToken
	// RefreshFailureStale: the session changed while the exchange was in
	// flight; the result was dropped.
	RefreshFailureStale
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNoSession:
		return "no_session"
	case RefreshFailureExchange:
		return "exchange"
	case RefreshFailureInvalidToken:
		return "invalid_token"
	case RefreshFailureStale:
		return "stale"
	default:
		return "none"
	}
}

// RefreshResult carries either the refreshed user or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	User    *session.User
	Claims  *token.Claims
	// ApplyErr is a persistence failure; the refreshed value is in effect.
	ApplyErr error
	// Gen is the session generation the refresh started from.
	Gen uint64
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	// Current returns the session user and its generation.
	Current  func() (*session.User, uint64)
	Exchange func(ctx context.Context, refreshToken string) (*RefreshReply, error)
	Now      func() time.Time
	// ApplyIf stores u only if the generation is unchanged.
	ApplyIf func(ctx context.Context, gen uint64, u *session.User) (bool, error)

	NoSessionErr error
	InvalidErr   error
}

// RunRefresh exchanges the refresh token for a new pair. It never clears
// the session itself; the caller decides what a failure means.
func RunRefresh(ctx context.Context, deps RefreshDeps) RefreshResult {
	current, gen := deps.Current()
	if current == nil || current.RefreshToken == "" {
		return RefreshResult{Failure: RefreshFailureNoSession, Err: deps.NoSessionErr, Gen: gen}
	}

	reply, err := deps.Exchange(ctx, current.RefreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureExchange, Err: err, Gen: gen}
	}

	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	if reply == nil {
		return RefreshResult{Failure: RefreshFailureInvalidToken, Err: deps.InvalidErr, Gen: gen}
	}
	claims, ok := token.Fresh(reply.AccessToken, now())
	if !ok {
		return RefreshResult{Failure: RefreshFailureInvalidToken, Err: deps.InvalidErr, Gen: gen}
	}

	next := current.Clone()
	next.AccessToken = reply.AccessToken
	if reply.RefreshToken != "" {
		next.RefreshToken = reply.RefreshToken
	}

	applied, applyErr := deps.ApplyIf(ctx, gen, next)
	if !applied {
		return RefreshResult{Failure: RefreshFailureStale, Gen: gen}
	}
	return RefreshResult{User: next, Claims: claims, ApplyErr: applyErr, Gen: gen}
}
