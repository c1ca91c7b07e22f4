package authclient

import (
	"context"

	"github.com/crimedesk/authclient/middleware"
)

type timerRefreshContextKey struct{}

// WithoutFaultReactions marks requests sent with ctx so their failures are
// returned without session invalidation, navigation, or notices.
func WithoutFaultReactions(ctx context.Context) context.Context {
	return middleware.WithoutFaultReactions(ctx)
}

func withTimerRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, timerRefreshContextKey{}, true)
}

func refreshFromTimer(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	fromTimer, _ := ctx.Value(timerRefreshContextKey{}).(bool)
	return fromTimer
}
