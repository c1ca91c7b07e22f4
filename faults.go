package authclient

import (
	"context"
	"strings"

	internalaudit "github.com/crimedesk/authclient/internal/audit"
	"github.com/crimedesk/authclient/middleware"
	"github.com/crimedesk/authclient/notify"
)

// ReactToFault applies the global reaction to a failed API request:
//
//   - 401: the refresh timer is cancelled, the session demoted, the user
//     sent to the login route with a session-expired warning.
//   - 403: a permission notice; requests under a configured prefix also
//     navigate to the forbidden route.
//   - 404, 5xx and network failures: a notice only.
//
// HandleFaults calls it before returning the error to the requester.
func (c *Client) ReactToFault(ctx context.Context, f middleware.Fault) {
	if id, ok := faultMetric(f.Kind); ok {
		c.metricInc(id)
	}

	switch f.Kind {
	case middleware.FaultUnauthorized:
		c.invalidateSession(ctx, f)
		c.navigate(ctx, c.config.Routes.Login)
		c.notify(ctx, notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "Session expired",
			Message: "Your session has expired. Please log in again.",
			Code:    "session_expired",
		})
	case middleware.FaultForbidden:
		c.notify(ctx, notify.Notice{
			Level:   notify.LevelError,
			Title:   "Access denied",
			Message: "You do not have permission to perform this action.",
			Code:    "forbidden",
		})
		if c.redirectOnForbidden(f.Path) {
			c.navigate(ctx, c.config.Routes.Forbidden)
		}
	case middleware.FaultNotFound:
		c.notify(ctx, notify.Notice{
			Level:   notify.LevelInfo,
			Title:   "Not found",
			Message: "The requested resource was not found.",
			Code:    "not_found",
		})
	case middleware.FaultServer:
		c.notify(ctx, notify.Notice{
			Level:   notify.LevelError,
			Title:   "Server error",
			Message: "The server could not complete the request. Please try again later.",
			Code:    "server_error",
		})
	case middleware.FaultNetwork:
		c.notify(ctx, notify.Notice{
			Level:   notify.LevelError,
			Title:   "Connection problem",
			Message: "The server could not be reached. Check your connection and try again.",
			Code:    "network",
		})
	}
}

func (c *Client) invalidateSession(ctx context.Context, f middleware.Fault) {
	c.scheduler.Cancel()

	u, _ := c.state.Current()
	if u == nil {
		return
	}
	if err := c.state.Demote(ctx); err != nil {
		c.logger.Warn("authclient: clear persisted session failed", "error", err)
	}
	c.metricInc(MetricSessionInvalidated)
	c.emitAudit(ctx, internalaudit.EventSessionInvalidated, true, u, f.Err, func() map[string]string {
		return map[string]string{
			"cause":  "unauthorized",
			"method": f.Method,
			"path":   f.Path,
		}
	})
}

func (c *Client) redirectOnForbidden(path string) bool {
	for _, prefix := range c.config.Faults.ForbiddenRedirectPrefixes {
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
