package authclient

import (
	"context"
	"errors"
	"strconv"

	internalaudit "github.com/crimedesk/authclient/internal/audit"
	"github.com/crimedesk/authclient/session"
)

// Audit types re-exported from internal/audit.
type (
	AuditEvent     = internalaudit.Event
	AuditSink      = internalaudit.Sink
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
)

// NewChannelSink returns a sink that buffers events in a channel.
func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink that writes one JSON object per line.
var NewJSONWriterSink = internalaudit.NewJSONWriterSink

// AuditErrorCode is the stable error label recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrNoSession          AuditErrorCode = "no_session"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrMalformedReply     AuditErrorCode = "malformed_reply"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrServer             AuditErrorCode = "server_error"
	auditErrNetwork            AuditErrorCode = "network"
	auditErrCanceled           AuditErrorCode = "canceled"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (c *Client) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	u *session.User,
	err error,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  c.clock.Now().UTC(),
		EventType:  eventType,
		Generation: c.state.Generation(),
		Server:     c.scope.Host(),
		Success:    success,
		Metadata:   metadata,
	}
	if u != nil {
		event.UserID = strconv.FormatInt(u.ID, 10)
		event.Role = u.Role.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	c.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidMFACode):
		return auditErrMFAInvalid
	case errors.Is(err, ErrNoSession):
		return auditErrNoSession
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrMalformedReply):
		return auditErrMalformedReply
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrServer):
		return auditErrServer
	case errors.Is(err, ErrNetwork):
		return auditErrNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
