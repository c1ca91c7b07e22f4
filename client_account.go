package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	internalaudit "github.com/crimedesk/authclient/internal/audit"
	"github.com/crimedesk/authclient/role"
	"github.com/crimedesk/authclient/session"
)

type profileReply struct {
	FirstName               string                   `json:"firstName"`
	LastName                string                   `json:"lastName"`
	Email                   string                   `json:"email"`
	Role                    string                   `json:"role"`
	MFAEnabled              *bool                    `json:"mfaEnabled"`
	NotificationPreferences *NotificationPreferences `json:"notificationPreferences"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UpdateProfile sends upd to PUT /auth/users/profile and merges the fields
// the server returns into the session user. Tokens are kept. When the server
// replies without a body the submitted fields are merged instead.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*User, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if upd.empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrProfileInvalid)
	}

	current, gen := c.state.Current()
	if current == nil {
		return nil, ErrNoSession
	}

	var reply *profileReply
	if err := c.sendJSON(ctx, http.MethodPut, pathProfile, upd, &reply); err != nil {
		return nil, err
	}
	if reply == nil {
		reply = &profileReply{
			FirstName:               upd.FirstName,
			LastName:                upd.LastName,
			Email:                   upd.Email,
			MFAEnabled:              upd.MFAEnabled,
			NotificationPreferences: upd.NotificationPreferences,
		}
	}

	next, err := mergeProfile(current, reply)
	if err != nil {
		return nil, err
	}

	applied, err := c.state.SetUserIf(ctx, gen, next)
	if !applied {
		return nil, ErrNoSession
	}
	if err != nil {
		c.logger.Warn("authclient: updated profile not persisted", "error", err)
	}

	c.metricInc(MetricProfileUpdated)
	c.emitAudit(ctx, internalaudit.EventProfileUpdated, true, next, nil, nil)
	return next.Clone(), nil
}

func mergeProfile(current *session.User, reply *profileReply) (*session.User, error) {
	next := current.Clone()
	if reply.FirstName != "" {
		next.FirstName = reply.FirstName
	}
	if reply.LastName != "" {
		next.LastName = reply.LastName
	}
	if reply.Email != "" {
		next.Email = reply.Email
	}
	if reply.Role != "" {
		r, err := role.Parse(reply.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedReply, err)
		}
		next.Role = r
	}
	if reply.MFAEnabled != nil {
		next.MFAEnabled = *reply.MFAEnabled
	}
	if reply.NotificationPreferences != nil {
		next.Notifications = *reply.NotificationPreferences
	}
	return next, nil
}

// ChangePassword posts to /auth/change-password. Empty passwords are
// ErrPasswordPolicy and an unchanged one ErrPasswordReuse, both without
// contacting the server. The session is unchanged either way.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	if err := c.ready(); err != nil {
		return err
	}

	u, _ := c.state.Current()
	err := validatePasswordChange(current, next)
	if err == nil {
		err = c.sendJSON(ctx, http.MethodPost, pathChangePassword,
			changePasswordRequest{CurrentPassword: current, NewPassword: next}, nil)
	}
	if err != nil {
		c.metricInc(MetricPasswordChangeFailure)
		c.emitAudit(ctx, internalaudit.EventPasswordChangeFail, false, u, err, nil)
		return err
	}

	c.metricInc(MetricPasswordChanged)
	c.emitAudit(ctx, internalaudit.EventPasswordChanged, true, u, nil, nil)
	return nil
}

func validatePasswordChange(current, next string) error {
	if strings.TrimSpace(current) == "" || strings.TrimSpace(next) == "" {
		return fmt.Errorf("%w: passwords must not be empty", ErrPasswordPolicy)
	}
	if current == next {
		return ErrPasswordReuse
	}
	return nil
}

// SetLanguage persists the preferred UI language.
func (c *Client) SetLanguage(ctx context.Context, lang string) error {
	if err := c.ready(); err != nil {
		return err
	}
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return errors.New("language must not be empty")
	}
	return c.state.SaveLanguage(ctx, lang)
}

// Language returns the persisted UI language, "" when none is stored.
func (c *Client) Language(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.state.LoadLanguage(ctx)
}
