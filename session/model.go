package session

import (
	"strings"

	"github.com/crimedesk/authclient/role"
)

// NotificationPreferences are the delivery channels the user opted into.
type NotificationPreferences struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	InApp bool `json:"inApp"`
}

// User is the authenticated user as cached on the client, tokens included.
type User struct {
	ID            int64                   `json:"id"`
	FirstName     string                  `json:"firstName"`
	LastName      string                  `json:"lastName"`
	Email         string                  `json:"email"`
	Role          role.Role               `json:"role"`
	MFAEnabled    bool                    `json:"mfaEnabled"`
	Notifications NotificationPreferences `json:"notificationPreferences"`
	AccessToken   string                  `json:"accessToken"`
	RefreshToken  string                  `json:"refreshToken"`
}

// Clone returns a copy of u. A nil receiver yields nil.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}

// WithoutTokens returns a copy of u with both tokens blanked.
func (u *User) WithoutTokens() *User {
	out := u.Clone()
	if out != nil {
		out.AccessToken = ""
		out.RefreshToken = ""
	}
	return out
}

// DisplayName joins the name fields, falling back to the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
