package authclient

import (
	"context"

	"github.com/crimedesk/authclient/session"
)

// User is the authenticated user record held by the session.
type User = session.User

// NotificationPreferences are the user's notification channel settings.
type NotificationPreferences = session.NotificationPreferences

// Credentials is the body of POST /auth/login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// MFACode lets a caller that already holds a code log in in one step.
	MFACode string `json:"mfaCode,omitempty"`
}

// LoginResult is the outcome of Login and VerifyMFA.
//
// When MFARequired is set no session exists yet and the caller must submit
// the emailed code through VerifyMFA. Otherwise User is the new session user
// and Redirect the role's landing route.
type LoginResult struct {
	MFARequired bool
	User        *User
	Redirect    string
}

// ProfileUpdate is the body of PUT /auth/users/profile. Zero fields are
// left unchanged.
type ProfileUpdate struct {
	FirstName               string                   `json:"firstName,omitempty"`
	LastName                string                   `json:"lastName,omitempty"`
	Email                   string                   `json:"email,omitempty"`
	MFAEnabled              *bool                    `json:"mfaEnabled,omitempty"`
	NotificationPreferences *NotificationPreferences `json:"notificationPreferences,omitempty"`
}

func (p ProfileUpdate) empty() bool {
	return p.FirstName == "" && p.LastName == "" && p.Email == "" &&
		p.MFAEnabled == nil && p.NotificationPreferences == nil
}

// GuardDecision is the answer of Client.Guard for one navigation.
type GuardDecision struct {
	Allowed bool
	// Redirect is the route to navigate to instead, set when Allowed is false.
	Redirect string
	User     *User
}

// Navigator moves the front end to a route. The client navigates on 401,
// on configured 403s, on logout, and after a timer-fired refresh fails.
type Navigator interface {
	Navigate(ctx context.Context, route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, route string)

func (f NavigatorFunc) Navigate(ctx context.Context, route string) { f(ctx, route) }

type noopNavigator struct{}

func (noopNavigator) Navigate(context.Context, string) {}
