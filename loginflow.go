package authclient

import (
	"context"
	"errors"
	"sync"

	internalaudit "github.com/crimedesk/authclient/internal/audit"
	"github.com/crimedesk/authclient/notify"
)

// LoginState is a step of the login screen.
type LoginState uint8

const (
	AwaitingCredentials LoginState = iota
	AwaitingMFACode
	Authenticated
)

func (s LoginState) String() string {
	switch s {
	case AwaitingCredentials:
		return "awaiting_credentials"
	case AwaitingMFACode:
		return "awaiting_mfa_code"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// LoginFlow is the login screen state machine:
//
//	AwaitingCredentials -> AwaitingMFACode -> Authenticated
//	AwaitingCredentials -> Authenticated
//
// A failed step keeps the current state and raises an error notice. On
// success the flow navigates to the role's landing route. Calls are
// serialized.
type LoginFlow struct {
	client *Client

	mu     sync.Mutex
	state  LoginState
	creds  Credentials
	result *LoginResult
}

// NewLoginFlow starts a flow in AwaitingCredentials.
func (c *Client) NewLoginFlow() *LoginFlow {
	return &LoginFlow{client: c}
}

func (f *LoginFlow) State() LoginState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result is the successful login, nil before Authenticated.
func (f *LoginFlow) Result() *LoginResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Submit sends the credentials. It may be called again while awaiting the
// code to start over with different credentials.
func (f *LoginFlow) Submit(ctx context.Context, email, password string) (LoginState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Authenticated {
		return f.state, ErrLoginComplete
	}

	creds := Credentials{Email: email, Password: password}
	res, err := f.client.Login(ctx, creds)
	if err != nil {
		f.fail(ctx, err)
		return f.state, err
	}

	f.creds = creds
	f.advance(ctx, res)
	return f.state, nil
}

// SubmitCode sends the emailed verification code.
func (f *LoginFlow) SubmitCode(ctx context.Context, code string) (LoginState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != AwaitingMFACode {
		return f.state, ErrMFANotPending
	}

	res, err := f.client.VerifyMFA(ctx, f.creds.Email, code)
	if err != nil {
		f.fail(ctx, err)
		return f.state, err
	}
	f.advance(ctx, res)
	return f.state, nil
}

// Resend repeats the login with the stored credentials so the server
// dispatches a new code. The state does not change.
func (f *LoginFlow) Resend(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != AwaitingMFACode {
		return ErrMFANotPending
	}

	res, err := f.client.Login(ctx, f.creds)
	if err != nil {
		f.fail(ctx, err)
		return err
	}
	if !res.MFARequired {
		f.advance(ctx, res)
		return nil
	}

	f.client.metricInc(MetricMFAResent)
	f.client.emitAudit(ctx, internalaudit.EventMFAResent, true, nil, nil, nil)
	f.client.notify(ctx, notify.Notice{
		Level:   notify.LevelInfo,
		Title:   "Code sent",
		Message: "A new verification code was sent to your email.",
		Code:    "mfa_resent",
	})
	return nil
}

// Reset returns to AwaitingCredentials and forgets the stored credentials.
// The session itself is not touched.
func (f *LoginFlow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = AwaitingCredentials
	f.creds = Credentials{}
	f.result = nil
}

func (f *LoginFlow) advance(ctx context.Context, res *LoginResult) {
	if res.MFARequired {
		f.state = AwaitingMFACode
		f.client.notify(ctx, notify.Notice{
			Level:   notify.LevelInfo,
			Title:   "Verification required",
			Message: "A verification code was sent to your email.",
			Code:    "mfa_required",
		})
		return
	}

	f.state = Authenticated
	f.result = res
	f.creds = Credentials{}
	f.client.notify(ctx, notify.Notice{
		Level:   notify.LevelSuccess,
		Title:   "Welcome",
		Message: "Logged in as " + res.User.DisplayName() + ".",
		Code:    "login_success",
	})
	f.client.navigate(ctx, res.Redirect)
}

// fail raises the error notice for err unless the fault handler already
// did (server and network failures).
func (f *LoginFlow) fail(ctx context.Context, err error) {
	n := notify.Notice{Level: notify.LevelError, Title: "Login failed", Code: "login_failed"}
	switch {
	case errors.Is(err, ErrServer), errors.Is(err, ErrNetwork), errors.Is(err, ErrClientNotReady):
		return
	case errors.Is(err, ErrInvalidCredentials):
		n.Message = "Invalid email or password."
		n.Code = "invalid_credentials"
	case errors.Is(err, ErrInvalidMFACode):
		n.Message = "Invalid verification code."
		n.Code = "invalid_mfa_code"
	default:
		n.Message = "Login could not be completed. Please try again."
	}
	f.client.notify(ctx, n)
}
