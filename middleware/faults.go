package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("middleware: unauthorized")
	ErrForbidden    = errors.New("middleware: forbidden")
	ErrNotFound     = errors.New("middleware: not found")
	ErrServer       = errors.New("middleware: server error")
	ErrNetwork      = errors.New("middleware: network failure")
)

// DefaultMaxErrorBody caps how much of an error response is read.
const DefaultMaxErrorBody int64 = 64 << 10

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status    int
	Message   string
	Method    string
	Path      string
	RequestID string
	Body      []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Is maps the status onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrServer:
		return e.Status >= 500
	}
	return false
}

// NetworkError is a request that produced no response.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// FaultKind classifies a failed request.
type FaultKind uint8

const (
	FaultNone FaultKind = iota
	FaultUnauthorized
	FaultForbidden
	FaultNotFound
	FaultServer
	FaultNetwork
	// FaultClient covers the remaining 4xx statuses; no global reaction.
	FaultClient
)

func (k FaultKind) String() string {
	switch k {
	case FaultUnauthorized:
		return "unauthorized"
	case FaultForbidden:
		return "forbidden"
	case FaultNotFound:
		return "not_found"
	case FaultServer:
		return "server"
	case FaultNetwork:
		return "network"
	case FaultClient:
		return "client"
	default:
		return "none"
	}
}

// ClassifyStatus maps an HTTP status to a FaultKind.
func ClassifyStatus(status int) FaultKind {
	switch {
	case status < 400:
		return FaultNone
	case status == http.StatusUnauthorized:
		return FaultUnauthorized
	case status == http.StatusForbidden:
		return FaultForbidden
	case status == http.StatusNotFound:
		return FaultNotFound
	case status >= 500:
		return FaultServer
	default:
		return FaultClient
	}
}

// Fault describes a failed request handed to a FaultReactor.
type Fault struct {
	Kind   FaultKind
	Status int
	Method string
	// Path is relative to the API base.
	Path string
	Err  error
}

// FaultReactor performs the global side effects of a fault: session
// invalidation, navigation, notices.
type FaultReactor interface {
	ReactToFault(ctx context.Context, f Fault)
}

// FaultReactorFunc adapts a function to FaultReactor.
type FaultReactorFunc func(ctx context.Context, f Fault)

func (f FaultReactorFunc) ReactToFault(ctx context.Context, fault Fault) { f(ctx, fault) }

type quietKey struct{}

// WithoutFaultReactions marks requests made with ctx so their faults are
// returned to the caller without global side effects.
func WithoutFaultReactions(ctx context.Context) context.Context {
	return context.WithValue(ctx, quietKey{}, true)
}

// FaultReactionsSuppressed reports whether ctx was marked with
// WithoutFaultReactions.
func FaultReactionsSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(quietKey{}).(bool)
	return v
}

// FaultConfig configures HandleFaults.
type FaultConfig struct {
	Scope        *Scope
	MaxErrorBody int64
}

// HandleFaults converts failed responses into errors, lets r react to them
// and returns the error to the caller. Successful responses pass through.
//
// Requests outside the API scope, requests whose context was cancelled, and
// 401 replies from allowlisted endpoints (a wrong password is not an expired
// session) are returned without a reaction.
func HandleFaults(cfg FaultConfig, r FaultReactor) Middleware {
	limit := cfg.MaxErrorBody
	if limit <= 0 {
		limit = DefaultMaxErrorBody
	}

	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			ctx := req.Context()
			rel, inAPI := cfg.Scope.Relative(req.URL)
			if !inAPI {
				rel = req.URL.Path
			}

			resp, err := next.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					return nil, err
				}
				netErr := &NetworkError{Method: req.Method, Path: rel, Err: err}
				if inAPI {
					react(ctx, r, Fault{Kind: FaultNetwork, Method: req.Method, Path: rel, Err: netErr})
				}
				return nil, netErr
			}

			if resp.StatusCode < 400 {
				return resp, nil
			}

			apiErr := readAPIError(resp, limit)
			apiErr.Method = req.Method
			apiErr.Path = rel
			apiErr.RequestID = req.Header.Get(HeaderRequestID)

			kind := ClassifyStatus(resp.StatusCode)
			switch {
			case !inAPI, kind == FaultClient:
			case kind == FaultUnauthorized && cfg.Scope.IsPublic(req.URL):
			default:
				react(ctx, r, Fault{Kind: kind, Status: resp.StatusCode, Method: req.Method, Path: rel, Err: apiErr})
			}
			return nil, apiErr
		})
	}
}

func react(ctx context.Context, r FaultReactor, f Fault) {
	if r == nil || FaultReactionsSuppressed(ctx) {
		return
	}
	r.ReactToFault(ctx, f)
}

func readAPIError(resp *http.Response, limit int64) *APIError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, limit))

	e := &APIError{Status: resp.StatusCode, Body: body}
	e.Message = errorMessage(body)
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		return payload.Error
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 || strings.ContainsAny(text, "<{") {
		return ""
	}
	return text
}
