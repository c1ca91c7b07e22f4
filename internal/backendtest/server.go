// Package backendtest runs an in-process stand-in for the crime-reporting
// REST backend. It mints HS256 access tokens, keeps opaque refresh tokens,
// runs the emailed-code step for accounts that have MFA enabled, and records
// every request it sees. Tests can make an endpoint fail or hold its reply.
package backendtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/crimedesk/authclient/role"
	"github.com/crimedesk/authclient/session"
	"github.com/crimedesk/authclient/token"
)

// APIPrefix is where the routes are mounted; Server.BaseURL includes it.
const APIPrefix = "/api"

// Account is a user known to the server.
type Account struct {
	ID            int64
	Email         string
	Password      string
	FirstName     string
	LastName      string
	Role          role.Role
	MFAEnabled    bool
	MFACode       string
	Notifications session.NotificationPreferences
}

// Request is one recorded request.
type Request struct {
	Method        string
	Path          string
	Authorization string
	Body          []byte
}

// Failure replaces the next Times replies of a path (all of them when Times
// is zero). Drop closes the connection without a reply.
type Failure struct {
	Status int
	Body   string
	Times  int
	Drop   bool
}

// Option configures a Server.
type Option func(*Server)

// WithNow sets the clock used for iat/exp and token verification.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithAccessTTL sets the lifetime of minted access tokens.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTTL = ttl }
}

// WithoutRotation makes refresh replies carry no new refresh token.
func WithoutRotation() Option {
	return func(s *Server) { s.rotate = false }
}

// Server is the fake backend.
type Server struct {
	*httptest.Server

	secret    []byte
	now       func() time.Time
	accessTTL time.Duration
	rotate    bool

	mu       sync.Mutex
	accounts map[string]*Account
	refresh  map[string]string
	pending  map[string]bool
	failures map[string]*Failure
	gates    map[string]*Gate
	requests []Request
}

// New starts a server and registers its shutdown with t.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		secret:    []byte("backendtest-secret-0123456789abcdef"),
		now:       time.Now,
		accessTTL: 15 * time.Minute,
		rotate:    true,
		accounts:  make(map[string]*Account),
		refresh:   make(map[string]string),
		pending:   make(map[string]bool),
		failures:  make(map[string]*Failure),
		gates:     make(map[string]*Gate),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API base to configure the client with.
func (s *Server) BaseURL() string {
	return s.URL + APIPrefix
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(s.record, s.inject)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/verify-2fa", s.handleVerify)
		r.Post("/auth/refresh-token", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/auth/logout", s.handleLogout)
			r.Put("/auth/users/profile", s.handleProfile)
			r.Post("/auth/change-password", s.handleChangePassword)
			r.Get("/complaints", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, []any{})
			})
			r.With(s.requireRole(role.Admin)).Get("/admin/stats", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]int{"complaints": 0})
			})
		})

		r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusInternalServerError, "internal error")
		})
	})
	return r
}

/* ==== ACCOUNTS ==== */

// AddAccount registers a; the email is the key.
func (s *Server) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.accounts[strings.ToLower(a.Email)] = &cp
}

// Account returns a copy of the stored account.
func (s *Server) Account(email string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Mint signs an access token for the account expiring ttl from now.
func (s *Server) Mint(t testing.TB, email string, ttl time.Duration) string {
	t.Helper()
	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("unknown account %q", email)
	}
	tok, err := s.mint(a, ttl)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

// IssueRefreshToken records a refresh token for email without a login.
func (s *Server) IssueRefreshToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := uuid.NewString()
	s.refresh[rt] = strings.ToLower(email)
	return rt
}

// RefreshTokenValid reports whether rt would be accepted.
func (s *Server) RefreshTokenValid(rt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refresh[rt]
	return ok
}

func (s *Server) mint(a *Account, ttl time.Duration) (string, error) {
	now := s.now()
	claims := token.Claims{
		Role:  a.Role.String(),
		Email: a.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(a.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

/* ==== FAILURE INJECTION ==== */

// Fail makes path (relative to the API base) reply with f.
func (s *Server) Fail(path string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := f
	s.failures[path] = &cp
}

// Heal removes any failure set for path.
func (s *Server) Heal(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
}

// Gate holds the reply of one path after the server has done its work.
type Gate struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

// Arrived is closed when a request reaches the gate.
func (g *Gate) Arrived() <-chan struct{} { return g.arrived }

// Release lets held and future replies through.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

// Hold gates the replies of path until the returned Gate is released.
func (s *Server) Hold(path string) *Gate {
	g := &Gate{arrived: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.gates[path] = g
	s.mu.Unlock()
	return g
}

func (s *Server) wait(r *http.Request) {
	s.mu.Lock()
	g := s.gates[relative(r)]
	s.mu.Unlock()
	if g == nil {
		return
	}
	select {
	case <-g.arrived:
	default:
		close(g.arrived)
	}
	select {
	case <-g.release:
	case <-r.Context().Done():
	}
}

/* ==== RECORDING ==== */

// Requests returns the recorded requests for path, or all of them when path
// is empty.
func (s *Server) Requests(path string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, rq := range s.requests {
		if path == "" || rq.Path == path {
			out = append(out, rq)
		}
	}
	return out
}

// Count is len(Requests(path)).
func (s *Server) Count(path string) int {
	return len(s.Requests(path))
}

func relative(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, APIPrefix)
}

/* ==== MIDDLEWARE ==== */

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          relative(r),
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := relative(r)
		s.mu.Lock()
		f, ok := s.failures[path]
		var use Failure
		if ok {
			use = *f
			if f.Times > 0 {
				f.Times--
				if f.Times == 0 {
					delete(s.failures, path)
				}
			}
		}
		s.mu.Unlock()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if use.Drop {
			hj, ok := w.(http.Hijacker)
			if !ok {
				writeError(w, http.StatusInternalServerError, "cannot drop connection")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		body := use.Body
		if body == "" {
			body = http.StatusText(use.Status)
		}
		writeError(w, use.Status, body)
	})
}

type ctxKey struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims := &token.Claims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(s.now),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		s.mu.Lock()
		a, ok := s.accounts[strings.ToLower(claims.Email)]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		next.ServeHTTP(w, withAccount(r, a))
	})
}

func (s *Server) requireRole(want role.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := accountFrom(r)
			s.mu.Lock()
			got := a.Role
			s.mu.Unlock()
			if got != want {
				writeError(w, http.StatusForbidden, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

/* ==== HANDLERS ==== */

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfaCode"`
}

type authReply struct {
	AccessToken             string                           `json:"accessToken,omitempty"`
	RefreshToken            string                           `json:"refreshToken,omitempty"`
	UserID                  int64                            `json:"userId,omitempty"`
	FirstName               string                           `json:"firstName,omitempty"`
	LastName                string                           `json:"lastName,omitempty"`
	Email                   string                           `json:"email"`
	Role                    string                           `json:"role,omitempty"`
	MFAEnabled              bool                             `json:"mfaEnabled"`
	MFARequired             bool                             `json:"mfaRequired"`
	NotificationPreferences *session.NotificationPreferences `json:"notificationPreferences,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(in.Email)]
	if !ok || a.Password != in.Password {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if a.MFAEnabled && (in.MFACode == "" || in.MFACode != a.MFACode) {
		s.pending[strings.ToLower(a.Email)] = true
		email := a.Email
		s.mu.Unlock()
		s.wait(r)
		writeJSON(w, http.StatusOK, authReply{Email: email, MFAEnabled: true, MFARequired: true})
		return
	}
	reply, err := s.issueLocked(a)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.wait(r)
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	key := strings.ToLower(in.Email)
	s.mu.Lock()
	a, ok := s.accounts[key]
	if !ok || !s.pending[key] || in.MFACode != a.MFACode {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Invalid or expired verification code")
		return
	}
	delete(s.pending, key)
	reply, err := s.issueLocked(a)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.wait(r)
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) issueLocked(a *Account) (authReply, error) {
	access, err := s.mint(a, s.accessTTL)
	if err != nil {
		return authReply{}, err
	}
	rt := uuid.NewString()
	s.refresh[rt] = strings.ToLower(a.Email)
	prefs := a.Notifications
	return authReply{
		AccessToken:             access,
		RefreshToken:            rt,
		UserID:                  a.ID,
		FirstName:               a.FirstName,
		LastName:                a.LastName,
		Email:                   a.Email,
		Role:                    a.Role.String(),
		MFAEnabled:              a.MFAEnabled,
		NotificationPreferences: &prefs,
	}, nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh token required")
		return
	}

	s.mu.Lock()
	email, ok := s.refresh[in.RefreshToken]
	a := s.accounts[email]
	if !ok || a == nil {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	access, err := s.mint(a, s.accessTTL)
	if err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := map[string]string{"accessToken": access}
	if s.rotate {
		delete(s.refresh, in.RefreshToken)
		next := uuid.NewString()
		s.refresh[next] = email
		out["refreshToken"] = next
	}
	s.mu.Unlock()

	s.wait(r)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r)
	s.mu.Lock()
	key := strings.ToLower(a.Email)
	for rt, email := range s.refresh {
		if email == key {
			delete(s.refresh, rt)
		}
	}
	s.mu.Unlock()
	s.wait(r)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

type profileRequest struct {
	FirstName               string                           `json:"firstName"`
	LastName                string                           `json:"lastName"`
	Email                   string                           `json:"email"`
	MFAEnabled              *bool                            `json:"mfaEnabled"`
	NotificationPreferences *session.NotificationPreferences `json:"notificationPreferences"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var in profileRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(in.FirstName) == "" && strings.TrimSpace(in.LastName) == "" &&
		in.Email == "" && in.MFAEnabled == nil && in.NotificationPreferences == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	a := accountFrom(r)
	s.mu.Lock()
	if in.FirstName != "" {
		a.FirstName = in.FirstName
	}
	if in.LastName != "" {
		a.LastName = in.LastName
	}
	if in.MFAEnabled != nil {
		a.MFAEnabled = *in.MFAEnabled
	}
	if in.NotificationPreferences != nil {
		a.Notifications = *in.NotificationPreferences
	}
	prefs := a.Notifications
	out := map[string]any{
		"firstName":               a.FirstName,
		"lastName":                a.LastName,
		"email":                   a.Email,
		"role":                    a.Role.String(),
		"mfaEnabled":              a.MFAEnabled,
		"notificationPreferences": prefs,
	}
	s.mu.Unlock()

	s.wait(r)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	a := accountFrom(r)
	s.mu.Lock()
	if a.Password != in.CurrentPassword {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	a.Password = in.NewPassword
	s.mu.Unlock()

	s.wait(r)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

/* ==== HELPERS ==== */

func withAccount(r *http.Request, a *Account) *http.Request {
	return r.WithContext(contextWithAccount(r.Context(), a))
}

func accountFrom(r *http.Request) *Account {
	a, _ := r.Context().Value(ctxKey{}).(*Account)
	if a == nil {
		panic(errors.New("backendtest: handler reached without an account"))
	}
	return a
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"status":    status,
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
