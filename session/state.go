package session

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/crimedesk/authclient/role"
)

// StateOption configures a State.
type StateOption func(*State)

// WithLogger sets the logger used for persistence warnings.
func WithLogger(l *slog.Logger) StateOption {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

// State is the single source of truth for who is logged in.
//
// Every mutation bumps a generation counter. Callers that start an
// asynchronous exchange capture Generation first and apply the result with
// SetUserIf, so results that arrive after a logout are dropped.
//
// State is the only writer of its Store.
type State struct {
	store  Store
	logger *slog.Logger

	// writeMu serializes mutations including their storage I/O so the store
	// observes them in the same order as subscribers.
	writeMu sync.Mutex

	mu         sync.RWMutex
	user       *User
	remembered *User
	gen        uint64
	subs       map[uint64]chan *User
	nextSub    uint64
}

// NewState builds a State. A nil store means persistent storage is not
// available in this execution context; the State then lives in memory only.
func NewState(store Store, opts ...StateOption) *State {
	s := &State{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		subs:   make(map[uint64]chan *User),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasStorage reports whether the State persists its value.
func (s *State) HasStorage() bool { return s.store != nil }

// User returns a copy of the current user, or nil when logged out.
func (s *State) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// Remembered returns the profile kept after a failed refresh, tokens removed.
func (s *State) Remembered() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remembered.Clone()
}

// Generation identifies the current value.
func (s *State) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Current returns a copy of the user together with the generation it
// belongs to.
func (s *State) Current() (*User, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone(), s.gen
}

func (s *State) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

func (s *State) Role() role.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return role.None
	}
	return s.user.Role
}

// HasRole reports whether the current user holds any of roles.
func (s *State) HasRole(roles ...role.Role) bool {
	return s.HasAnyRole(roles...)
}

func (s *State) HasAnyRole(roles ...role.Role) bool {
	r := s.Role()
	if !r.Valid() {
		return false
	}
	return role.SetOf(roles...).Has(r)
}

func (s *State) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.AccessToken
}

func (s *State) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.RefreshToken
}

// Subscribe returns a channel that first receives the current value and then
// every later one. Delivery is latest-wins: a slow reader skips intermediate
// values instead of blocking writers. cancel closes the channel.
func (s *State) Subscribe() (<-chan *User, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan *User, 1)
	ch <- s.user.Clone()
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// SetUser replaces the current user and persists it, or clears the user
// record when u is nil. The in-memory value is applied even if storage fails;
// the storage error is returned.
func (s *State) SetUser(ctx context.Context, u *User) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.setLocked(ctx, u, nil)
}

// SetUserIf applies u only when the generation still equals gen.
func (s *State) SetUserIf(ctx context.Context, gen uint64, u *User) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.Generation() != gen {
		return false, nil
	}
	return true, s.setLocked(ctx, u, nil)
}

// Demote drops the session after a failed refresh. The profile is kept in
// memory without tokens (see Remembered); nothing with tokens stays on disk.
func (s *State) Demote(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	current := s.user
	s.mu.RUnlock()
	if current == nil {
		return nil
	}
	return s.setLocked(ctx, nil, current.WithoutTokens())
}

// DemoteIf demotes only when the generation still equals gen.
func (s *State) DemoteIf(ctx context.Context, gen uint64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	current, same := s.user, s.gen == gen
	s.mu.RUnlock()
	if !same || current == nil {
		return false, nil
	}
	return true, s.setLocked(ctx, nil, current.WithoutTokens())
}

// RememberIf clears the user and the persisted record and remembers profile
// without tokens, only when the generation still equals gen. It demotes a
// session that was read from storage but never published.
func (s *State) RememberIf(ctx context.Context, gen uint64, profile *User) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.Generation() != gen {
		return false, nil
	}
	return true, s.setLocked(ctx, nil, profile.WithoutTokens())
}

// Purge clears the user and every persisted record, language included.
func (s *State) Purge(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.apply(nil, nil)
	if s.store == nil {
		return nil
	}
	if err := s.store.Purge(ctx); err != nil {
		s.logger.Warn("session: purge storage failed", "error", err)
		return err
	}
	return nil
}

// Hydrate reads the persisted user without publishing it.
func (s *State) Hydrate(ctx context.Context) (*User, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Load(ctx)
}

// SaveLanguage persists the preferred UI language.
func (s *State) SaveLanguage(ctx context.Context, lang string) error {
	if s.store == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.SaveLanguage(ctx, lang)
}

// LoadLanguage reads the preferred UI language, "" when unset.
func (s *State) LoadLanguage(ctx context.Context) (string, error) {
	if s.store == nil {
		return "", nil
	}
	return s.store.LoadLanguage(ctx)
}

func (s *State) setLocked(ctx context.Context, u, remembered *User) error {
	s.apply(u.Clone(), remembered)
	if s.store == nil {
		return nil
	}

	var err error
	if u == nil {
		err = s.store.Clear(ctx)
	} else {
		err = s.store.Save(ctx, u)
	}
	if err != nil {
		s.logger.Warn("session: persist user failed", "error", err)
	}
	return err
}

func (s *State) apply(u, remembered *User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = u
	s.remembered = remembered
	s.gen++
	for _, ch := range s.subs {
		publish(ch, u.Clone())
	}
}

func publish(ch chan *User, u *User) {
	select {
	case ch <- u:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}
