package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Record names used by every backend.
const (
	RecordUser     = "current_user"
	RecordLanguage = "language"
)

var (
	// ErrRecordNotFound is returned by a Backend when a record does not exist.
	ErrRecordNotFound = errors.New("session: record not found")
	// ErrBackendUnavailable wraps transport or I/O failures of a Backend.
	ErrBackendUnavailable = errors.New("session: storage backend unavailable")
)

// Store persists the cached user and the preferred UI language.
//
// Load returns (nil, nil) when nothing is stored. A malformed user record is
// removed and also reported as (nil, nil).
type Store interface {
	Save(ctx context.Context, u *User) error
	Load(ctx context.Context) (*User, error)
	Clear(ctx context.Context) error
	Purge(ctx context.Context) error
	SaveLanguage(ctx context.Context, lang string) error
	LoadLanguage(ctx context.Context) (string, error)
}

// Backend is a named-blob store. Implementations must return
// ErrRecordNotFound from Get for missing records and treat Delete of a
// missing record as success.
type Backend interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, names ...string) error
}

// StoreOption configures a RecordStore.
type StoreOption func(*RecordStore)

// WithSealer encrypts the user record at rest.
func WithSealer(s *Sealer) StoreOption {
	return func(rs *RecordStore) { rs.sealer = s }
}

// WithStoreLogger sets the logger used for corrupt-record warnings.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(rs *RecordStore) {
		if l != nil {
			rs.logger = l
		}
	}
}

// RecordStore implements Store on top of any Backend.
type RecordStore struct {
	backend Backend
	sealer  *Sealer
	logger  *slog.Logger
}

// NewRecordStore wraps b.
func NewRecordStore(b Backend, opts ...StoreOption) *RecordStore {
	rs := &RecordStore{
		backend: b,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

func (s *RecordStore) Save(ctx context.Context, u *User) error {
	data, err := EncodeUser(u)
	if err != nil {
		return err
	}
	if s.sealer != nil {
		if data, err = s.sealer.Seal(data); err != nil {
			return fmt.Errorf("seal user record: %w", err)
		}
	}
	return s.backend.Put(ctx, RecordUser, data)
}

func (s *RecordStore) Load(ctx context.Context) (*User, error) {
	data, err := s.backend.Get(ctx, RecordUser)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if s.sealer != nil {
		if data, err = s.sealer.Open(data); err != nil {
			return nil, s.discard(ctx, err)
		}
	}

	u, err := DecodeUser(data)
	if err != nil {
		return nil, s.discard(ctx, err)
	}
	return u, nil
}

// discard drops an unreadable user record.
func (s *RecordStore) discard(ctx context.Context, cause error) error {
	s.logger.Warn("session: discarding unreadable user record", "error", cause)
	return s.backend.Delete(ctx, RecordUser)
}

// Clear removes the user record and keeps the language preference.
func (s *RecordStore) Clear(ctx context.Context) error {
	return s.backend.Delete(ctx, RecordUser)
}

// Purge removes every record.
func (s *RecordStore) Purge(ctx context.Context) error {
	return s.backend.Delete(ctx, RecordUser, RecordLanguage)
}

func (s *RecordStore) SaveLanguage(ctx context.Context, lang string) error {
	if lang == "" {
		return s.backend.Delete(ctx, RecordLanguage)
	}
	return s.backend.Put(ctx, RecordLanguage, []byte(lang))
}

func (s *RecordStore) LoadLanguage(ctx context.Context) (string, error) {
	data, err := s.backend.Get(ctx, RecordLanguage)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[name]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		delete(m.records, name)
	}
	return nil
}

// NewMemoryStore is shorthand for a RecordStore over a fresh MemoryBackend.
func NewMemoryStore(opts ...StoreOption) *RecordStore {
	return NewRecordStore(NewMemoryBackend(), opts...)
}
