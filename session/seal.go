package session

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealFormatVersion byte = 1

	minSealMemoryKB    uint32 = 8 * 1024
	maxSealMemoryKB    uint32 = 1024 * 1024
	minSealTime        uint32 = 1
	maxSealTime        uint32 = 64
	minSealParallelism uint8  = 1
	minSealSaltLength         = 16
	maxSealSaltLength         = 64
	minPassphraseBytes        = 10

	sealKeyLength   = 32
	sealNonceLength = 24
	sealHeaderLen   = 1 + 4 + 4 + 1 + 1
)

// ErrSealBroken is returned when a sealed record cannot be opened, either
// because it was tampered with or because the passphrase differs.
var ErrSealBroken = errors.New("session: sealed record cannot be opened")

// SealConfig holds the argon2id cost parameters used to derive record keys.
type SealConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  int
}

// DefaultSealConfig mirrors the interactive argon2id profile.
func DefaultSealConfig() SealConfig {
	return SealConfig{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
	}
}

// Sealer encrypts persisted records at rest. Each record carries its own salt
// and cost parameters, so records sealed under an older SealConfig still open.
type Sealer struct {
	config     SealConfig
	passphrase []byte

	mu        sync.Mutex
	cachedFor []byte
	cachedKey [sealKeyLength]byte
}

// NewSealer validates cfg and returns a Sealer bound to passphrase.
func NewSealer(passphrase string, cfg SealConfig) (*Sealer, error) {
	if len(passphrase) < minPassphraseBytes {
		return nil, errors.New("seal passphrase must be at least 10 bytes")
	}
	if err := validateSealConfig(cfg); err != nil {
		return nil, err
	}
	return &Sealer{
		config:     cfg,
		passphrase: []byte(passphrase),
	}, nil
}

// Seal encrypts plain under a fresh salt and nonce.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	salt := make([]byte, s.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	var nonce [sealNonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	hdr := make([]byte, 0, sealHeaderLen+len(salt))
	hdr = append(hdr, sealFormatVersion)
	hdr = binary.BigEndian.AppendUint32(hdr, s.config.Memory)
	hdr = binary.BigEndian.AppendUint32(hdr, s.config.Time)
	hdr = append(hdr, s.config.Parallelism, byte(len(salt)))
	hdr = append(hdr, salt...)

	key := s.key(hdr, salt, s.config.Time, s.config.Memory, s.config.Parallelism)

	out := make([]byte, 0, len(hdr)+sealNonceLength+len(plain)+secretbox.Overhead)
	out = append(out, hdr...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, &key), nil
}

// Open reverses Seal. Any failure is reported as ErrSealBroken.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < sealHeaderLen || sealed[0] != sealFormatVersion {
		return nil, ErrSealBroken
	}
	memory := binary.BigEndian.Uint32(sealed[1:5])
	timeCost := binary.BigEndian.Uint32(sealed[5:9])
	parallelism := sealed[9]
	saltLen := int(sealed[10])

	if memory < minSealMemoryKB || memory > maxSealMemoryKB ||
		timeCost < minSealTime || timeCost > maxSealTime ||
		parallelism < minSealParallelism ||
		saltLen < minSealSaltLength || saltLen > maxSealSaltLength {
		return nil, ErrSealBroken
	}

	rest := sealed[sealHeaderLen:]
	if len(rest) < saltLen+sealNonceLength+secretbox.Overhead {
		return nil, ErrSealBroken
	}
	hdr := sealed[:sealHeaderLen+saltLen]
	salt := rest[:saltLen]
	var nonce [sealNonceLength]byte
	copy(nonce[:], rest[saltLen:saltLen+sealNonceLength])

	key := s.key(hdr, salt, timeCost, memory, parallelism)
	plain, ok := secretbox.Open(nil, rest[saltLen+sealNonceLength:], &nonce, &key)
	if !ok {
		return nil, ErrSealBroken
	}
	return plain, nil
}

func (s *Sealer) key(hdr, salt []byte, timeCost, memory uint32, parallelism uint8) [sealKeyLength]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedFor != nil && bytes.Equal(s.cachedFor, hdr) {
		return s.cachedKey
	}

	var key [sealKeyLength]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, timeCost, memory, parallelism, sealKeyLength))
	s.cachedFor = append(s.cachedFor[:0], hdr...)
	s.cachedKey = key
	return key
}

func validateSealConfig(cfg SealConfig) error {
	if cfg.Memory < minSealMemoryKB || cfg.Memory > maxSealMemoryKB {
		return errors.New("seal memory must be between 8192 KB and 1 GiB")
	}
	if cfg.Time < minSealTime || cfg.Time > maxSealTime {
		return errors.New("seal time must be between 1 and 64")
	}
	if cfg.Parallelism < minSealParallelism {
		return errors.New("seal parallelism must be >= 1")
	}
	if cfg.SaltLength < minSealSaltLength || cfg.SaltLength > maxSealSaltLength {
		return errors.New("seal salt length must be between 16 and 64")
	}
	return nil
}
