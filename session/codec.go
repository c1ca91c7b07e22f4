package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const recordFormatVersionCurrent = 1

// ErrCorruptRecord is returned when a persisted record cannot be decoded.
var ErrCorruptRecord = errors.New("session: corrupt record")

type envelope struct {
	Version int   `json:"v"`
	User    *User `json:"user"`
}

// EncodeUser serializes u into the versioned record format.
func EncodeUser(u *User) ([]byte, error) {
	if u == nil {
		return nil, errors.New("session: nil user")
	}
	return json.Marshal(envelope{Version: recordFormatVersionCurrent, User: u})
}

// DecodeUser parses a record produced by EncodeUser. Any structural problem
// is reported as ErrCorruptRecord.
func DecodeUser(data []byte) (*User, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrCorruptRecord)
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrCorruptRecord)
	}
	if env.Version != recordFormatVersionCurrent {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, env.Version)
	}
	if env.User == nil {
		return nil, fmt.Errorf("%w: missing user", ErrCorruptRecord)
	}
	return env.User, nil
}
