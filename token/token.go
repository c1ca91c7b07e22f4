package token

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind classifies why a token could not be decoded.
type Kind uint8

const (
	// KindFormat means the token is not three non-empty dot-separated segments.
	KindFormat Kind = iota + 1
	// KindPayload means the payload segment is not valid base64url JSON.
	KindPayload
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// ErrMalformed is matched by every *DecodeError through errors.Is.
var ErrMalformed = errors.New("token: malformed")

// DecodeError is the failure side of Decode.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "token: malformed " + e.Kind.String()
	}
	return "token: malformed " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports ErrMalformed for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

// Claims is the access token payload as read on the client. Only exp is
// required for freshness checks; role and email are informational.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// IsValidFormat reports whether tok has exactly three non-empty segments.
func IsValidFormat(tok string) bool {
	if tok == "" {
		return false
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// Decode reads the payload segment of tok. The header and signature are
// not inspected: the backend remains the authority on signatures and the
// client only needs the expiry to decide when to refresh.
//
// The payload must be a base64url JSON object with a numeric exp when exp
// is present. Other claims of an unexpected type are ignored.
func Decode(tok string) (*Claims, error) {
	if !IsValidFormat(tok) {
		return nil, &DecodeError{Kind: KindFormat}
	}

	seg, err := parser.DecodeSegment(strings.Split(tok, ".")[1])
	if err != nil {
		return nil, &DecodeError{Kind: KindPayload, Err: err}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(seg, &raw); err != nil {
		return nil, &DecodeError{Kind: KindPayload, Err: err}
	}
	if raw == nil {
		return nil, &DecodeError{Kind: KindPayload, Err: errors.New("payload is not an object")}
	}

	out := &Claims{
		Role:  stringClaim(raw["role"]),
		Email: stringClaim(raw["email"]),
	}
	out.Subject = stringClaim(raw["sub"])
	out.Issuer = stringClaim(raw["iss"])
	out.ID = stringClaim(raw["jti"])
	if v, ok := raw["exp"]; ok {
		var exp jwt.NumericDate
		if err := exp.UnmarshalJSON(v); err != nil {
			return nil, &DecodeError{Kind: KindPayload, Err: err}
		}
		out.ExpiresAt = &exp
	}
	out.IssuedAt = dateClaim(raw["iat"])
	out.NotBefore = dateClaim(raw["nbf"])
	return out, nil
}

func stringClaim(v json.RawMessage) string {
	var s string
	if len(v) == 0 || json.Unmarshal(v, &s) != nil {
		return ""
	}
	return s
}

func dateClaim(v json.RawMessage) *jwt.NumericDate {
	if len(v) == 0 {
		return nil
	}
	var d jwt.NumericDate
	if err := d.UnmarshalJSON(v); err != nil {
		return nil
	}
	return &d
}

// ExpiresAt returns the exp claim when present.
func ExpiresAt(c *Claims) (time.Time, bool) {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// IsExpired compares exp against now with millisecond precision. A nil
// payload or a missing exp counts as expired.
func IsExpired(c *Claims, now time.Time) bool {
	exp, ok := ExpiresAt(c)
	if !ok {
		return true
	}
	return exp.UnixMilli() <= now.UnixMilli()
}

// Fresh decodes tok and reports whether it is well formed and unexpired at now.
func Fresh(tok string, now time.Time) (*Claims, bool) {
	c, err := Decode(tok)
	if err != nil {
		return nil, false
	}
	if IsExpired(c, now) {
		return c, false
	}
	return c, true
}
