package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/marshal-client/internal/domain"
)

// DefaultRefreshThreshold is how close to expiry a token counts as expiring soon.
const DefaultRefreshThreshold = 10 * time.Minute

// ErrTokenExpired is returned when a token is expired or cannot be decoded.
var ErrTokenExpired = errors.New("token expired or unreadable")

var (
	errSegmentCount   = errors.New("token must have three segments")
	errInvalidPadding = errors.New("token payload length is not recoverable")
	errInvalidUTF8    = errors.New("token payload is not utf-8")
)

var urlAlphabet = strings.NewReplacer("-", "+", "_", "/")

// Claims is the payload shape issued by the backend. Older tokens carry the
// user id in "id" instead of "sub".
type Claims struct {
	UserID json.RawMessage `json:"id,omitempty"`
	Email  string          `json:"email,omitempty"`
	Role   domain.Role     `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Decode performs a structural decode of the token payload. It never verifies
// the signature and returns nil for anything it cannot parse.
func Decode(token string) *domain.TokenClaims {
	claims, err := decodeClaims(token)
	if err != nil {
		return nil
	}

	out := &domain.TokenClaims{
		Subject: claims.Subject,
		Role:    claims.Role,
	}
	if out.Subject == "" {
		out.Subject = rawString(claims.UserID)
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out
}

func decodeClaims(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errSegmentCount
	}

	raw, err := decodeSegment(parts[1])
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		return nil, errInvalidUTF8
	}

	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// decodeSegment restores padding on a base64url segment and decodes it.
func decodeSegment(segment string) ([]byte, error) {
	s := urlAlphabet.Replace(strings.TrimRight(segment, "="))
	switch len(s) % 4 {
	case 1:
		return nil, errInvalidPadding
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.StdEncoding.DecodeString(s)
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Classify derives the token state. Missing claims or a missing expiry are expired.
func Classify(claims *domain.TokenClaims, threshold time.Duration, now time.Time) domain.TokenState {
	if claims == nil || claims.ExpiresAt.IsZero() {
		return domain.TokenExpired
	}
	remaining := claims.ExpiresAt.Sub(now)
	switch {
	case remaining <= 0:
		return domain.TokenExpired
	case remaining < threshold:
		return domain.TokenExpiringSoon
	default:
		return domain.TokenValid
	}
}

// TokenCodec binds decoding to a threshold and clock.
type TokenCodec struct {
	Threshold time.Duration
	Now       func() time.Time
}

// NewTokenCodec builds a codec using the wall clock.
func NewTokenCodec(threshold time.Duration) TokenCodec {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	return TokenCodec{Threshold: threshold, Now: time.Now}
}

func (c TokenCodec) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// State decodes and classifies the token.
func (c TokenCodec) State(token string) (domain.TokenState, *domain.TokenClaims) {
	claims := Decode(token)
	return Classify(claims, c.Threshold, c.now()), claims
}

// IsValid reports whether the token decodes and has not expired.
func (c TokenCodec) IsValid(token string) bool {
	state, _ := c.State(token)
	return state != domain.TokenExpired
}

// IsExpiringSoon reports whether the token expires within the threshold.
func (c TokenCodec) IsExpiringSoon(token string) bool {
	state, _ := c.State(token)
	return state == domain.TokenExpiringSoon
}
