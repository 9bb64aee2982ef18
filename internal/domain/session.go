package domain

import "time"

// Role is the account role carried by a session.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleMarshal Role = "marshal"
)

// Session is the single active signed-in account on this device.
type Session struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Token  string `json:"token"`
}

// IsZero reports whether the session carries no credential.
func (s Session) IsZero() bool {
	return s.Token == ""
}

// TokenClaims is the structural decode of a session token payload.
type TokenClaims struct {
	Subject   string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenState classifies a token against the current time.
type TokenState int

const (
	TokenValid TokenState = iota
	TokenExpiringSoon
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpiringSoon:
		return "expiring_soon"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}
