package dto

import (
	"time"

	"github.com/spec-kit/marshal-client/internal/domain"
)

// LoginRequest payload for POST /session/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdoptSessionRequest carries a session the shell obtained itself.
type AdoptSessionRequest struct {
	UserID string      `json:"userId"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	Token  string      `json:"token"`
}

// Session converts the request into a domain session.
func (r AdoptSessionRequest) Session() domain.Session {
	return domain.Session{UserID: r.UserID, Email: r.Email, Role: r.Role, Token: r.Token}
}

// SessionResponse describes the active session. The token is only returned
// right after login or adoption.
type SessionResponse struct {
	UserID     string      `json:"userId"`
	Email      string      `json:"email"`
	Role       domain.Role `json:"role"`
	TokenState string      `json:"tokenState"`
	IssuedAt   *time.Time  `json:"issuedAt,omitempty"`
	ExpiresAt  *time.Time  `json:"expiresAt,omitempty"`
	Token      string      `json:"token,omitempty"`
}

// NewSessionResponse builds the response from a session and its decoded claims.
func NewSessionResponse(s domain.Session, state domain.TokenState, claims *domain.TokenClaims) SessionResponse {
	resp := SessionResponse{
		UserID:     s.UserID,
		Email:      s.Email,
		Role:       s.Role,
		TokenState: state.String(),
	}
	if claims != nil {
		if !claims.IssuedAt.IsZero() {
			iat := claims.IssuedAt
			resp.IssuedAt = &iat
		}
		if !claims.ExpiresAt.IsZero() {
			exp := claims.ExpiresAt
			resp.ExpiresAt = &exp
		}
	}
	return resp
}
