package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/auth"
	"github.com/spec-kit/marshal-client/internal/backend"
	"github.com/spec-kit/marshal-client/internal/domain"
	"github.com/spec-kit/marshal-client/internal/session"
)

// ErrInvalidCredentials is returned when the backend rejects a login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthAPI is the backend surface used for login and logout.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
	UnregisterPushToken(ctx context.Context, token string) error
}

// SessionStore is the session slot as seen by the auth service.
type SessionStore interface {
	Current() (domain.Session, bool)
	Save(ctx context.Context, s domain.Session)
	Clear(ctx context.Context, reason string)
	ClearIfToken(ctx context.Context, token, reason string) bool
}

// AuthService coordinates login and logout around the session store.
type AuthService struct {
	api       AuthAPI
	sessions  SessionStore
	codec     auth.TokenCodec
	logger    *zap.Logger
	unregTime time.Duration
}

// NewAuthService builds the service.
func NewAuthService(api AuthAPI, sessions SessionStore, codec auth.TokenCodec, logger *zap.Logger) *AuthService {
	return &AuthService{
		api:       api,
		sessions:  sessions,
		codec:     codec,
		logger:    logger.Named("auth"),
		unregTime: 5 * time.Second,
	}
}

// Login exchanges credentials for a session and makes it current.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.Session{}, ErrInvalidCredentials
	}

	result, err := s.api.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return domain.Session{}, ErrInvalidCredentials
		}
		return domain.Session{}, err
	}

	sess := result.Session()
	if state, _ := s.codec.State(sess.Token); state == domain.TokenExpired {
		s.logger.Warn("backend issued an unusable token", zap.String("user_id", sess.UserID))
		return domain.Session{}, auth.ErrTokenExpired
	}

	s.sessions.Save(ctx, sess)
	s.logger.Info("signed in", zap.String("user_id", sess.UserID), zap.String("role", string(sess.Role)))
	return sess, nil
}

// Adopt makes a session obtained by the shell current.
func (s *AuthService) Adopt(ctx context.Context, sess domain.Session) (domain.TokenState, error) {
	if sess.IsZero() {
		return domain.TokenExpired, auth.ErrTokenExpired
	}
	state, claims := s.codec.State(sess.Token)
	if state == domain.TokenExpired {
		return state, auth.ErrTokenExpired
	}
	if sess.UserID == "" && claims != nil {
		sess.UserID = claims.Subject
	}
	if sess.Role == "" && claims != nil {
		sess.Role = claims.Role
	}
	s.sessions.Save(ctx, sess)
	return state, nil
}

// Logout detaches the device push token (best effort) and clears the session.
func (s *AuthService) Logout(ctx context.Context) {
	s.end(ctx, session.ReasonLogout)
}

// Expire logs out the session that carries token after it could not be kept
// alive. A session that has since been replaced is left alone.
func (s *AuthService) Expire(ctx context.Context, token string) {
	current, ok := s.sessions.Current()
	if !ok || current.Token != token || !s.sessions.ClearIfToken(ctx, token, session.ReasonExpired) {
		s.logger.Debug("expired token no longer current; ignoring")
		return
	}
	s.logger.Info("signed out", zap.String("user_id", current.UserID), zap.String("reason", session.ReasonExpired))
}

func (s *AuthService) end(ctx context.Context, reason string) {
	current, ok := s.sessions.Current()
	if ok {
		unregCtx, cancel := context.WithTimeout(ctx, s.unregTime)
		if err := s.api.UnregisterPushToken(unregCtx, current.Token); err != nil {
			s.logger.Warn("unregister push token", zap.String("user_id", current.UserID), zap.Error(err))
		}
		cancel()
	}
	s.sessions.Clear(ctx, reason)
	if ok {
		s.logger.Info("signed out", zap.String("user_id", current.UserID), zap.String("reason", reason))
	}
}
