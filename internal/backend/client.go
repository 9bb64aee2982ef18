package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spec-kit/marshal-client/internal/domain"
)

var (
	// ErrMissingToken is returned when a 2xx auth response carries no token.
	ErrMissingToken = errors.New("backend response carries no token")
	// ErrUnauthorized is returned for 401 responses.
	ErrUnauthorized = errors.New("backend rejected credentials")
)

// StatusError describes a non-2xx backend response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client talks to the marshal REST backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a backend client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// LoginResult is the session material returned by a successful login.
type LoginResult struct {
	Token string    `json:"token"`
	User  LoginUser `json:"user"`
}

// LoginUser is the account block of a login response.
type LoginUser struct {
	ID    FlexibleID  `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// Session converts the login result into a session.
func (r LoginResult) Session() domain.Session {
	return domain.Session{
		UserID: string(r.User.ID),
		Email:  r.User.Email,
		Role:   r.User.Role,
		Token:  r.Token,
	}
}

// FlexibleID accepts ids encoded as JSON strings or numbers.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}

	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", body, &result); err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, ErrMissingToken
	}
	return &result, nil
}

// Refresh exchanges the current token for a new one. It sends no body.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", token, nil, &result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", ErrMissingToken
	}
	return result.Token, nil
}

// ListNotifications fetches the inbox for the session owner.
func (c *Client) ListNotifications(ctx context.Context, token string) ([]domain.NotificationRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/notifications", token, nil, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var records []domain.NotificationRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode notifications: %w", err)
		}
		return records, nil
	}

	var envelope struct {
		Notifications []domain.NotificationRecord `json:"notifications"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return envelope.Notifications, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/"+url.PathEscape(id)+"/read", token, nil, nil)
}

// DeleteNotification removes one notification.
func (c *Client) DeleteNotification(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), token, nil, nil)
}

// RegisterPushToken associates the device push token with the session owner.
func (c *Client) RegisterPushToken(ctx context.Context, token, pushToken, platform string) error {
	body := map[string]string{"token": pushToken, "platform": platform}
	return c.do(ctx, http.MethodPost, "/api/users/push-token", token, body, nil)
}

// UnregisterPushToken detaches the device push token on logout.
func (c *Client) UnregisterPushToken(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/api/users/push-token", token, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
