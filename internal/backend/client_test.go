package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/marshal-client/internal/domain"
)

func TestClient_Refresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/refresh", r.URL.Path)
		assert.Equal(t, "Bearer old.token.sig", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		_, _ = w.Write([]byte(`{"token":"new.token.sig"}`))
	}))
	defer srv.Close()

	token, err := NewClient(srv.URL+"/", time.Second).Refresh(context.Background(), "old.token.sig")
	require.NoError(t, err)
	assert.Equal(t, "new.token.sig", token)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_RefreshFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"expired"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusUnauthorized, se.Status)
			},
		},
		{
			name: "server error", status: http.StatusBadGateway, body: "upstream",
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Contains(t, se.Error(), "upstream")
			},
		},
		{
			name: "missing token", status: http.StatusOK, body: `{"ok":true}`,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrMissingToken) },
		},
		{
			name: "malformed body", status: http.StatusOK, body: `{"token":`,
			check: func(t *testing.T, err error) { assert.Contains(t, err.Error(), "decode") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Refresh(context.Background(), "t")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_RefreshNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Refresh(context.Background(), "t")
	assert.Error(t, err)
}

func TestClient_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m@example.com", body["email"])
		_, _ = w.Write([]byte(`{"token":"a.b.c","user":{"id":12,"email":"m@example.com","role":"admin"}}`))
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL, time.Second).Login(context.Background(), "m@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, domain.Session{UserID: "12", Email: "m@example.com", Role: domain.RoleAdmin, Token: "a.b.c"}, result.Session())
}

func TestClient_ListNotifications(t *testing.T) {
	bodies := []string{
		`[{"id":"1","title_en":"Shift","is_read":false,"created_at":"2026-10-01T10:00:00Z","event_id":"ev-3"}]`,
		`{"notifications":[{"id":"1","title_en":"Shift","is_read":false,"created_at":"2026-10-01T10:00:00Z","event_id":"ev-3"}]}`,
	}

	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(body))
		}))

		records, err := NewClient(srv.URL, time.Second).ListNotifications(context.Background(), "tok")
		srv.Close()
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "Shift", records[0].TitleEn)
		require.NotNil(t, records[0].EventID)
		assert.Equal(t, "ev-3", *records[0].EventID)
	}
}

func TestClient_Mutations(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()
	require.NoError(t, c.MarkNotificationRead(ctx, "tok", "n1"))
	require.NoError(t, c.DeleteNotification(ctx, "tok", "n2"))
	require.NoError(t, c.RegisterPushToken(ctx, "tok", "fcm-1", "android"))
	require.NoError(t, c.UnregisterPushToken(ctx, "tok"))

	assert.Equal(t, []string{
		"PUT /api/notifications/n1/read",
		"DELETE /api/notifications/n2",
		"POST /api/users/push-token",
		"DELETE /api/users/push-token",
	}, seen)
}
