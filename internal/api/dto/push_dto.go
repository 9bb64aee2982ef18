package dto

import "github.com/spec-kit/marshal-client/internal/service"

// PushTokenRequest payload for POST /push/token.
type PushTokenRequest struct {
	Token string `json:"token"`
}

// LaunchResponse reports whether the launch check ran for this report.
type LaunchResponse struct {
	Checked bool `json:"checked"`
}

// LocaleRequest payload for PUT /locale.
type LocaleRequest struct {
	Locale string `json:"locale"`
}

// LocaleResponse reports the active locale.
type LocaleResponse struct {
	Locale string `json:"locale"`
	RTL    bool   `json:"rtl"`
}

// BadgeResponse reports the unread count.
type BadgeResponse struct {
	Count int `json:"count"`
}

// NotificationListResponse is the localized inbox.
type NotificationListResponse struct {
	Notifications []service.LocalizedNotification `json:"notifications"`
	Unread        int                             `json:"unread"`
}
