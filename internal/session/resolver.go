package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// AddressResolver returns a best-effort device identifier used to scope the
// persisted session key.
type AddressResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// HTTPAddressResolver asks a public-address service for the current address.
// It accepts either {"ip": "..."} or a plain-text body.
type HTTPAddressResolver struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

// NewHTTPAddressResolver constructs a resolver.
func NewHTTPAddressResolver(url string, timeout time.Duration) *HTTPAddressResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPAddressResolver{client: &http.Client{}, url: url, timeout: timeout}
}

// Resolve fetches the address; the call is bounded by the resolver timeout.
func (r *HTTPAddressResolver) Resolve(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("address lookup: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", err
	}

	addr := string(bytes.TrimSpace(body))
	var payload struct {
		IP string `json:"ip"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.IP != "" {
		addr = payload.IP
	}
	if net.ParseIP(addr) == nil {
		return "", errors.New("address lookup: response is not an ip address")
	}
	return addr, nil
}
