package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAuthority asks a remote auth service to validate sessions:
// POST {base}/auth/verify {"session_id": ...} -> {"valid": bool, "user": {...}}.
type HTTPAuthority struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAuthority(baseURL string, timeout time.Duration) *HTTPAuthority {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPAuthority{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type verifyResponse struct {
	Valid bool `json:"valid"`
	User  struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	} `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *HTTPAuthority) Lookup(ctx context.Context, sessionID string) (Session, error) {
	body, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/verify", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		return Session{}, ErrSessionNotFound
	case resp.StatusCode >= 300:
		return Session{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Session{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if !out.Valid || out.User.ID == "" {
		return Session{}, ErrSessionNotFound
	}
	return Session{
		ID:        sessionID,
		UserID:    out.User.ID,
		Username:  out.User.Username,
		Avatar:    out.User.Avatar,
		ExpiresAt: out.ExpiresAt,
	}, nil
}
