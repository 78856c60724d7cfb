// Package webhook pushes terminal results to a caller-supplied URL. One
// attempt, short timeout; the result store remains the source of truth.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guidon/internal/results"
)

var ErrDelivery = errors.New("webhook delivery failed")

// Payload is the body of every webhook POST.
type Payload struct {
	Token   string          `json:"token"`
	Status  results.Status  `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{client: &http.Client{Timeout: timeout}}
}

// Send posts p to url once. Any non-2xx answer is ErrDelivery.
func (s *Sender) Send(ctx context.Context, url string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "guidon-webhook/1")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode, errorBody(resp.Body))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	return nil
}

const maxBody = 64 << 10

func errorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
