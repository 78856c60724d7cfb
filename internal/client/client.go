// Package client talks to a guidon server on the web channel.
package client

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

	"guidon/internal/canvas"
	"guidon/internal/dispatch"
	"guidon/internal/interaction"
	"guidon/internal/results"
	"guidon/internal/verify"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRejected     = errors.New("request rejected")
	ErrUnavailable  = errors.New("server unavailable")
)

// Ack is the server's immediate answer to an issued command.
type Ack struct {
	Status   int
	Response dispatch.Response
}

// Terminal reports whether the answer already carries the final result.
func (a Ack) Terminal() bool { return a.Status == http.StatusOK && a.Response.Status.Terminal() }

// Result is one observation of GET /results/{token}.
type Result struct {
	Token   string          `json:"token"`
	Status  results.Status  `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
}

func New(baseURL, sessionID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionID != "" {
		req.Header.Set(verify.HeaderSession, c.sessionID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return resp.StatusCode, data, nil
}

// classify maps a non-success answer to one of the package errors.
func classify(status int, data []byte) error {
	var r dispatch.Response
	_ = json.Unmarshal(data, &r)
	msg := r.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s (%s)", ErrUnauthorized, msg, r.Code)
	case status >= 500:
		return fmt.Errorf("%w: %s (%s)", ErrUnavailable, msg, r.Code)
	default:
		return fmt.Errorf("%w: %d %s (%s)", ErrRejected, status, msg, r.Code)
	}
}

// Issue posts a command on the web channel.
func (c *Client) Issue(ctx context.Context, req interaction.Request) (Ack, error) {
	status, data, err := c.do(ctx, http.MethodPost, "/interactions/"+string(interaction.ChannelWeb), req)
	if err != nil {
		return Ack{}, err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return Ack{Status: status}, classify(status, data)
	}
	ack := Ack{Status: status}
	if err := json.Unmarshal(data, &ack.Response); err != nil {
		return Ack{}, fmt.Errorf("%w: decode ack: %v", ErrUnavailable, err)
	}
	if ack.Response.Token == "" {
		ack.Response.Token = req.Token
	}
	return ack, nil
}

// Result polls the result store once.
func (c *Client) Result(ctx context.Context, token string) (Result, error) {
	status, data, err := c.do(ctx, http.MethodGet, "/results/"+url.PathEscape(token), nil)
	if err != nil {
		return Result{}, err
	}
	switch status {
	case http.StatusAccepted:
		return Result{Token: token, Status: results.StatusProcessing}, nil
	case http.StatusOK:
		var r Result
		if err := json.Unmarshal(data, &r); err != nil {
			return Result{}, fmt.Errorf("%w: decode result: %v", ErrUnavailable, err)
		}
		if r.Token == "" {
			r.Token = token
		}
		return r, nil
	}
	return Result{}, classify(status, data)
}

// Canvas fetches the authoritative canvas.
func (c *Client) Canvas(ctx context.Context) (canvas.State, error) {
	status, data, err := c.do(ctx, http.MethodGet, "/canvas", nil)
	if err != nil {
		return canvas.State{}, err
	}
	if status != http.StatusOK {
		return canvas.State{}, classify(status, data)
	}
	var st canvas.State
	if err := json.Unmarshal(data, &st); err != nil {
		return canvas.State{}, fmt.Errorf("%w: decode canvas: %v", ErrUnavailable, err)
	}
	return st, nil
}
