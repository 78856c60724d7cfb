// Package interaction holds the data that flows from the front door to the
// workers: parsed interaction requests, caller identities and the queue
// message that carries a slow command to its worker pool.
package interaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"guidon/internal/codec"
)

var (
	// ErrMalformedRequest marks an ingress body that cannot be parsed.
	ErrMalformedRequest = errors.New("malformed interaction request")
	// ErrMalformedMessage marks a queue payload that cannot be decoded.
	// Consumers drop such messages instead of retrying them.
	ErrMalformedMessage = errors.New("malformed queue message")
	// ErrUnknownChannel is returned for a channel other than chat or web.
	ErrUnknownChannel = errors.New("unknown channel")
)

type Channel string

const (
	ChannelChat Channel = "chat"
	ChannelWeb  Channel = "web"
)

func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelChat, ChannelWeb:
		return Channel(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// Chat platform interaction types.
const (
	TypePing    = 1
	TypeCommand = 2
)

// Caller is the identity resolved by the verifier for one request.
type Caller struct {
	ID     string `json:"id" cbor:"id"`
	Name   string `json:"name,omitempty" cbor:"name,omitempty"`
	Avatar string `json:"avatar,omitempty" cbor:"avatar,omitempty"`
	// ChatID is the conversation a chat caller wrote from, when known.
	ChatID int64 `json:"chat_id,omitempty" cbor:"chat_id,omitempty"`
}

// Request is the body of POST /interactions/{channel}.
type Request struct {
	Type       int     `json:"type,omitempty"`
	Command    string  `json:"command"`
	Options    Options `json:"options,omitempty"`
	Token      string  `json:"token,omitempty"`
	WebhookURL string  `json:"webhook_url,omitempty"`
	// User carries the caller as reported by the chat platform. It is
	// trusted only after the request signature has been verified.
	User   *Caller `json:"user,omitempty"`
	ChatID int64   `json:"chat_id,omitempty"`
}

// ParseRequest decodes and validates an interaction body.
func ParseRequest(body []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Type == TypePing {
		return req, nil
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return Request{}, fmt.Errorf("%w: missing command", ErrMalformedRequest)
	}
	if req.WebhookURL != "" {
		u, err := url.Parse(req.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Request{}, fmt.Errorf("%w: invalid webhook_url", ErrMalformedRequest)
		}
	}
	return req, nil
}

// Invocation is what a command handler sees, on either path.
type Invocation struct {
	Token   string
	Channel Channel
	Command string
	Options Options
	Caller  Caller
}

// Message is the queue payload for a slow command.
type Message struct {
	Token      string    `cbor:"token"`
	Channel    Channel   `cbor:"channel"`
	Command    string    `cbor:"command"`
	Options    Options   `cbor:"options,omitempty"`
	Caller     Caller    `cbor:"caller"`
	WebhookURL string    `cbor:"webhook_url,omitempty"`
	EnqueuedAt time.Time `cbor:"enqueued_at"`
}

func (m Message) Invocation() Invocation {
	return Invocation{
		Token:   m.Token,
		Channel: m.Channel,
		Command: m.Command,
		Options: m.Options,
		Caller:  m.Caller,
	}
}

func (m Message) Encode() ([]byte, error) {
	return codec.Marshal(m)
}

// DecodeMessage decodes a queue payload. Every failure wraps
// ErrMalformedMessage.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Token == "" || m.Command == "" {
		return Message{}, fmt.Errorf("%w: missing token or command", ErrMalformedMessage)
	}
	if _, err := ParseChannel(string(m.Channel)); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}
