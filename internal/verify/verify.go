// Package verify establishes who sent an interaction before anything else
// looks at it. The chat channel is authenticated by an ed25519 signature
// over the raw request; the web channel by a browser session.
package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"guidon/internal/interaction"
)

var (
	ErrBadSignature   = errors.New("invalid request signature")
	ErrNoSession      = errors.New("missing session")
	ErrInvalidSession = errors.New("invalid session")
	// ErrUnavailable is returned when the session authority could not be
	// reached. It is not an authentication failure.
	ErrUnavailable = errors.New("verification unavailable")
)

// Raw is the untouched ingress request.
type Raw struct {
	Header http.Header
	Body   []byte
}

type Verifier interface {
	Verify(ctx context.Context, raw Raw) (interaction.Caller, error)
}

// Set routes verification by channel.
type Set struct {
	Chat Verifier
	Web  Verifier
}

func (s Set) Verify(ctx context.Context, channel interaction.Channel, raw Raw) (interaction.Caller, error) {
	var v Verifier
	switch channel {
	case interaction.ChannelChat:
		v = s.Chat
	case interaction.ChannelWeb:
		v = s.Web
	default:
		return interaction.Caller{}, fmt.Errorf("%w: %q", interaction.ErrUnknownChannel, channel)
	}
	if v == nil {
		return interaction.Caller{}, fmt.Errorf("%w: channel %s not configured", ErrUnavailable, channel)
	}
	return v.Verify(ctx, raw)
}

// Status maps a verification error to an HTTP status and a stable code
// clients can tell apart.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, ErrNoSession):
		return http.StatusUnauthorized, "no_session"
	case errors.Is(err, ErrInvalidSession):
		return http.StatusUnauthorized, "invalid_session"
	case errors.Is(err, interaction.ErrUnknownChannel):
		return http.StatusNotFound, "unknown_channel"
	default:
		return http.StatusServiceUnavailable, "verification_unavailable"
	}
}
