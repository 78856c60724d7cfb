package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"guidon/internal/auth"
	"guidon/internal/interaction"
	"guidon/internal/logging"
)

const HeaderSession = "X-Session-ID"

// WebVerifier resolves the browser session against a session authority.
type WebVerifier struct {
	authority auth.Authority
	logger    *zap.Logger
}

func NewWebVerifier(authority auth.Authority, logger *zap.Logger) *WebVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebVerifier{authority: authority, logger: logger}
}

func (v *WebVerifier) Verify(ctx context.Context, raw Raw) (interaction.Caller, error) {
	id := strings.TrimSpace(raw.Header.Get(HeaderSession))
	if id == "" {
		return interaction.Caller{}, ErrNoSession
	}
	sess, err := v.authority.Lookup(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrSessionExpired):
		v.logger.Info("session rejected", logging.Secret("session", id), zap.Error(err))
		return interaction.Caller{}, ErrInvalidSession
	default:
		v.logger.Warn("session lookup failed", logging.Secret("session", id), zap.Error(err))
		return interaction.Caller{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return interaction.Caller{ID: sess.UserID, Name: sess.Username, Avatar: sess.Avatar}, nil
}
