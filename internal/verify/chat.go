package verify

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"guidon/internal/interaction"
)

const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// ChatVerifier checks the platform signature over timestamp || body.
type ChatVerifier struct {
	key ed25519.PublicKey
}

// NewChatVerifier parses a hex encoded ed25519 public key.
func NewChatVerifier(hexKey string) (*ChatVerifier, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode chat public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("chat public key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return &ChatVerifier{key: ed25519.PublicKey(raw)}, nil
}

func (v *ChatVerifier) Verify(_ context.Context, raw Raw) (interaction.Caller, error) {
	sigHex := raw.Header.Get(HeaderSignature)
	ts := raw.Header.Get(HeaderTimestamp)
	if sigHex == "" || ts == "" {
		return interaction.Caller{}, ErrBadSignature
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return interaction.Caller{}, ErrBadSignature
	}
	msg := make([]byte, 0, len(ts)+len(raw.Body))
	msg = append(msg, ts...)
	msg = append(msg, raw.Body...)
	if !ed25519.Verify(v.key, msg, sig) {
		return interaction.Caller{}, ErrBadSignature
	}

	// The body is authentic now, so the identity it carries can be trusted.
	var env struct {
		User   *interaction.Caller `json:"user"`
		ChatID int64               `json:"chat_id"`
	}
	if err := json.Unmarshal(raw.Body, &env); err != nil || env.User == nil {
		return interaction.Caller{ChatID: env.ChatID}, nil
	}
	caller := *env.User
	if caller.ChatID == 0 {
		caller.ChatID = env.ChatID
	}
	return caller, nil
}
