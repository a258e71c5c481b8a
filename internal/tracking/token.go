package tracking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/mail-track-lite/internal/store"
)

// DefaultTokenLength is the number of random bytes per token; hex encoding
// doubles it on the wire.
const DefaultTokenLength = 16

// maxAllocateAttempts bounds collision retries. Repeated collisions at this
// entropy indicate a systemic problem (token space too small), not bad luck.
const maxAllocateAttempts = 100

// ErrTokenSpaceExhausted reports that token generation kept colliding past
// the practical retry budget. Fatal for the send attempt.
var ErrTokenSpaceExhausted = errors.New("token allocation exhausted retry budget")

// TokenStore is the narrow store surface the allocator needs.
type TokenStore interface {
	FindByToken(ctx context.Context, token string) (*store.SendRecord, error)
}

// Allocator produces correlation tokens not yet bound to any send record.
// The lookup is a best-effort pre-check against tokens already committed;
// the store's unique constraint on token remains the authoritative guard
// at create time.
type Allocator struct {
	store  TokenStore
	length int
}

// NewAllocator creates an Allocator generating tokens of length random
// bytes. Non-positive lengths fall back to DefaultTokenLength.
func NewAllocator(st TokenStore, length int) *Allocator {
	if length <= 0 {
		length = DefaultTokenLength
	}
	return &Allocator{store: st, length: length}
}

// Allocate returns a fresh token, regenerating on collision.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		token, err := a.generate()
		if err != nil {
			return "", err
		}

		existing, err := a.store.FindByToken(ctx, token)
		if err != nil {
			return "", fmt.Errorf("token collision check: %w", err)
		}
		if existing == nil {
			return token, nil
		}

		slog.Debug("token collision, regenerating", "attempt", attempt)
	}
	return "", ErrTokenSpaceExhausted
}

// generate produces one fixed-length random token.
func (a *Allocator) generate() (string, error) {
	b := make([]byte, a.length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
