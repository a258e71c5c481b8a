package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/mail-track-lite/internal/email"
	"github.com/shineum/mail-track-lite/internal/store"
)

// createRetries is how many times a send retries record creation when the
// store's unique constraint catches a token committed between the
// allocator's pre-check and the insert.
const createRetries = 3

// Tracker instruments one outbound envelope: allocates a token, rewrites
// the body tree, and persists the send record before transmission.
type Tracker struct {
	allocator *Allocator
	rewriter  *Rewriter
	store     store.Store
}

// NewTracker assembles the send-path instrumentation pipeline.
func NewTracker(allocator *Allocator, rewriter *Rewriter, st store.Store) *Tracker {
	return &Tracker{allocator: allocator, rewriter: rewriter, store: st}
}

// Instrumented is the result of instrumenting one envelope.
type Instrumented struct {
	Token    string
	Envelope *email.Envelope
}

// Instrument allocates a token, rewrites the envelope's body tree, and
// creates the correlated send record. The record holds the pre-injection
// HTML snapshot so a later purge can remove it together with the record.
func (t *Tracker) Instrument(ctx context.Context, env *email.Envelope) (*Instrumented, error) {
	for attempt := 0; attempt < createRetries; attempt++ {
		token, err := t.allocator.Allocate(ctx)
		if err != nil {
			return nil, err
		}

		body, originalHTML := t.rewriter.Rewrite(env.Body, token)
		out := *env
		out.Body = body

		rec := store.NewSendRecord(token)
		rec.Metadata.OriginalHTML = originalHTML

		err = t.store.Create(ctx, rec)
		if err == nil {
			return &Instrumented{Token: token, Envelope: &out}, nil
		}
		if !errors.Is(err, store.ErrDuplicateToken) {
			return nil, fmt.Errorf("create send record: %w", err)
		}
		// lost the race against a concurrent writer, allocate again
		slog.Debug("send record token collided on create, retrying",
			"attempt", attempt,
		)
	}
	return nil, ErrTokenSpaceExhausted
}

// RecordProviderMessageID binds the transport-assigned message id to the
// send record once the provider confirms sending. The id is the key later
// delivery feedback correlates on.
func (t *Tracker) RecordProviderMessageID(ctx context.Context, token, id string) error {
	if err := t.store.SetProviderMessageID(ctx, token, id); err != nil {
		return fmt.Errorf("record provider message id: %w", err)
	}
	return nil
}
