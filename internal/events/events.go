// Package events defines the typed domain events emitted per affected
// recipient and the sinks that carry them to external consumers.
package events

import (
	"context"
	"log/slog"

	"github.com/shineum/mail-track-lite/internal/store"
)

// Event is one recipient-level delivery-feedback event. Kind doubles as
// the routing key the event publishes under.
type Event interface {
	Kind() string
}

// PermanentBounce reports a hard delivery failure for one recipient.
type PermanentBounce struct {
	Recipient string            `json:"recipient"`
	Record    *store.SendRecord `json:"record"`
}

func (PermanentBounce) Kind() string { return "bounce.permanent" }

// TransientBounce reports a soft delivery failure for one recipient,
// carrying the bounce subtype and the diagnostic code when the transport
// supplied one (empty string otherwise).
type TransientBounce struct {
	Recipient      string            `json:"recipient"`
	BounceSubType  string            `json:"bounce_sub_type"`
	DiagnosticCode string            `json:"diagnostic_code"`
	Record         *store.SendRecord `json:"record"`
}

func (TransientBounce) Kind() string { return "bounce.transient" }

// Complaint reports a recipient marking the message as spam/abuse.
type Complaint struct {
	Recipient string            `json:"recipient"`
	Record    *store.SendRecord `json:"record"`
}

func (Complaint) Kind() string { return "complaint" }

// Sink publishes domain events.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to the structured log. Used when no broker is
// configured.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, event Event) error {
	slog.Info("domain event", "kind", event.Kind())
	return nil
}
