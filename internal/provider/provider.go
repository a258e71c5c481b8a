// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mail-track-lite/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider handles the actual sending of an instrumented envelope to
// the target service.
type Provider interface {
	// Send delivers the envelope through this provider and returns the
	// provider-assigned message id, or an empty string if the transport
	// does not report one. The id is the key later delivery feedback
	// correlates on.
	Send(ctx context.Context, env *email.Envelope) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
