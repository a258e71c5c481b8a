package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shineum/mail-track-lite/internal/events"
	"github.com/shineum/mail-track-lite/internal/store"
)

// permanentBounceType is the only bounce type classified as permanent;
// everything else (Transient, Undetermined) is treated as transient.
const permanentBounceType = "Permanent"

// Processor merges delivery feedback into send records and emits domain
// events. Handlers are idempotent: re-applying an identical notification
// overwrites the same metadata fields with the same values, so at-least-once
// queue delivery is safe.
type Processor struct {
	store store.Store
	sink  events.Sink
}

// NewProcessor creates a Processor over the given store and event sink.
func NewProcessor(st store.Store, sink events.Sink) *Processor {
	return &Processor{store: st, sink: sink}
}

// Process routes a notification to the matching handler. Notifications
// carrying neither a bounce nor a complaint (e.g. delivery receipts) are
// ignored.
func (p *Processor) Process(ctx context.Context, n *Notification) error {
	switch {
	case n.Bounce != nil:
		return p.HandleBounce(ctx, n)
	case n.Complaint != nil:
		return p.HandleComplaint(ctx, n)
	default:
		slog.Debug("ignoring notification without bounce or complaint",
			"notification_type", n.NotificationType,
		)
		return nil
	}
}

// HandleBounce records recipient-level failures on the correlated send
// record and emits one bounce event per recipient. A notification for an
// unknown provider message id is a silent no-op: the message was never
// tracked or its record was already purged.
func (p *Processor) HandleBounce(ctx context.Context, n *Notification) error {
	if n.Bounce == nil || len(n.Bounce.BouncedRecipients) == 0 || n.Mail.MessageID == "" {
		return fmt.Errorf("%w: bounce requires mail.messageId and bouncedRecipients", ErrMalformedNotification)
	}

	rec, err := p.store.FindByProviderMessageID(ctx, n.Mail.MessageID)
	if err != nil {
		return fmt.Errorf("resolve bounce correlation: %w", err)
	}
	if rec == nil {
		slog.Debug("bounce for untracked message, ignoring",
			"provider_message_id", n.Mail.MessageID,
		)
		return nil
	}

	failures := make([]store.BouncedRecipient, len(n.Bounce.BouncedRecipients))
	for i, r := range n.Bounce.BouncedRecipients {
		failures[i] = store.BouncedRecipient{
			EmailAddress:   r.EmailAddress,
			DiagnosticCode: r.DiagnosticCode,
		}
	}

	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal bounce audit copy: %w", err)
	}

	err = p.store.UpdateMetadata(ctx, rec.Token, func(m *store.Metadata) {
		m.Failures = failures
		m.Success = false
		m.LastBounce = raw
	})
	if err != nil {
		return fmt.Errorf("merge bounce into send record: %w", err)
	}

	rec.Metadata.Failures = failures
	rec.Metadata.Success = false
	rec.Metadata.LastBounce = raw

	for _, r := range n.Bounce.BouncedRecipients {
		if n.Bounce.BounceType == permanentBounceType {
			p.emit(ctx, events.PermanentBounce{
				Recipient: r.EmailAddress,
				Record:    rec,
			})
			continue
		}
		p.emit(ctx, events.TransientBounce{
			Recipient:      r.EmailAddress,
			BounceSubType:  n.Bounce.BounceSubType,
			DiagnosticCode: r.DiagnosticCode,
			Record:         rec,
		})
	}
	return nil
}

// HandleComplaint records a spam complaint on the correlated send record
// and emits one complaint event per complaining recipient.
func (p *Processor) HandleComplaint(ctx context.Context, n *Notification) error {
	if n.Complaint == nil || len(n.Complaint.ComplainedRecipients) == 0 || n.Mail.MessageID == "" {
		return fmt.Errorf("%w: complaint requires mail.messageId and complainedRecipients", ErrMalformedNotification)
	}

	rec, err := p.store.FindByProviderMessageID(ctx, n.Mail.MessageID)
	if err != nil {
		return fmt.Errorf("resolve complaint correlation: %w", err)
	}
	if rec == nil {
		slog.Debug("complaint for untracked message, ignoring",
			"provider_message_id", n.Mail.MessageID,
		)
		return nil
	}

	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal complaint audit copy: %w", err)
	}

	err = p.store.UpdateMetadata(ctx, rec.Token, func(m *store.Metadata) {
		m.Complaint = true
		m.Success = false
		m.ComplaintTime = n.Complaint.Timestamp
		m.LastComplaint = raw
	})
	if err != nil {
		return fmt.Errorf("merge complaint into send record: %w", err)
	}

	rec.Metadata.Complaint = true
	rec.Metadata.Success = false
	rec.Metadata.ComplaintTime = n.Complaint.Timestamp
	rec.Metadata.LastComplaint = raw

	for _, r := range n.Complaint.ComplainedRecipients {
		p.emit(ctx, events.Complaint{
			Recipient: r.EmailAddress,
			Record:    rec,
		})
	}
	return nil
}

// emit publishes best-effort: the metadata merge is already durable and a
// dispatch failure must not undo it, so publish errors are logged and
// swallowed.
func (p *Processor) emit(ctx context.Context, event events.Event) {
	if err := p.sink.Publish(ctx, event); err != nil {
		slog.Error("failed to publish domain event",
			"kind", event.Kind(),
			"error", err,
		)
	}
}
