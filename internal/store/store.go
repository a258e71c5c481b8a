// Package store persists send records, the correlation between an outbound
// message instance and the feedback and engagement events that reference it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicateToken reports that a record with the same token already
// exists. The unique constraint behind it is the authoritative uniqueness
// guard for the token space.
var ErrDuplicateToken = errors.New("send record token already exists")

// BouncedRecipient is one recipient-level bounce entry carried in metadata.
type BouncedRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	DiagnosticCode string `json:"diagnosticCode,omitempty"`
}

// Metadata is the engagement document carried on a send record. Writes
// merge field-wise: a handler sets the fields it owns and leaves the rest
// alone, nothing is ever implicitly deleted. Re-applying the same update
// leaves the document unchanged, which is what makes feedback handling
// safe under at-least-once delivery.
type Metadata struct {
	Opens         int                `json:"opens"`
	Clicks        int                `json:"clicks"`
	Success       bool               `json:"success"`
	Failures      []BouncedRecipient `json:"failures,omitempty"`
	Complaint     bool               `json:"complaint,omitempty"`
	ComplaintTime int64              `json:"complaint_time,omitempty"`
	OriginalHTML  string             `json:"original_html,omitempty"`
	LastBounce    json.RawMessage    `json:"last_bounce,omitempty"`
	LastComplaint json.RawMessage    `json:"last_complaint,omitempty"`
}

// SendRecord correlates one outbound message instance with later feedback.
// Token is assigned at creation and immutable; ProviderMessageID is bound
// once the transport confirms sending and may stay empty if the transport
// never reports one.
type SendRecord struct {
	Token             string    `json:"token"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Metadata          Metadata  `json:"metadata"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewSendRecord creates a record for a freshly allocated token. Success
// starts true and stays true until a failure is recorded.
func NewSendRecord(token string) *SendRecord {
	return &SendRecord{
		Token:     token,
		Metadata:  Metadata{Success: true},
		CreatedAt: time.Now().UTC(),
	}
}

// Store is the correlation store contract. Lookups return (nil, nil) when
// no record matches; that absence is an expected condition, not an error.
type Store interface {
	FindByToken(ctx context.Context, token string) (*SendRecord, error)
	FindByProviderMessageID(ctx context.Context, id string) (*SendRecord, error)

	// Create persists a new record, returning ErrDuplicateToken when the
	// token is already bound.
	Create(ctx context.Context, rec *SendRecord) error

	// SetProviderMessageID binds the transport message id to an existing
	// record. Unknown tokens are a no-op.
	SetProviderMessageID(ctx context.Context, token, id string) error

	// UpdateMetadata applies mutate to the record's metadata in a single
	// atomic read-modify-write. Unknown tokens are a no-op.
	UpdateMetadata(ctx context.Context, token string, mutate func(*Metadata)) error

	// DeleteOlderThan purges records created before now minus age and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
