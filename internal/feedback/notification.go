// Package feedback interprets asynchronous delivery-feedback notifications
// (bounces, spam complaints), merges them into send records, and emits
// typed domain events per affected recipient.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedNotification reports a structurally invalid feedback payload:
// required fields such as the provider message id or the recipient list are
// missing. The error surfaces to the queue so its retry policy applies; no
// partial merge happens.
var ErrMalformedNotification = errors.New("malformed delivery notification")

// Notification is the provider feedback payload. Exactly one of Bounce or
// Complaint is expected to be present.
type Notification struct {
	NotificationType string     `json:"notificationType"`
	Mail             Mail       `json:"mail"`
	Bounce           *Bounce    `json:"bounce,omitempty"`
	Complaint        *Complaint `json:"complaint,omitempty"`
}

// Mail identifies the original send the notification refers to.
type Mail struct {
	MessageID   string   `json:"messageId"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Source      string   `json:"source,omitempty"`
	Destination []string `json:"destination,omitempty"`
}

// Bounce carries a transport-reported delivery failure for one or more
// recipients.
type Bounce struct {
	BounceType        string             `json:"bounceType"`
	BounceSubType     string             `json:"bounceSubType,omitempty"`
	BouncedRecipients []BouncedRecipient `json:"bouncedRecipients"`
	Timestamp         string             `json:"timestamp,omitempty"`
	FeedbackID        string             `json:"feedbackId,omitempty"`
}

// BouncedRecipient is one failed recipient; the diagnostic code is present
// only when the remote MTA supplied one.
type BouncedRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	DiagnosticCode string `json:"diagnosticCode,omitempty"`
}

// Complaint carries recipient-reported spam signals.
type Complaint struct {
	ComplainedRecipients []ComplainedRecipient `json:"complainedRecipients"`
	Timestamp            int64                 `json:"timestamp"`
	FeedbackID           string                `json:"feedbackId,omitempty"`
}

// ComplainedRecipient is one complaining recipient.
type ComplainedRecipient struct {
	EmailAddress string `json:"emailAddress"`
}

// snsEnvelope is the wrapper the queue delivers when notifications arrive
// through an SNS topic; Message holds the notification JSON as a string.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseNotification decodes a queue message body into a Notification,
// unwrapping the SNS envelope when present.
func ParseNotification(body []byte) (*Notification, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		body = []byte(env.Message)
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return &n, nil
}
