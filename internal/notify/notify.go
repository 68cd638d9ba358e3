// Package notify defines the outbound notification trigger consumed by
// the quotation workflow. Delivery is fire-and-forget: callers log
// trigger failures and never let them undo or block a state transition
// that already succeeded.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Notification types emitted by the quotation workflow.
const (
	TypeQuotationApproved         = "quotation.approved"
	TypeQuotationRejected         = "quotation.rejected"
	TypeQuotationCustomerApproved = "quotation.customer_approved"
	TypeQuotationCustomerRejected = "quotation.customer_rejected"
	TypeQuotationStaffReply       = "quotation.staff_reply"
	TypeQuotationConverted        = "quotation.converted"
)

// Notification describes one customer-facing event. RecipientID is nil
// for guest quotations; Email is always set so guests still receive
// mail.
type Notification struct {
	EventID     uuid.UUID      `json:"event_id"`
	RecipientID *int64         `json:"recipient_id,omitempty"`
	Email       string         `json:"email"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// New builds a Notification with a fresh event id.
func New(recipientID *int64, email, kind string, payload map[string]any) Notification {
	return Notification{
		EventID:     uuid.New(),
		RecipientID: recipientID,
		Email:       email,
		Type:        kind,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
}
