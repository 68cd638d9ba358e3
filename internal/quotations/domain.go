package quotations

import "time"

// Status enumerates quotation lifecycle states.
//
// In legacy mode CONVERTED carries two meanings: "customer approved,
// awaiting staff finalization" and "order created". The split-status
// service flag introduces CUSTOMER_APPROVED between APPROVED and
// CONVERTED for new deployments; stored data from the legacy scheme
// remains readable either way.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusApproved         Status = "APPROVED"
	StatusRejected         Status = "REJECTED"
	StatusCustomerApproved Status = "CUSTOMER_APPROVED"
	StatusConverted        Status = "CONVERTED"
	StatusExpired          Status = "EXPIRED"
)

const (
	// TaxRate applied to the subtotal of every quotation.
	TaxRate = 0.10
	// ValidityDays is the fixed validity window assigned at creation.
	ValidityDays = 30
	// MaxReasonLength bounds rejection reasons and staff notes.
	MaxReasonLength = 500
	// MaxMessageLength bounds staff reply messages.
	MaxMessageLength = 2000
)

// Item is one quoted product line. Product name, image and unit price
// are frozen at quote time; later catalog edits never alter them.
type Item struct {
	ID             int64             `json:"id"`
	QuotationID    int64             `json:"quotation_id"`
	ProductID      int64             `json:"product_id"`
	ProductName    string            `json:"product_name"`
	ProductImage   string            `json:"product_image"`
	Quantity       int               `json:"quantity"`
	UnitPrice      float64           `json:"unit_price"`
	LineTotal      float64           `json:"line_total"`
	Specifications map[string]string `json:"specifications,omitempty"`
	LineOrder      int               `json:"line_order"`
}

// StaffReply is one append-only conversation entry. Replies are never
// edited or deleted.
type StaffReply struct {
	ID          int64     `json:"id"`
	QuotationID int64     `json:"quotation_id"`
	StaffID     int64     `json:"staff_id"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// Quotation is the aggregate root of the negotiation workflow.
type Quotation struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`

	// CustomerID is nil for guest-created quotations. Contact fields
	// are captured redundantly so staff can act without resolving the
	// user record.
	CustomerID    *int64 `json:"customer_id,omitempty"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	Items []Item `json:"items"`

	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`

	Status     Status    `json:"status"`
	ValidUntil time.Time `json:"valid_until"`

	Notes               *string `json:"notes,omitempty"`
	StaffNotes          *string `json:"staff_notes,omitempty"`
	PrescriptionFileRef *string `json:"prescription_file_ref,omitempty"`

	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ApprovedBy     *int64     `json:"approved_by,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	RejectedBy     *int64     `json:"rejected_by,omitempty"`
	RejectedReason *string    `json:"rejected_reason,omitempty"`

	CustomerApprovedAt      *time.Time `json:"customer_approved_at,omitempty"`
	CustomerRejectedAt      *time.Time `json:"customer_rejected_at,omitempty"`
	CustomerRejectionReason *string    `json:"customer_rejection_reason,omitempty"`

	Replies []StaffReply `json:"replies,omitempty"`

	ConvertedAt      *time.Time `json:"converted_at,omitempty"`
	ConvertedOrderID *int64     `json:"converted_to_order,omitempty"`

	// Version backs optional optimistic locking. Ignored while the
	// legacy last-writer-wins mode is active.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnedBy reports whether userID is the requester on record.
func (q *Quotation) OwnedBy(userID int64) bool {
	return q.CustomerID != nil && *q.CustomerID == userID && userID != 0
}

// ExpiredAt reports whether the validity window has passed at the
// given instant. Status is derived at read time; nothing in the
// request path flips the stored value (the sweep job does).
func (q *Quotation) ExpiredAt(now time.Time) bool {
	return now.After(q.ValidUntil)
}
