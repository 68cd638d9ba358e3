package quotations

import "time"

type CreateQuotationRequest struct {
	CustomerID          *int64              `json:"customer_id,omitempty"`
	CustomerName        string              `json:"customer_name" validate:"required,max=200"`
	CustomerEmail       string              `json:"customer_email" validate:"required,email"`
	CustomerPhone       string              `json:"customer_phone,omitempty" validate:"omitempty,max=50"`
	Notes               *string             `json:"notes,omitempty" validate:"omitempty,max=2000"`
	PrescriptionFileRef *string             `json:"prescription_file_ref,omitempty" validate:"omitempty,max=500"`
	Items               []CreateItemRequest `json:"items" validate:"required,min=1,dive"`
}

type CreateItemRequest struct {
	ProductID      int64             `json:"product_id" validate:"required,gt=0"`
	Quantity       int               `json:"quantity" validate:"required,gte=1"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

type UpdateQuotationRequest struct {
	Items      *[]CreateItemRequest `json:"items,omitempty" validate:"omitempty,min=1,dive"`
	Notes      *string              `json:"notes,omitempty" validate:"omitempty,max=2000"`
	StaffNotes *string              `json:"staff_notes,omitempty" validate:"omitempty,max=500"`
}

type ListQuotationsRequest struct {
	CustomerID *int64     `json:"customer_id,omitempty"`
	Status     *Status    `json:"status,omitempty"`
	DateFrom   *time.Time `json:"date_from,omitempty"`
	DateTo     *time.Time `json:"date_to,omitempty"`
	Limit      int        `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int        `json:"offset" validate:"gte=0"`
}
