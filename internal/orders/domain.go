package orders

import "time"

type OrderStatus string

const (
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// PaymentMethodQuotation is the sentinel marking orders that originate
// from a converted quotation rather than checkout.
const PaymentMethodQuotation = "QUOTATION"

// ShippingAddress is populated best-effort at conversion: the customer
// name is split on its first token and the remaining fields get
// placeholder values, since the quotation never collects an address.
type ShippingAddress struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// OrderItem mirrors the quotation item shape; another frozen copy is
// taken at conversion so the order stays immutable.
type OrderItem struct {
	ID             int64             `json:"id"`
	OrderID        int64             `json:"order_id"`
	ProductID      int64             `json:"product_id"`
	ProductName    string            `json:"product_name"`
	ProductImage   string            `json:"product_image"`
	Quantity       int               `json:"quantity"`
	UnitPrice      float64           `json:"unit_price"`
	LineTotal      float64           `json:"line_total"`
	Specifications map[string]string `json:"specifications,omitempty"`
	LineOrder      int               `json:"line_order"`
}

// Order is an immutable-after-creation snapshot. Post-creation
// mutations belong to order management, not this workflow.
type Order struct {
	ID          int64  `json:"id"`
	Number      string `json:"number"`
	CustomerID  *int64 `json:"customer_id,omitempty"`
	QuotationID *int64 `json:"quotation_id,omitempty"`

	Items []OrderItem `json:"items"`

	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`

	Status        OrderStatus     `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Shipping      ShippingAddress `json:"shipping_address"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListOrdersRequest narrows order listings.
type ListOrdersRequest struct {
	CustomerID *int64       `json:"customer_id,omitempty"`
	Status     *OrderStatus `json:"status,omitempty"`
	Limit      int          `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int          `json:"offset" validate:"gte=0"`
}
