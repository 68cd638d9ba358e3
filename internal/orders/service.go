package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/clearsight-optics/clearsight/internal/catalog"
	"github.com/clearsight-optics/clearsight/internal/notify"
	"github.com/clearsight-optics/clearsight/internal/quotations"
	"github.com/clearsight-optics/clearsight/internal/shared"
)

// QuotationPort reads the source quotation.
type QuotationPort interface {
	Get(ctx context.Context, id int64) (*quotations.Quotation, error)
}

// StockPort mutates catalog stock.
type StockPort interface {
	AdjustStock(ctx context.Context, id int64, delta int, policy catalog.StockPolicy) (int, error)
}

// IdempotencyPort guards conversion against double application.
// *shared.IdempotencyStore satisfies it.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig selects the conversion consistency mode. Zero value
// reproduces the legacy behavior.
type ServiceConfig struct {
	// Transactional joins order creation and quotation linkage in one
	// database transaction. Off, they are independent sequential writes
	// and a crash between them leaves the quotation unlinked while the
	// order exists. Stock decrements are per-item in either mode.
	Transactional bool
	// GuardStockFloor re-checks the zero floor on each decrement. Off,
	// conversion decrements unconditionally: the only inventory check
	// happened at quotation creation, so concurrent conversions or
	// intervening sales can drive stock negative.
	GuardStockFloor bool
	// SourceStatus is the quotation status conversion requires.
	// Defaults to CONVERTED; set to CUSTOMER_APPROVED when the
	// quotation engine runs in split-status mode.
	SourceStatus quotations.Status
}

// Service materializes orders from customer-approved quotations.
type Service struct {
	repo        RepositoryPort
	quotes      QuotationPort
	stock       StockPort
	notifier    notify.Trigger
	audit       AuditPort
	idempotency IdempotencyPort
	logger      *slog.Logger
	cfg         ServiceConfig
	numbers     shared.NumberSource
}

// NewService builds Service. notifier, audit and idempotency may be nil.
func NewService(repo RepositoryPort, quotes QuotationPort, stock StockPort, notifier notify.Trigger, audit AuditPort, idem IdempotencyPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SourceStatus == "" {
		cfg.SourceStatus = quotations.StatusConverted
	}
	return &Service{
		repo:        repo,
		quotes:      quotes,
		stock:       stock,
		notifier:    notifier,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		cfg:         cfg,
	}
}

// ConvertFromQuotation is the final workflow step: staff turn a
// customer-approved quotation into a firm order and consume inventory.
//
// The writes are an ordered sequence over three independent entities
// (order, quotation, N products). Outside transactional mode there is
// no compensating rollback: a crash mid-sequence leaves earlier steps
// applied. The idempotency key and the linkage guard keep the sequence
// from being applied twice, not from being applied partially.
func (s *Service) ConvertFromQuotation(ctx context.Context, quotationID int64, actor shared.Actor) (*Order, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("conversion requires staff role: %w", shared.ErrForbidden)
	}

	q, err := s.quotes.Get(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if q.Status != s.cfg.SourceStatus {
		return nil, fmt.Errorf("cannot convert %s quotation, customer approval required: %w", q.Status, shared.ErrInvalidTransition)
	}
	if q.ConvertedOrderID != nil {
		return nil, fmt.Errorf("quotation %d already converted to order %d: %w", q.ID, *q.ConvertedOrderID, shared.ErrInvalidTransition)
	}

	idemKey := fmt.Sprintf("quotation:convert:%d", q.ID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "orders"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, fmt.Errorf("conversion of quotation %d already in progress: %w", q.ID, shared.ErrConflict)
			}
			return nil, err
		}
		insertedKey = true
	}

	order := buildOrder(q, shared.DocNumber(shared.DocPrefixOrder, time.Now().UTC(), s.numbers))

	var orderID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for attempt := 0; ; attempt++ {
			id, err := tx.CreateOrder(ctx, order)
			if err == nil {
				orderID = id
				break
			}
			if errors.Is(err, shared.ErrConflict) && attempt < 3 {
				order.Number = shared.DocNumber(shared.DocPrefixOrder, time.Now().UTC(), s.numbers)
				continue
			}
			return fmt.Errorf("create order: %w", err)
		}
		for i := range order.Items {
			order.Items[i].OrderID = orderID
			if _, err := tx.InsertItem(ctx, order.Items[i]); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		if s.cfg.Transactional {
			return tx.LinkQuotation(ctx, q.ID, orderID, string(quotations.StatusConverted))
		}
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, insertedKey, idemKey)
		return nil, err
	}

	if !s.cfg.Transactional {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.LinkQuotation(ctx, q.ID, orderID, string(quotations.StatusConverted))
		})
		if err != nil {
			// The order row already exists; there is no rollback here.
			s.releaseKey(ctx, insertedKey, idemKey)
			return nil, fmt.Errorf("link quotation to order: %w", err)
		}
	}

	// Per-item decrements, no stock re-check in legacy mode. Each is an
	// independent write; a failure leaves earlier decrements applied.
	policy := catalog.StockPolicy{AllowNegative: !s.cfg.GuardStockFloor}
	for _, item := range order.Items {
		if _, err := s.stock.AdjustStock(ctx, item.ProductID, -item.Quantity, policy); err != nil {
			s.logger.Error("stock decrement failed mid-conversion",
				slog.Int64("order_id", orderID),
				slog.Int64("product_id", item.ProductID),
				slog.Int("quantity", item.Quantity),
				slog.Any("error", err))
			return nil, fmt.Errorf("decrement stock for product %d: %w", item.ProductID, err)
		}
	}

	s.recordAudit(ctx, actor, q, orderID, order.Number)
	s.notifyConverted(ctx, q, order.Number)

	return s.repo.Get(ctx, orderID)
}

// Get returns the order. Customers may only read their own.
func (s *Service) Get(ctx context.Context, id int64, actor shared.Actor) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && (o.CustomerID == nil || *o.CustomerID != actor.UserID) {
		return nil, fmt.Errorf("order belongs to another customer: %w", shared.ErrForbidden)
	}
	return o, nil
}

// GetByNumber resolves an order by its reference number. The same
// ownership rule as Get applies.
func (s *Service) GetByNumber(ctx context.Context, number string, actor shared.Actor) (*Order, error) {
	o, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && (o.CustomerID == nil || *o.CustomerID != actor.UserID) {
		return nil, fmt.Errorf("order belongs to another customer: %w", shared.ErrForbidden)
	}
	return o, nil
}

// List returns orders matching the filters. Non-staff actors are
// constrained to their own orders.
func (s *Service) List(ctx context.Context, req ListOrdersRequest, actor shared.Actor) ([]Order, int, error) {
	if !actor.IsStaff() {
		if actor.UserID == 0 {
			return nil, 0, fmt.Errorf("listing requires an account: %w", shared.ErrForbidden)
		}
		req.CustomerID = &actor.UserID
	}
	return s.repo.List(ctx, req)
}

// buildOrder takes the frozen copy: items and totals come from the
// quotation as of this moment, never re-derived from the catalog.
func buildOrder(q *quotations.Quotation, number string) Order {
	qid := q.ID
	order := Order{
		Number:        number,
		CustomerID:    q.CustomerID,
		QuotationID:   &qid,
		Subtotal:      q.Subtotal,
		Tax:           q.Tax,
		Discount:      q.Discount,
		Total:         q.Total,
		Status:        OrderStatusConfirmed,
		PaymentMethod: PaymentMethodQuotation,
		PaymentStatus: PaymentStatusPending,
		Shipping:      shippingFromName(q.CustomerName),
	}
	for _, item := range q.Items {
		order.Items = append(order.Items, OrderItem{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			ProductImage:   item.ProductImage,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			LineTotal:      item.LineTotal,
			Specifications: item.Specifications,
			LineOrder:      item.LineOrder,
		})
	}
	return order
}

// shippingFromName splits the customer name on its first token. The
// quotation never collects an address, so the remaining fields carry
// placeholders until order management corrects them.
func shippingFromName(name string) ShippingAddress {
	first := strings.TrimSpace(name)
	last := ""
	if idx := strings.IndexByte(first, ' '); idx >= 0 {
		last = strings.TrimSpace(first[idx+1:])
		first = first[:idx]
	}
	return ShippingAddress{
		FirstName:  first,
		LastName:   last,
		Street:     "N/A",
		City:       "N/A",
		State:      "N/A",
		PostalCode: "N/A",
		Country:    "N/A",
	}
}

func (s *Service) releaseKey(ctx context.Context, inserted bool, key string) {
	if !inserted || s.idempotency == nil {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, q *quotations.Quotation, orderID int64, orderNumber string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "order:convert",
		Entity:   "order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta: map[string]any{
			"order_number":     orderNumber,
			"quotation_id":     q.ID,
			"quotation_number": q.Number,
			"total":            q.Total,
		},
	})
}

func (s *Service) notifyConverted(ctx context.Context, q *quotations.Quotation, orderNumber string) {
	if s.notifier == nil {
		return
	}
	n := notify.New(q.CustomerID, q.CustomerEmail, notify.TypeQuotationConverted, map[string]any{
		"quotation_id":     q.ID,
		"quotation_number": q.Number,
		"order_number":     orderNumber,
	})
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification trigger failed",
			slog.String("type", notify.TypeQuotationConverted),
			slog.Int64("quotation_id", q.ID),
			slog.Any("error", err))
	}
}
