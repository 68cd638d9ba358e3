package quotations

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
	"github.com/clearsight-optics/clearsight/internal/shared"
)

// CatalogPort resolves products for pricing and stock validation.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups workflow behavior flags. Defaults reproduce the
// legacy behavior; both flags are deliberate, documented upgrades.
type ServiceConfig struct {
	// SplitCustomerApproved inserts CUSTOMER_APPROVED between APPROVED
	// and CONVERTED instead of reusing CONVERTED for both meanings.
	SplitCustomerApproved bool
	// OptimisticLocking adds compare-and-swap on status transitions.
	// Off, concurrent transitions race and the last writer wins.
	OptimisticLocking bool
}

// Service is the quotation workflow engine: creation with inventory
// and price validation, staff decision, customer decision, messaging,
// expiry and deletion. Conversion to an order lives in the orders
// package.
type Service struct {
	repo     Repository
	catalog  CatalogPort
	notifier notify.Trigger
	audit    AuditPort
	logger   *slog.Logger
	cfg      ServiceConfig
	numbers  shared.NumberSource
}

// NewService builds Service. notifier, audit and numbers may be nil.
func NewService(repo Repository, cat CatalogPort, notifier notify.Trigger, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		catalog:  cat,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// customerApprovedStatus is the status a customer approval lands on.
func (s *Service) customerApprovedStatus() Status {
	if s.cfg.SplitCustomerApproved {
		return StatusCustomerApproved
	}
	return StatusConverted
}

// ConvertibleStatus is the status required before an order may be
// materialized from the quotation.
func (s *Service) ConvertibleStatus() Status {
	return s.customerApprovedStatus()
}

func (s *Service) expectedVersion(q *Quotation) *int64 {
	if !s.cfg.OptimisticLocking {
		return nil
	}
	v := q.Version
	return &v
}

// Create prices and persists a new quotation. Each item is resolved
// against the catalog: the unit price is frozen at this instant and
// the requested quantity is checked against current stock. The stock
// check is point-in-time only, not a reservation.
func (s *Service) Create(ctx context.Context, req CreateQuotationRequest) (*Quotation, error) {
	if strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.CustomerEmail) == "" {
		return nil, fmt.Errorf("customer name and email required: %w", shared.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("at least one item required: %w", shared.ErrValidation)
	}

	items, subtotal, err := s.buildItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	tax := subtotal * TaxRate
	discount := 0.0

	now := time.Now().UTC()
	quotation := Quotation{
		Number:              shared.DocNumber(shared.DocPrefixQuotation, now, s.numbers),
		CustomerID:          req.CustomerID,
		CustomerName:        req.CustomerName,
		CustomerEmail:       req.CustomerEmail,
		CustomerPhone:       req.CustomerPhone,
		Subtotal:            subtotal,
		Tax:                 tax,
		Discount:            discount,
		Total:               subtotal + tax - discount,
		Status:              StatusPending,
		ValidUntil:          now.AddDate(0, 0, ValidityDays),
		Notes:               req.Notes,
		PrescriptionFileRef: req.PrescriptionFileRef,
	}

	var quotationID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		for attempt := 0; ; attempt++ {
			id, err := repo.Create(ctx, quotation)
			if err == nil {
				quotationID = id
				break
			}
			if errors.Is(err, shared.ErrConflict) && attempt < 3 {
				quotation.Number = shared.DocNumber(shared.DocPrefixQuotation, now, s.numbers)
				continue
			}
			return fmt.Errorf("create quotation: %w", err)
		}
		for i := range items {
			items[i].QuotationID = quotationID
			if _, err := repo.InsertItem(ctx, items[i]); err != nil {
				return fmt.Errorf("insert quotation item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Staff discover pending quotations via listing; no push on creation.
	return s.repo.Get(ctx, quotationID)
}

// buildItems resolves and snapshots line items, returning the subtotal.
func (s *Service) buildItems(ctx context.Context, reqs []CreateItemRequest) ([]Item, float64, error) {
	var items []Item
	var subtotal float64
	for i, itemReq := range reqs {
		if itemReq.Quantity < 1 {
			return nil, 0, fmt.Errorf("item %d: quantity must be >= 1: %w", i+1, shared.ErrValidation)
		}
		product, err := s.catalog.Get(ctx, itemReq.ProductID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, 0, fmt.Errorf("product %d: %w", itemReq.ProductID, shared.ErrNotFound)
			}
			return nil, 0, fmt.Errorf("resolve product %d: %w", itemReq.ProductID, err)
		}
		if itemReq.Quantity > product.Stock {
			return nil, 0, fmt.Errorf("product %s: requested %d, available %d: %w",
				product.Name, itemReq.Quantity, product.Stock, shared.ErrInsufficientStock)
		}
		lineTotal := product.Price * float64(itemReq.Quantity)
		items = append(items, Item{
			ProductID:      product.ID,
			ProductName:    product.Name,
			ProductImage:   product.ImageURL,
			Quantity:       itemReq.Quantity,
			UnitPrice:      product.Price,
			LineTotal:      lineTotal,
			Specifications: itemReq.Specifications,
			LineOrder:      i + 1,
		})
		subtotal += lineTotal
	}
	return items, subtotal, nil
}

// Approve records a staff approval on a pending quotation.
func (s *Service) Approve(ctx context.Context, id int64, actor shared.Actor, staffNotes *string) (*Quotation, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("approve requires staff role: %w", shared.ErrForbidden)
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusPending {
		return nil, fmt.Errorf("cannot approve %s quotation: %w", existing.Status, shared.ErrInvalidTransition)
	}
	err = s.repo.UpdateStatus(ctx, id, StatusUpdate{
		Status:          StatusApproved,
		ActorID:         actor.UserID,
		StaffNotes:      staffNotes,
		ExpectedVersion: s.expectedVersion(existing),
	})
	if err != nil {
		return nil, fmt.Errorf("approve quotation: %w", err)
	}
	s.recordAudit(ctx, actor, "quotation:approve", existing)
	s.notifyCustomer(ctx, existing, notify.TypeQuotationApproved, nil)
	return s.repo.Get(ctx, id)
}

// Reject records a staff rejection. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, id int64, actor shared.Actor, reason string, staffNotes *string) (*Quotation, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("reject requires staff role: %w", shared.ErrForbidden)
	}
	if err := validateReason(reason); err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusPending {
		return nil, fmt.Errorf("cannot reject %s quotation: %w", existing.Status, shared.ErrInvalidTransition)
	}
	err = s.repo.UpdateStatus(ctx, id, StatusUpdate{
		Status:          StatusRejected,
		ActorID:         actor.UserID,
		Reason:          &reason,
		StaffNotes:      staffNotes,
		ExpectedVersion: s.expectedVersion(existing),
	})
	if err != nil {
		return nil, fmt.Errorf("reject quotation: %w", err)
	}
	s.recordAudit(ctx, actor, "quotation:reject", existing)
	s.notifyCustomer(ctx, existing, notify.TypeQuotationRejected, map[string]any{"reason": reason})
	return s.repo.Get(ctx, id)
}

// Update edits a pending quotation's content without changing status.
// When items are supplied the line list is fully replaced, each product
// re-resolved and the totals recomputed; the discount is preserved.
func (s *Service) Update(ctx context.Context, id int64, actor shared.Actor, req UpdateQuotationRequest) (*Quotation, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("update requires staff role: %w", shared.ErrForbidden)
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusPending {
		// Terms must not change silently after a decision has been acted on.
		return nil, fmt.Errorf("cannot edit %s quotation: %w", existing.Status, shared.ErrInvalidTransition)
	}

	updates := make(map[string]any)
	var newItems []Item
	if req.Items != nil {
		if len(*req.Items) == 0 {
			return nil, fmt.Errorf("item list cannot be emptied: %w", shared.ErrValidation)
		}
		items, subtotal, err := s.buildItems(ctx, *req.Items)
		if err != nil {
			return nil, err
		}
		newItems = items
		tax := subtotal * TaxRate
		updates["subtotal"] = subtotal
		updates["tax"] = tax
		updates["total"] = subtotal + tax - existing.Discount
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.StaffNotes != nil {
		updates["staff_notes"] = *req.StaffNotes
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if len(updates) > 0 {
			if err := repo.UpdateContent(ctx, id, updates); err != nil {
				return err
			}
		}
		if newItems != nil {
			if err := repo.DeleteItems(ctx, id); err != nil {
				return err
			}
			for i := range newItems {
				newItems[i].QuotationID = id
				if _, err := repo.InsertItem(ctx, newItems[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update quotation: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// CustomerApprove records the customer's acceptance of an approved
// quotation. The status moves to CONVERTED, meaning "ready for staff
// to finalize into an order". The order itself is materialized later
// by the conversion step, gated on this same status.
func (s *Service) CustomerApprove(ctx context.Context, id int64, actor shared.Actor) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.OwnedBy(actor.UserID) {
		return nil, fmt.Errorf("quotation belongs to another customer: %w", shared.ErrForbidden)
	}
	if existing.Status != StatusApproved {
		return nil, fmt.Errorf("cannot accept %s quotation: %w", existing.Status, shared.ErrInvalidTransition)
	}
	if existing.ExpiredAt(time.Now().UTC()) {
		// The stored status stays APPROVED; only the sweep job flips it.
		return nil, fmt.Errorf("quotation valid until %s: %w", existing.ValidUntil.Format(time.RFC3339), shared.ErrExpired)
	}
	err = s.repo.UpdateStatus(ctx, id, StatusUpdate{
		Status:          s.customerApprovedStatus(),
		ActorID:         actor.UserID,
		Customer:        true,
		ExpectedVersion: s.expectedVersion(existing),
	})
	if err != nil {
		return nil, fmt.Errorf("customer approve quotation: %w", err)
	}
	s.notifyCustomer(ctx, existing, notify.TypeQuotationCustomerApproved, nil)
	return s.repo.Get(ctx, id)
}

// CustomerReject records the customer's refusal of an approved
// quotation. A reason is mandatory.
func (s *Service) CustomerReject(ctx context.Context, id int64, actor shared.Actor, reason string) (*Quotation, error) {
	if err := validateReason(reason); err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.OwnedBy(actor.UserID) {
		return nil, fmt.Errorf("quotation belongs to another customer: %w", shared.ErrForbidden)
	}
	if existing.Status != StatusApproved {
		return nil, fmt.Errorf("cannot decline %s quotation: %w", existing.Status, shared.ErrInvalidTransition)
	}
	err = s.repo.UpdateStatus(ctx, id, StatusUpdate{
		Status:          StatusRejected,
		ActorID:         actor.UserID,
		Customer:        true,
		Reason:          &reason,
		ExpectedVersion: s.expectedVersion(existing),
	})
	if err != nil {
		return nil, fmt.Errorf("customer reject quotation: %w", err)
	}
	s.notifyCustomer(ctx, existing, notify.TypeQuotationCustomerRejected, map[string]any{"reason": reason})
	return s.repo.Get(ctx, id)
}

// AddStaffReply appends a conversation entry. Permitted in any status:
// staff may keep the conversation going on rejected or converted
// quotations for customer service.
func (s *Service) AddStaffReply(ctx context.Context, id int64, actor shared.Actor, message string) (*Quotation, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("reply requires staff role: %w", shared.ErrForbidden)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("reply message required: %w", shared.ErrValidation)
	}
	if len(message) > MaxMessageLength {
		return nil, fmt.Errorf("reply message exceeds %d characters: %w", MaxMessageLength, shared.ErrValidation)
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.AppendReply(ctx, StaffReply{
		QuotationID: id,
		StaffID:     actor.UserID,
		Message:     message,
	}); err != nil {
		return nil, fmt.Errorf("append staff reply: %w", err)
	}
	s.notifyCustomer(ctx, existing, notify.TypeQuotationStaffReply, map[string]any{"message": message})
	return s.repo.Get(ctx, id)
}

// Delete removes a pending quotation. Once any decision has been
// recorded the record is retained for audit and cannot be deleted.
func (s *Service) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsStaff() && !existing.OwnedBy(actor.UserID) {
		return fmt.Errorf("quotation belongs to another customer: %w", shared.ErrForbidden)
	}
	if existing.Status != StatusPending {
		return fmt.Errorf("cannot delete %s quotation: %w", existing.Status, shared.ErrInvalidTransition)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete quotation: %w", err)
	}
	s.recordAudit(ctx, actor, "quotation:delete", existing)
	return nil
}

// Get returns the quotation. Customers may only read their own.
func (s *Service) Get(ctx context.Context, id int64, actor shared.Actor) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && !q.OwnedBy(actor.UserID) {
		return nil, fmt.Errorf("quotation belongs to another customer: %w", shared.ErrForbidden)
	}
	return q, nil
}

// GetByNumber resolves a quotation by its reference number. The same
// ownership rule as Get applies.
func (s *Service) GetByNumber(ctx context.Context, number string, actor shared.Actor) (*Quotation, error) {
	q, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && !q.OwnedBy(actor.UserID) {
		return nil, fmt.Errorf("quotation belongs to another customer: %w", shared.ErrForbidden)
	}
	return q, nil
}

// List returns quotations matching the filters. Non-staff actors are
// constrained to their own quotations.
func (s *Service) List(ctx context.Context, req ListQuotationsRequest, actor shared.Actor) ([]Quotation, int, error) {
	if !actor.IsStaff() {
		if actor.UserID == 0 {
			return nil, 0, fmt.Errorf("listing requires an account: %w", shared.ErrForbidden)
		}
		req.CustomerID = &actor.UserID
	}
	return s.repo.List(ctx, req)
}

// ExpireDue flips quotations whose validity window has passed to
// EXPIRED. Called by the scheduled sweep; nothing in the request path
// assigns the stored EXPIRED value.
func (s *Service) ExpireDue(ctx context.Context, asOf time.Time, limit int) (int64, error) {
	due, err := s.repo.FindExpired(ctx, asOf, limit)
	if err != nil {
		return 0, fmt.Errorf("find expired quotations: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(due))
	for _, q := range due {
		ids = append(ids, q.ID)
	}
	n, err := s.repo.MarkExpired(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("mark expired quotations: %w", err)
	}
	return n, nil
}

func (s *Service) notifyCustomer(ctx context.Context, q *Quotation, kind string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["quotation_id"] = q.ID
	payload["quotation_number"] = q.Number
	n := notify.New(q.CustomerID, q.CustomerEmail, kind, payload)
	if err := s.notifier.Notify(ctx, n); err != nil {
		// Best effort only: the state transition already committed.
		s.logger.Warn("notification trigger failed",
			slog.String("type", kind),
			slog.Int64("quotation_id", q.ID),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, q *Quotation) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "quotation",
		EntityID: strconv.FormatInt(q.ID, 10),
		Meta: map[string]any{
			"number": q.Number,
			"status": string(q.Status),
			"total":  q.Total,
		},
	})
}

func validateReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("reason required: %w", shared.ErrValidation)
	}
	if len(reason) > MaxReasonLength {
		return fmt.Errorf("reason exceeds %d characters: %w", MaxReasonLength, shared.ErrValidation)
	}
	return nil
}
