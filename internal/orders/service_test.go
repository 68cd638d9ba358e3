package orders

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearsight-optics/clearsight/internal/catalog"
	"github.com/clearsight-optics/clearsight/internal/quotations"
	"github.com/clearsight-optics/clearsight/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	orders     map[int64]*Order
	items      map[int64][]OrderItem
	nextID     int64
	nextItemID int64

	quotes *mockQuotations

	linkCalls  int
	createErr  error
	lastBatch  []string
	sequential [][]string
}

func newMockRepo(quotes *mockQuotations) *mockRepository {
	return &mockRepository{
		orders: make(map[int64]*Order),
		items:  make(map[int64][]OrderItem),
		nextID: 1, nextItemID: 1,
		quotes: quotes,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.lastBatch = nil
	err := fn(ctx, (*mockTx)(m))
	m.sequential = append(m.sequential, m.lastBatch)
	return err
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, shared.ErrNotFound)
	}
	out := *o
	out.Items = append([]OrderItem(nil), m.items[id]...)
	return &out, nil
}

func (m *mockRepository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	for id, o := range m.orders {
		if o.Number == number {
			return m.Get(ctx, id)
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	var out []Order
	for id, o := range m.orders {
		if req.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *req.CustomerID) {
			continue
		}
		got, _ := m.Get(ctx, id)
		out = append(out, *got)
	}
	return out, len(out), nil
}

type mockTx mockRepository

func (t *mockTx) CreateOrder(ctx context.Context, o Order) (int64, error) {
	m := (*mockRepository)(t)
	m.lastBatch = append(m.lastBatch, "create")
	if m.createErr != nil {
		return 0, m.createErr
	}
	id := m.nextID
	m.nextID++
	o.ID = id
	o.CreatedAt = time.Now().UTC()
	o.Items = nil
	m.orders[id] = &o
	return id, nil
}

func (t *mockTx) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	m := (*mockRepository)(t)
	m.lastBatch = append(m.lastBatch, "item")
	item.ID = m.nextItemID
	m.nextItemID++
	m.items[item.OrderID] = append(m.items[item.OrderID], item)
	return item.ID, nil
}

func (t *mockTx) LinkQuotation(ctx context.Context, quotationID, orderID int64, status string) error {
	m := (*mockRepository)(t)
	m.lastBatch = append(m.lastBatch, "link")
	m.linkCalls++
	q, ok := m.quotes.quotations[quotationID]
	if !ok {
		return shared.ErrNotFound
	}
	if q.ConvertedOrderID != nil {
		return fmt.Errorf("already linked: %w", shared.ErrInvalidTransition)
	}
	now := time.Now().UTC()
	q.Status = quotations.Status(status)
	q.ConvertedAt = &now
	q.ConvertedOrderID = &orderID
	q.Version++
	return nil
}

type mockQuotations struct {
	quotations map[int64]*quotations.Quotation
}

func (m *mockQuotations) Get(ctx context.Context, id int64) (*quotations.Quotation, error) {
	q, ok := m.quotations[id]
	if !ok {
		return nil, fmt.Errorf("quotation %d: %w", id, shared.ErrNotFound)
	}
	out := *q
	return &out, nil
}

type mockStock struct {
	levels   map[int64]int
	policies []catalog.StockPolicy
	err      error
}

func (m *mockStock) AdjustStock(ctx context.Context, id int64, delta int, policy catalog.StockPolicy) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.policies = append(m.policies, policy)
	next := m.levels[id] + delta
	if next < 0 && !policy.AllowNegative {
		return 0, fmt.Errorf("product %d: %w", id, shared.ErrInsufficientStock)
	}
	m.levels[id] = next
	return next, nil
}

type mockIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func (m *mockIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *mockIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	m.deleted = append(m.deleted, key)
	return nil
}

type convertEnv struct {
	svc    *Service
	repo   *mockRepository
	quotes *mockQuotations
	stock  *mockStock
	idem   *mockIdempotency
}

func newConvertEnv(cfg ServiceConfig) *convertEnv {
	quotes := &mockQuotations{quotations: map[int64]*quotations.Quotation{}}
	repo := newMockRepo(quotes)
	stock := &mockStock{levels: map[int64]int{1: 10, 2: 10}}
	idem := &mockIdempotency{keys: map[string]bool{}}
	svc := NewService(repo, quotes, stock, nil, nil, idem, nil, cfg)
	return &convertEnv{svc: svc, repo: repo, quotes: quotes, stock: stock, idem: idem}
}

var staffActor = shared.Actor{UserID: 900, Role: shared.RoleStaff}

func seedQuotation(env *convertEnv, status quotations.Status) *quotations.Quotation {
	customerID := int64(42)
	q := &quotations.Quotation{
		ID:            5,
		Number:        "QUO-20260815-4821",
		CustomerID:    &customerID,
		CustomerName:  "Jordan Reyes",
		CustomerEmail: "jordan@example.com",
		Items: []quotations.Item{
			{ProductID: 1, ProductName: "Titanium Frame", ProductImage: "/img/fr-001.jpg", Quantity: 1, UnitPrice: 100.00, LineTotal: 100.00, LineOrder: 1},
			{ProductID: 2, ProductName: "Blue Light Lens", Quantity: 3, UnitPrice: 50.00, LineTotal: 150.00, LineOrder: 2},
		},
		Subtotal:   250.00,
		Tax:        25.00,
		Discount:   10.00,
		Total:      265.00,
		Status:     status,
		ValidUntil: time.Now().UTC().AddDate(0, 0, 10),
	}
	env.quotes.quotations[q.ID] = q
	return q
}

// ============================================================================
// CONVERSION
// ============================================================================

func TestConvertFromQuotation(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)

	order, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.True(t, strings.HasPrefix(order.Number, "ORD-"), "number %s", order.Number)
	assert.Equal(t, OrderStatusConfirmed, order.Status)
	assert.Equal(t, PaymentMethodQuotation, order.PaymentMethod)
	assert.Equal(t, PaymentStatusPending, order.PaymentStatus)
	require.NotNil(t, order.QuotationID)
	assert.Equal(t, q.ID, *order.QuotationID)

	// Totals carried verbatim from the quotation
	assert.InDelta(t, 250.00, order.Subtotal, 0.001)
	assert.InDelta(t, 25.00, order.Tax, 0.001)
	assert.InDelta(t, 10.00, order.Discount, 0.001)
	assert.InDelta(t, 265.00, order.Total, 0.001)

	require.Len(t, order.Items, 2)
	assert.Equal(t, "Titanium Frame", order.Items[0].ProductName)
	assert.InDelta(t, 100.00, order.Items[0].UnitPrice, 0.001)

	// Stock decremented per line: 10-1=9 and 10-3=7
	assert.Equal(t, 9, env.stock.levels[1])
	assert.Equal(t, 7, env.stock.levels[2])

	// Quotation linked exactly once
	stored := env.quotes.quotations[q.ID]
	assert.Equal(t, quotations.StatusConverted, stored.Status)
	require.NotNil(t, stored.ConvertedOrderID)
	assert.Equal(t, order.ID, *stored.ConvertedOrderID)
	assert.NotNil(t, stored.ConvertedAt)
}

func TestConvertShippingFromName(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)
	q.CustomerName = "Jordan Alexis Reyes"

	order, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)

	assert.Equal(t, "Jordan", order.Shipping.FirstName)
	assert.Equal(t, "Alexis Reyes", order.Shipping.LastName)
	assert.Equal(t, "N/A", order.Shipping.Street)
	assert.Equal(t, "N/A", order.Shipping.Country)
}

func TestConvertSingleTokenName(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)
	q.CustomerName = "Cher"

	order, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)
	assert.Equal(t, "Cher", order.Shipping.FirstName)
	assert.Equal(t, "", order.Shipping.LastName)
}

func TestConvertRequiresStaff(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)

	customer := shared.Actor{UserID: 42, Role: shared.RoleCustomer}
	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, customer)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestConvertWrongStatusFails(t *testing.T) {
	for _, status := range []quotations.Status{
		quotations.StatusPending,
		quotations.StatusApproved,
		quotations.StatusRejected,
		quotations.StatusExpired,
	} {
		env := newConvertEnv(ServiceConfig{})
		q := seedQuotation(env, status)

		_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
		assert.ErrorIs(t, err, shared.ErrInvalidTransition, "status %s", status)
	}
}

func TestConvertAlreadyConvertedFails(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)
	orderID := int64(99)
	q.ConvertedOrderID = &orderID

	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestConvertSplitModeSource(t *testing.T) {
	env := newConvertEnv(ServiceConfig{SourceStatus: quotations.StatusCustomerApproved})
	q := seedQuotation(env, quotations.StatusCustomerApproved)

	order, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)

	// Linkage still lands the quotation on CONVERTED.
	assert.Equal(t, quotations.StatusConverted, env.quotes.quotations[q.ID].Status)
	assert.Equal(t, OrderStatusConfirmed, order.Status)
}

func TestConvertIdempotencyGuard(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)
	env.idem.keys[fmt.Sprintf("quotation:convert:%d", q.ID)] = true

	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestConvertReleasesKeyOnFailure(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)
	env.repo.createErr = fmt.Errorf("disk full")

	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.Error(t, err)
	assert.Contains(t, env.idem.deleted, fmt.Sprintf("quotation:convert:%d", q.ID))
}

func TestConvertStockMayGoNegative(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)
	// Inventory drained since the quotation was created.
	env.stock.levels[2] = 1

	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)

	// Legacy mode decrements unconditionally.
	assert.Equal(t, -2, env.stock.levels[2])
	for _, p := range env.stock.policies {
		assert.True(t, p.AllowNegative)
	}
}

func TestConvertGuardedStockFloor(t *testing.T) {
	env := newConvertEnv(ServiceConfig{GuardStockFloor: true})
	q := seedQuotation(env, quotations.StatusConverted)
	env.stock.levels[2] = 1

	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestConvertLegacySequentialSteps(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)

	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)

	// Two separate transactions: order+items, then linkage.
	require.Len(t, env.repo.sequential, 2)
	assert.Equal(t, []string{"create", "item", "item"}, env.repo.sequential[0])
	assert.Equal(t, []string{"link"}, env.repo.sequential[1])
}

func TestConvertTransactionalJoinsSteps(t *testing.T) {
	env := newConvertEnv(ServiceConfig{Transactional: true})
	q := seedQuotation(env, quotations.StatusConverted)

	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)

	require.Len(t, env.repo.sequential, 1)
	assert.Equal(t, []string{"create", "item", "item", "link"}, env.repo.sequential[0])
}

func TestConvertExhaustsNumberRetries(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)
	env.repo.createErr = fmt.Errorf("duplicate: %w", shared.ErrConflict)

	// A persistent collision exhausts the retry budget and surfaces.
	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

// ============================================================================
// READS
// ============================================================================

func TestOrderGetOwnership(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)

	order, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)

	owner := shared.Actor{UserID: 42, Role: shared.RoleCustomer}
	got, err := env.svc.Get(context.Background(), order.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	stranger := shared.Actor{UserID: 77, Role: shared.RoleCustomer}
	_, err = env.svc.Get(context.Background(), order.ID, stranger)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestOrderGetByNumber(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)

	order, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)

	got, err := env.svc.GetByNumber(context.Background(), order.Number, staffActor)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	stranger := shared.Actor{UserID: 77, Role: shared.RoleCustomer}
	_, err = env.svc.GetByNumber(context.Background(), order.Number, stranger)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestOrderListScoping(t *testing.T) {
	env := newConvertEnv(ServiceConfig{})
	q := seedQuotation(env, quotations.StatusConverted)

	_, err := env.svc.ConvertFromQuotation(context.Background(), q.ID, staffActor)
	require.NoError(t, err)

	owner := shared.Actor{UserID: 42, Role: shared.RoleCustomer}
	got, total, err := env.svc.List(context.Background(), ListOrdersRequest{}, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, got, 1)

	guest := shared.Actor{}
	_, _, err = env.svc.List(context.Background(), ListOrdersRequest{}, guest)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}
