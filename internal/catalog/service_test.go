package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearsight-optics/clearsight/internal/shared"
)

type mockRepo struct {
	products map[int64]Product
	nextID   int64
	getCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		products: map[int64]Product{
			1: {ID: 1, SKU: "FR-001", Name: "Titanium Frame", Price: 100.00, Stock: 10, IsActive: true},
		},
		nextID: 2,
	}
}

func (m *mockRepo) Get(ctx context.Context, id int64) (Product, error) {
	m.getCalls++
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (m *mockRepo) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	var out []Product
	for _, p := range m.products {
		if filters.IsActive != nil && p.IsActive != *filters.IsActive {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockRepo) Create(ctx context.Context, p Product) (int64, error) {
	id := m.nextID
	m.nextID++
	p.ID = id
	m.products[id] = p
	return id, nil
}

func (m *mockRepo) Update(ctx context.Context, id int64, p Product) error {
	if _, ok := m.products[id]; !ok {
		return shared.ErrNotFound
	}
	p.ID = id
	m.products[id] = p
	return nil
}

func (m *mockRepo) AdjustStock(ctx context.Context, id int64, delta int, policy StockPolicy) (int, error) {
	p, ok := m.products[id]
	if !ok {
		return 0, shared.ErrNotFound
	}
	next := p.Stock + delta
	if next < 0 && !policy.AllowNegative {
		return 0, fmt.Errorf("product %d: %w", id, shared.ErrInsufficientStock)
	}
	p.Stock = next
	m.products[id] = p
	return next, nil
}

func newTestService(t *testing.T) (*Service, *mockRepo) {
	t.Helper()
	repo := newMockRepo()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, NewCache(client, time.Minute)), repo
}

func TestGetCachesProduct(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	p, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Titanium Frame", p.Name)
	assert.Equal(t, 1, repo.getCalls)

	// Second read is served from cache.
	_, err = svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.getCalls)
}

func TestGetUnknownProduct(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), 404)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetInvalidID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), 0)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateProduct(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), Product{SKU: "LN-002", Name: "Blue Light Lens", Price: 50.00, Stock: 4, IsActive: true})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Blue Light Lens", created.Name)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Product{Name: "  ", Price: 1})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, Product{Name: "Frame", Price: -1})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, 1)
	require.NoError(t, err)

	p := repo.products[1]
	p.Price = 120.00
	require.NoError(t, svc.Update(ctx, 1, p))

	got, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 120.00, got.Price, 0.001)
}

func TestAdjustStockGuarded(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	stock, err := svc.AdjustStock(ctx, 1, -4, StockPolicy{})
	require.NoError(t, err)
	assert.Equal(t, 6, stock)

	_, err = svc.AdjustStock(ctx, 1, -7, StockPolicy{})
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestAdjustStockUnconditional(t *testing.T) {
	svc, _ := newTestService(t)

	stock, err := svc.AdjustStock(context.Background(), 1, -15, StockPolicy{AllowNegative: true})
	require.NoError(t, err)
	assert.Equal(t, -5, stock)
}

func TestAdjustStockValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AdjustStock(context.Background(), 1, 0, StockPolicy{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustStockInvalidatesCache(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, 1)
	require.NoError(t, err)

	_, err = svc.AdjustStock(ctx, 1, -1, StockPolicy{})
	require.NoError(t, err)

	got, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Stock)
	assert.Equal(t, 2, repo.getCalls)
}
