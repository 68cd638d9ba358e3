package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/clearsight-optics/clearsight/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Create(ctx context.Context, p Product) (int64, error)
	Update(ctx context.Context, id int64, p Product) error
	AdjustStock(ctx context.Context, id int64, delta int, policy StockPolicy) (int, error)
}

// Service answers product lookups for the quotation workflow and owns
// stock mutation.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	group singleflight.Group
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Get resolves a product by id, read-through cached. Concurrent
// lookups of the same product collapse to one loader call.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("invalid product id: %w", shared.ErrValidation)
	}
	v, err, _ := s.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		return s.cache.Fetch(ctx, id, func(ctx context.Context) (Product, error) {
			return s.repo.Get(ctx, id)
		})
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

// List returns products matching filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

// Create registers a new product.
func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	if err := validateProduct(p); err != nil {
		return Product{}, err
	}
	id, err := s.repo.Create(ctx, p)
	if err != nil {
		return Product{}, err
	}
	return s.repo.Get(ctx, id)
}

// Update edits product master data. Existing quotations keep their
// snapshots; only future quotes see the change.
func (s *Service) Update(ctx context.Context, id int64, p Product) error {
	if id <= 0 {
		return fmt.Errorf("invalid product id: %w", shared.ErrValidation)
	}
	if err := validateProduct(p); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, id, p); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, id)
}

// AdjustStock applies delta under the given policy and invalidates the
// cached read model.
func (s *Service) AdjustStock(ctx context.Context, id int64, delta int, policy StockPolicy) (int, error) {
	if id <= 0 {
		return 0, fmt.Errorf("invalid product id: %w", shared.ErrValidation)
	}
	if delta == 0 {
		return 0, fmt.Errorf("stock delta must be non-zero: %w", shared.ErrValidation)
	}
	newStock, err := s.repo.AdjustStock(ctx, id, delta, policy)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		return newStock, err
	}
	return newStock, nil
}

func validateProduct(p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product name required: %w", shared.ErrValidation)
	}
	if p.Price < 0 {
		return fmt.Errorf("product price must be >= 0: %w", shared.ErrValidation)
	}
	if p.Stock < 0 {
		return fmt.Errorf("product stock must be >= 0: %w", shared.ErrValidation)
	}
	return nil
}
