package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearsight-optics/clearsight/internal/shared"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, sku, name, image_url, price, stock, is_active, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM products WHERE id=$1`, productColumns), id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.ImageURL, &p.Price, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}

func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where := "WHERE 1=1"
	var args []any
	argPos := 1

	if filters.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR sku ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+filters.Search+"%")
		argPos++
	}
	if filters.IsActive != nil {
		where += fmt.Sprintf(" AND is_active = $%d", argPos)
		args = append(args, *filters.IsActive)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM products %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d`,
		productColumns, where, argPos, argPos+1)
	args = append(args, limit, filters.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.ImageURL, &p.Price, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *Repository) Create(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, name, image_url, price, stock, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`,
		p.SKU, p.Name, p.ImageURL, p.Price, p.Stock, p.IsActive).Scan(&id)
	return id, err
}

func (r *Repository) Update(ctx context.Context, id int64, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET sku=$2, name=$3, image_url=$4, price=$5, is_active=$6, updated_at=NOW() WHERE id=$1`,
		id, p.SKU, p.Name, p.ImageURL, p.Price, p.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// AdjustStock applies delta to the product's stock count. With the
// floor guard enabled, a delta that would drive stock negative returns
// ErrInsufficientStock and leaves the row unchanged.
func (r *Repository) AdjustStock(ctx context.Context, id int64, delta int, policy StockPolicy) (int, error) {
	query := `UPDATE products SET stock = stock + $2, updated_at=NOW() WHERE id=$1 RETURNING stock`
	if !policy.AllowNegative {
		query = `UPDATE products SET stock = stock + $2, updated_at=NOW() WHERE id=$1 AND stock + $2 >= 0 RETURNING stock`
	}
	var newStock int
	err := r.pool.QueryRow(ctx, query, id, delta).Scan(&newStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the product is missing or the guard blocked the update.
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return 0, getErr
			}
			return 0, fmt.Errorf("product %d: %w", id, shared.ErrInsufficientStock)
		}
		return 0, err
	}
	return newStock, nil
}
