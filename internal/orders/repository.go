package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearsight-optics/clearsight/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error)
}

// TxRepository exposes the conversion write steps. Each WithTx call is
// one step boundary: the legacy conversion runs the steps in separate
// transactions, the upgraded mode joins order creation and quotation
// linkage in one.
type TxRepository interface {
	CreateOrder(ctx context.Context, o Order) (int64, error)
	InsertItem(ctx context.Context, item OrderItem) (int64, error)
	LinkQuotation(ctx context.Context, quotationID, orderID int64, status string) error
}

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const orderColumns = `id, number, customer_id, quotation_id, subtotal, tax, discount, total,
status, payment_method, payment_status,
ship_first_name, ship_last_name, ship_street, ship_city, ship_state, ship_postal_code, ship_country,
created_at, updated_at`

func (r *Repository) Get(ctx context.Context, id int64) (*Order, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM orders WHERE id=$1`, orderColumns), id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, shared.ErrNotFound)
		}
		return nil, err
	}
	items, err := r.getItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *Repository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM orders WHERE number=$1`, orderColumns), number)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", number, shared.ErrNotFound)
		}
		return nil, err
	}
	items, err := r.getItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *Repository) List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	where := "WHERE 1=1"
	var args []any
	argPos := 1

	if req.CustomerID != nil {
		where += fmt.Sprintf(" AND customer_id = $%d", argPos)
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(*req.Status))
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM orders %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

func (r *Repository) getItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, product_name, product_image, quantity, unit_price, line_total, specifications, line_order
FROM order_items WHERE order_id=$1 ORDER BY line_order ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		var specs []byte
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductImage,
			&item.Quantity, &item.UnitPrice, &item.LineTotal, &specs, &item.LineOrder); err != nil {
			return nil, err
		}
		if len(specs) > 0 {
			if err := json.Unmarshal(specs, &item.Specifications); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) CreateOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO orders
(number, customer_id, quotation_id, subtotal, tax, discount, total,
 status, payment_method, payment_status,
 ship_first_name, ship_last_name, ship_street, ship_city, ship_state, ship_postal_code, ship_country,
 created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
RETURNING id`,
		o.Number, o.CustomerID, o.QuotationID, o.Subtotal, o.Tax, o.Discount, o.Total,
		string(o.Status), o.PaymentMethod, string(o.PaymentStatus),
		o.Shipping.FirstName, o.Shipping.LastName, o.Shipping.Street, o.Shipping.City,
		o.Shipping.State, o.Shipping.PostalCode, o.Shipping.Country).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("order number %s taken: %w", o.Number, shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	specs, err := json.Marshal(item.Specifications)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO order_items
(order_id, product_id, product_name, product_image, quantity, unit_price, line_total, specifications, line_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		item.OrderID, item.ProductID, item.ProductName, item.ProductImage,
		item.Quantity, item.UnitPrice, item.LineTotal, specs, item.LineOrder).Scan(&id)
	return id, err
}

// LinkQuotation records the conversion linkage on the quotation exactly
// once. A second conversion attempt finds converted_order_id already
// set and fails.
func (r *txRepository) LinkQuotation(ctx context.Context, quotationID, orderID int64, status string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quotations
SET status=$3, converted_at=NOW(), converted_order_id=$2, version=version+1, updated_at=NOW()
WHERE id=$1 AND converted_order_id IS NULL`, quotationID, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quotation %d already linked to an order: %w", quotationID, shared.ErrInvalidTransition)
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.QuotationID,
		&o.Subtotal, &o.Tax, &o.Discount, &o.Total,
		&o.Status, &o.PaymentMethod, &o.PaymentStatus,
		&o.Shipping.FirstName, &o.Shipping.LastName, &o.Shipping.Street, &o.Shipping.City,
		&o.Shipping.State, &o.Shipping.PostalCode, &o.Shipping.Country,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
