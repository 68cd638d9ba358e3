package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearsight-optics/clearsight/internal/platform/db"
	"github.com/clearsight-optics/clearsight/internal/shared"
)

// StatusUpdate carries one status transition with its audit fields.
type StatusUpdate struct {
	Status Status
	// ActorID is the staff member for staff decisions, the customer for
	// customer decisions.
	ActorID int64
	// Customer selects the customer audit columns instead of the staff ones.
	Customer   bool
	Reason     *string
	StaffNotes *string
	// ExpectedVersion enables compare-and-swap when non-nil. The legacy
	// mode leaves it nil: two concurrent transitions both win their
	// precondition check and the last write sticks.
	ExpectedVersion *int64
}

// Repository owns the persisted quotation aggregate.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Quotation, error)
	GetByNumber(ctx context.Context, number string) (*Quotation, error)
	List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error)
	Create(ctx context.Context, q Quotation) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	DeleteItems(ctx context.Context, quotationID int64) error
	UpdateContent(ctx context.Context, id int64, updates map[string]any) error
	UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) error
	AppendReply(ctx context.Context, reply StaffReply) (int64, error)
	Delete(ctx context.Context, id int64) error
	FindExpired(ctx context.Context, asOf time.Time, limit int) ([]Quotation, error)
	MarkExpired(ctx context.Context, ids []int64) (int64, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const quotationColumns = `id, number, customer_id, customer_name, customer_email, customer_phone,
subtotal, tax, discount, total, status, valid_until,
notes, staff_notes, prescription_file_ref,
approved_at, approved_by, rejected_at, rejected_by, rejected_reason,
customer_approved_at, customer_rejected_at, customer_rejection_reason,
converted_at, converted_order_id, version, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Quotation, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM quotations WHERE id=$1`, quotationColumns), id)
	q, err := scanQuotation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("quotation %d: %w", id, shared.ErrNotFound)
		}
		return nil, err
	}
	if err := r.loadChildren(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (r *repository) GetByNumber(ctx context.Context, number string) (*Quotation, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM quotations WHERE number=$1`, quotationColumns), number)
	q, err := scanQuotation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("quotation %s: %w", number, shared.ErrNotFound)
		}
		return nil, err
	}
	if err := r.loadChildren(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (r *repository) loadChildren(ctx context.Context, q *Quotation) error {
	items, err := r.getItems(ctx, q.ID)
	if err != nil {
		return err
	}
	q.Items = items
	replies, err := r.getReplies(ctx, q.ID)
	if err != nil {
		return err
	}
	q.Replies = replies
	return nil
}

func (r *repository) getItems(ctx context.Context, quotationID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT id, quotation_id, product_id, product_name, product_image, quantity, unit_price, line_total, specifications, line_order
FROM quotation_items WHERE quotation_id=$1 ORDER BY line_order ASC, id ASC`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		var specs []byte
		if err := rows.Scan(&item.ID, &item.QuotationID, &item.ProductID, &item.ProductName, &item.ProductImage,
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

func (r *repository) getReplies(ctx context.Context, quotationID int64) ([]StaffReply, error) {
	rows, err := r.db.Query(ctx, `SELECT id, quotation_id, staff_id, message, created_at
FROM quotation_replies WHERE quotation_id=$1 ORDER BY created_at ASC, id ASC`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var replies []StaffReply
	for rows.Next() {
		var reply StaffReply
		if err := rows.Scan(&reply.ID, &reply.QuotationID, &reply.StaffID, &reply.Message, &reply.CreatedAt); err != nil {
			return nil, err
		}
		replies = append(replies, reply)
	}
	return replies, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
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
	if req.DateFrom != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *req.DateTo)
		argPos++
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM quotations %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM quotations %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		quotationColumns, where, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	quotations := []Quotation{}
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		quotations = append(quotations, *q)
	}
	return quotations, total, rows.Err()
}

// Create inserts the header row. Items are inserted separately inside
// the same transaction. On a reference-number collision the caller's
// number generator is retried by the service.
func (r *repository) Create(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO quotations
(number, customer_id, customer_name, customer_email, customer_phone,
 subtotal, tax, discount, total, status, valid_until,
 notes, staff_notes, prescription_file_ref, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1,NOW(),NOW())
RETURNING id`,
		q.Number, q.CustomerID, q.CustomerName, q.CustomerEmail, q.CustomerPhone,
		q.Subtotal, q.Tax, q.Discount, q.Total, string(q.Status), q.ValidUntil,
		q.Notes, q.StaffNotes, q.PrescriptionFileRef).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("quotation number %s taken: %w", q.Number, shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) InsertItem(ctx context.Context, item Item) (int64, error) {
	specs, err := json.Marshal(item.Specifications)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.db.QueryRow(ctx, `INSERT INTO quotation_items
(quotation_id, product_id, product_name, product_image, quantity, unit_price, line_total, specifications, line_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		item.QuotationID, item.ProductID, item.ProductName, item.ProductImage,
		item.Quantity, item.UnitPrice, item.LineTotal, specs, item.LineOrder).Scan(&id)
	return id, err
}

func (r *repository) DeleteItems(ctx context.Context, quotationID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM quotation_items WHERE quotation_id=$1`, quotationID)
	return err
}

func (r *repository) UpdateContent(ctx context.Context, id int64, updates map[string]any) error {
	query := "UPDATE quotations SET updated_at = NOW()"
	var args []any
	argPos := 1
	for _, col := range []string{"notes", "staff_notes", "subtotal", "tax", "total"} {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}
	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quotation %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) error {
	query := `UPDATE quotations SET status=$2, version=version+1, updated_at=NOW()`
	args := []any{id, string(upd.Status)}
	argPos := 3

	switch {
	case upd.Status == StatusApproved && !upd.Customer:
		query += fmt.Sprintf(", approved_at=NOW(), approved_by=$%d", argPos)
		args = append(args, upd.ActorID)
		argPos++
	case upd.Status == StatusRejected && !upd.Customer:
		query += fmt.Sprintf(", rejected_at=NOW(), rejected_by=$%d, rejected_reason=$%d", argPos, argPos+1)
		args = append(args, upd.ActorID, upd.Reason)
		argPos += 2
	case upd.Status == StatusRejected && upd.Customer:
		query += fmt.Sprintf(", customer_rejected_at=NOW(), customer_rejection_reason=$%d", argPos)
		args = append(args, upd.Reason)
		argPos++
	case (upd.Status == StatusConverted || upd.Status == StatusCustomerApproved) && upd.Customer:
		query += ", customer_approved_at=NOW()"
	}
	if upd.StaffNotes != nil {
		query += fmt.Sprintf(", staff_notes=$%d", argPos)
		args = append(args, *upd.StaffNotes)
		argPos++
	}

	query += " WHERE id=$1"
	if upd.ExpectedVersion != nil {
		query += fmt.Sprintf(" AND version=$%d", argPos)
		args = append(args, *upd.ExpectedVersion)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if upd.ExpectedVersion != nil {
			return fmt.Errorf("quotation %d: %w", id, shared.ErrConflict)
		}
		return fmt.Errorf("quotation %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) AppendReply(ctx context.Context, reply StaffReply) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO quotation_replies (quotation_id, staff_id, message, created_at)
VALUES ($1,$2,$3,NOW()) RETURNING id`, reply.QuotationID, reply.StaffID, reply.Message).Scan(&id)
	if err != nil {
		return 0, err
	}
	_, err = r.db.Exec(ctx, `UPDATE quotations SET updated_at=NOW() WHERE id=$1`, reply.QuotationID)
	return id, err
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM quotations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quotation %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) FindExpired(ctx context.Context, asOf time.Time, limit int) ([]Quotation, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM quotations
WHERE status IN ($1,$2) AND valid_until < $3
ORDER BY valid_until ASC, id ASC LIMIT $4`, quotationColumns),
		string(StatusPending), string(StatusApproved), asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quotations []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		quotations = append(quotations, *q)
	}
	return quotations, rows.Err()
}

func (r *repository) MarkExpired(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `UPDATE quotations SET status=$2, version=version+1, updated_at=NOW()
WHERE id = ANY($1) AND status IN ($3,$4)`,
		ids, string(StatusExpired), string(StatusPending), string(StatusApproved))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	err := row.Scan(&q.ID, &q.Number, &q.CustomerID, &q.CustomerName, &q.CustomerEmail, &q.CustomerPhone,
		&q.Subtotal, &q.Tax, &q.Discount, &q.Total, &q.Status, &q.ValidUntil,
		&q.Notes, &q.StaffNotes, &q.PrescriptionFileRef,
		&q.ApprovedAt, &q.ApprovedBy, &q.RejectedAt, &q.RejectedBy, &q.RejectedReason,
		&q.CustomerApprovedAt, &q.CustomerRejectedAt, &q.CustomerRejectionReason,
		&q.ConvertedAt, &q.ConvertedOrderID, &q.Version, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}
