package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storeadmin/internal/domain/order"
)

const (
	orderColumns = `id, billing_id, items, total_amount, shipping_cost, discount_amount,
		coupon_code, payment_method, status, invoice_no, masked_order_id,
		order_time, notes, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	updateOrderSQL = `UPDATE orders SET
			billing_id = $2, items = $3, total_amount = $4, shipping_cost = $5,
			discount_amount = $6, payment_method = $7, status = $8,
			order_time = $9, notes = $10, updated_at = $11
		WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
	deleteOrderSQL       = `DELETE FROM orders WHERE id = $1`

	getOrderByIDSQL       = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByMaskedIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE masked_order_id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY order_time DESC, id
		LIMIT $2 OFFSET $3`
	countOrdersSQL = `SELECT count(*) FROM orders WHERE ($1 = '' OR status = $1)`

	invoiceNoExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE invoice_no = $1)`
	maskedIDExistsSQL  = `SELECT EXISTS (SELECT 1 FROM orders WHERE masked_order_id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items are stored as a JSONB array on the order row.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts o. A unique violation on the invoice number or masked order
// ID is returned as *order.DuplicateIdentifierError.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = conn(ctx, r.pool).Exec(ctx, createOrderSQL,
		o.ID, o.BillingID, itemsJSON, o.TotalAmount, o.ShippingCost, o.DiscountAmount,
		o.CouponCode, string(o.PaymentMethod), string(o.Status), o.InvoiceNo, o.MaskedOrderID,
		o.OrderTime, o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if dup, ok := asDuplicateIdentifier(err, o); ok {
			return dup
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Update writes every mutable column of o. Identifiers are never updated.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderSQL,
		o.ID, o.BillingID, itemsJSON, o.TotalAmount, o.ShippingCost, o.DiscountAmount,
		string(o.PaymentMethod), string(o.Status), o.OrderTime, o.Notes, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// UpdateStatus sets the status of order id.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	if uuid.Validate(id) != nil {
		return order.ErrOrderNotFound
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// Delete removes order id.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return order.ErrOrderNotFound
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// GetByID returns order.ErrOrderNotFound for unknown or malformed IDs.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if uuid.Validate(id) != nil {
		return nil, order.ErrOrderNotFound
	}
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByMaskedID returns the order with the given masked order ID.
func (r *OrderRepository) GetByMaskedID(ctx context.Context, maskedID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByMaskedIDSQL, maskedID)
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

// List returns one page of orders, newest order time first.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) (*order.Page, error) {
	q := conn(ctx, r.pool)
	status := string(f.Status)

	var total int64
	if err := q.QueryRow(ctx, countOrdersSQL, status).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := q.Query(ctx, listOrdersSQL, status, f.Limit, (f.Page-1)*f.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	return &order.Page{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// InvoiceNoExists reports whether an order already uses invoiceNo.
func (r *OrderRepository) InvoiceNoExists(ctx context.Context, invoiceNo string) (bool, error) {
	return r.exists(ctx, invoiceNoExistsSQL, invoiceNo)
}

// MaskedIDExists reports whether an order already uses maskedID.
func (r *OrderRepository) MaskedIDExists(ctx context.Context, maskedID string) (bool, error) {
	return r.exists(ctx, maskedIDExistsSQL, maskedID)
}

func (r *OrderRepository) exists(ctx context.Context, sql, v string) (bool, error) {
	var ok bool
	if err := conn(ctx, r.pool).QueryRow(ctx, sql, v).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking identifier %q: %w", v, err)
	}
	return ok, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		items         []byte
		paymentMethod string
		status        string
	)
	if err := row.Scan(
		&o.ID, &o.BillingID, &items, &o.TotalAmount, &o.ShippingCost, &o.DiscountAmount,
		&o.CouponCode, &paymentMethod, &status, &o.InvoiceNo, &o.MaskedOrderID,
		&o.OrderTime, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.Status = order.Status(status)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	return o, nil
}
