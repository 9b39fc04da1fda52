package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/storeadmin/internal/domain/order"
)

const (
	countByStatusSQL = `SELECT status, count(*) FROM orders GROUP BY status`

	revenueSQL = `SELECT count(*), COALESCE(sum(total_amount), 0)
		FROM orders
		WHERE status <> 'cancelled' AND ($1::timestamptz IS NULL OR order_time >= $1)`

	dailySalesSQL = `SELECT (order_time AT TIME ZONE 'UTC')::date AS day,
			count(*), COALESCE(sum(total_amount), 0)
		FROM orders
		WHERE status <> 'cancelled' AND order_time >= $1
		GROUP BY day
		ORDER BY day`

	bestSellersSQL = `SELECT item->>'productId' AS product_id,
			COALESCE(max(item->>'name'), ''),
			sum((item->>'quantity')::bigint),
			COALESCE(sum((item->>'subtotal')::numeric), 0)
		FROM orders, jsonb_array_elements(items) AS item
		WHERE status <> 'cancelled'
		GROUP BY product_id
		ORDER BY 3 DESC, 1
		LIMIT $1`
)

var _ order.StatsRepository = (*OrderRepository)(nil)

// CountByStatus returns the number of orders in each status present.
func (r *OrderRepository) CountByStatus(ctx context.Context) (map[order.Status]int64, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, countByStatusSQL)
	if err != nil {
		return nil, fmt.Errorf("counting orders by status: %w", err)
	}
	defer rows.Close()

	out := make(map[order.Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		out[order.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting orders by status: %w", err)
	}
	return out, nil
}

// Revenue sums non-cancelled orders placed at or after since.
func (r *OrderRepository) Revenue(ctx context.Context, since time.Time) (order.Revenue, error) {
	var arg any
	if !since.IsZero() {
		arg = since
	}

	var rev order.Revenue
	if err := conn(ctx, r.pool).QueryRow(ctx, revenueSQL, arg).Scan(&rev.Orders, &rev.Amount); err != nil {
		return rev, fmt.Errorf("summing revenue: %w", err)
	}
	return rev, nil
}

// DailySales groups non-cancelled orders since the given time by UTC day.
func (r *OrderRepository) DailySales(ctx context.Context, since time.Time) ([]order.DailySales, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, dailySalesSQL, since)
	if err != nil {
		return nil, fmt.Errorf("daily sales: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.DailySales, error) {
		var d order.DailySales
		err := row.Scan(&d.Day, &d.Orders, &d.Revenue)
		return d, err
	})
}

// BestSellers ranks products by quantity sold across non-cancelled orders.
func (r *OrderRepository) BestSellers(ctx context.Context, limit int) ([]order.ProductSales, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, bestSellersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("best sellers: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.ProductSales, error) {
		var p order.ProductSales
		err := row.Scan(&p.ProductID, &p.Name, &p.Quantity, &p.Revenue)
		return p, err
	})
}
