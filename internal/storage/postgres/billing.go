package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storeadmin/internal/domain/billing"
)

const (
	billingColumns = `id, customer_name, email, phone, address, city, country, postal_code, created_at`

	createBillingSQL = `INSERT INTO billings
		(id, customer_name, email, phone, address, city, country, postal_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
		RETURNING created_at`

	getBillingByIDSQL = `SELECT ` + billingColumns + ` FROM billings WHERE id = $1`
)

var _ billing.Repository = (*BillingRepository)(nil)

// BillingRepository implements billing.Repository backed by PostgreSQL.
type BillingRepository struct {
	pool *pgxpool.Pool
}

// NewBillingRepository returns a BillingRepository that uses the given pool.
func NewBillingRepository(pool *pgxpool.Pool) *BillingRepository {
	return &BillingRepository{pool: pool}
}

// Create inserts b, assigning an ID when b has none.
func (r *BillingRepository) Create(ctx context.Context, b *billing.Billing) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	var createdAt any
	if !b.CreatedAt.IsZero() {
		createdAt = b.CreatedAt
	}
	err := conn(ctx, r.pool).QueryRow(ctx, createBillingSQL,
		b.ID, b.CustomerName, b.Email, b.Phone, b.Address, b.City, b.Country, b.PostalCode, createdAt,
	).Scan(&b.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating billing %q: %w", b.ID, err)
	}
	return nil
}

// GetByID returns billing.ErrNotFound for unknown or malformed IDs.
func (r *BillingRepository) GetByID(ctx context.Context, id string) (*billing.Billing, error) {
	if uuid.Validate(id) != nil {
		return nil, billing.ErrNotFound
	}

	rows, err := conn(ctx, r.pool).Query(ctx, getBillingByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting billing %q: %w", id, err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBilling)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrNotFound
		}
		return nil, fmt.Errorf("getting billing %q: %w", id, err)
	}
	return &b, nil
}

func scanBilling(row pgx.CollectableRow) (billing.Billing, error) {
	var b billing.Billing
	err := row.Scan(
		&b.ID, &b.CustomerName, &b.Email, &b.Phone, &b.Address,
		&b.City, &b.Country, &b.PostalCode, &b.CreatedAt,
	)
	return b, err
}
