package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item that orders reference by ID.
type Product struct {
	ID         string
	SKU        string
	Name       string
	SalesPrice decimal.Decimal
	// Images is the ordered gallery. Older catalog rows only carry the
	// single legacy Image path.
	Images []string
	Image  string
}

// Gallery returns the product's image snapshot: the gallery when present,
// otherwise the legacy image, otherwise an empty slice.
func (p Product) Gallery() []string {
	if len(p.Images) > 0 {
		return append([]string(nil), p.Images...)
	}
	if p.Image != "" {
		return []string{p.Image}
	}
	return []string{}
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
