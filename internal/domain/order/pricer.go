package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storeadmin/internal/domain/product"
)

// ItemRequest is one requested line: a product, a quantity and optionally a
// unit price and image snapshot supplied by the caller.
type ItemRequest struct {
	ProductID string
	Quantity  int
	// UnitPrice is the price to capture. When not set, the product's current
	// sales price is captured instead.
	UnitPrice decimal.NullDecimal
	Images    []string
}

// Priced is the result of pricing a list of item requests.
type Priced struct {
	Items    []LineItem
	Subtotal decimal.Decimal
	Products []product.Product
}

// PriceItems resolves every requested product with a single batch lookup,
// computes each line subtotal and the aggregate subtotal, and snapshots the
// line images. It fails with *ProductNotFoundError naming the first unknown
// product in request order; nothing is returned for a partial list.
//
// Quantities are assumed to be validated already. Duplicate product IDs are
// priced as independent lines.
func PriceItems(ctx context.Context, products product.Repository, reqs []ItemRequest) (*Priced, error) {
	if len(reqs) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		if _, ok := seen[r.ProductID]; ok {
			continue
		}
		seen[r.ProductID] = struct{}{}
		ids = append(ids, r.ProductID)
	}

	fetched, err := products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	out := &Priced{
		Items:    make([]LineItem, 0, len(reqs)),
		Subtotal: decimal.Zero,
		Products: make([]product.Product, 0, len(reqs)),
	}
	for _, r := range reqs {
		p, ok := byID[r.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: r.ProductID}
		}

		item := priceLine(r, p)
		out.Subtotal = out.Subtotal.Add(item.Subtotal)
		out.Items = append(out.Items, item)
		out.Products = append(out.Products, p)
	}

	return out, nil
}

func priceLine(r ItemRequest, p product.Product) LineItem {
	unit := p.SalesPrice
	if r.UnitPrice.Valid {
		unit = r.UnitPrice.Decimal
	}

	images := p.Gallery()
	if len(r.Images) > 0 {
		images = append([]string(nil), r.Images...)
	}

	return LineItem{
		ProductID: p.ID,
		SKU:       p.SKU,
		Name:      p.Name,
		Quantity:  r.Quantity,
		UnitPrice: unit,
		Subtotal:  unit.Mul(decimal.NewFromInt(int64(r.Quantity))),
		Images:    images,
	}
}

// Total returns subtotal + shipping - discount. The result is not clamped:
// a discount larger than subtotal plus shipping yields a negative total.
func Total(subtotal, shipping, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Add(shipping).Sub(discount)
}

func sumSubtotals(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal)
	}
	return sum
}
