package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, never more than the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest makes one unit of the cheapest line free.
	DiscountFreeLowest DiscountType = "free_lowest"
)

// Valid reports whether t is a supported discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountFreeLowest:
		return true
	}
	return false
}

var (
	// ErrInvalidCoupon is returned for unknown codes and for orders that do
	// not satisfy the coupon's minimum item count.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned outside the coupon's validity window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned once MaxUses redemptions happened.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
)

// Rule is a stored coupon. MaxUses of zero means unlimited; a zero
// MaxDiscount means the discount is not capped.
type Rule struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinItems     int
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	MaxDiscount  decimal.Decimal
}

// Discount is the amount a coupon takes off an order.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	Description string
}

// Item is a priced order line as seen by discount rules.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Repository looks up and redeems coupon rules.
type Repository interface {
	// FindByCode returns ErrInvalidCoupon when no coupon has the code.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	IncrementUses(ctx context.Context, code string) error
}

// NormalizeCode trims and upper-cases a user supplied coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
