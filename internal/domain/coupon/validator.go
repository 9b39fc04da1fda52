package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Redeemer turns a coupon code into a discount for a set of order items.
type Redeemer interface {
	Redeem(ctx context.Context, code string, items []Item) (*Discount, error)
}

// RepoRedeemer checks coupons stored in a Repository.
type RepoRedeemer struct {
	repo Repository
	now  func() time.Time
}

// NewRepoRedeemer creates a RepoRedeemer backed by repo.
func NewRepoRedeemer(repo Repository) *RepoRedeemer {
	return &RepoRedeemer{repo: repo, now: time.Now}
}

// Check looks up code, verifies its validity window and usage limit and
// computes the discount without consuming a use.
func (v *RepoRedeemer) Check(ctx context.Context, code string, items []Item) (*Discount, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := v.now()
	switch {
	case rule.ValidFrom != nil && now.Before(*rule.ValidFrom),
		rule.ValidUntil != nil && now.After(*rule.ValidUntil):
		return nil, ErrCouponExpired
	case rule.MaxUses > 0 && rule.Uses >= rule.MaxUses:
		return nil, ErrCouponUsageLimitReached
	}

	d, err := Apply(rule, items)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Redeem is Check followed by consuming one use of the coupon. Callers run it
// in the same transaction as the order insert so a failed insert does not
// burn a use.
func (v *RepoRedeemer) Redeem(ctx context.Context, code string, items []Item) (*Discount, error) {
	d, err := v.Check(ctx, code, items)
	if err != nil {
		return nil, err
	}
	if err := v.repo.IncrementUses(ctx, d.Code); err != nil {
		return nil, errors.Wrap(err, "increment coupon uses")
	}
	return d, nil
}
