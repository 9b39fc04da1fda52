package order

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	maskedAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maskedSuffix   = 6

	invoiceMin  = 10000
	invoiceSpan = 90000 // 10000..99999

	defaultIdentifierAttempts = 10

	// Sizing for the per-day filter of identifiers this process issued.
	issuedCapacity = 200_000
	issuedFPR      = 0.001
)

// Random is the source of randomness for identifier suffixes.
type Random interface {
	IntN(n int) int
}

type globalRandom struct{}

func (globalRandom) IntN(n int) int { return rand.IntN(n) }

// ExistsFunc reports whether an identifier is already taken.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// IdentifierGenerator produces invoice numbers (INV-YYYYMMDD-NNNNN) and masked
// order IDs (ORD-YYYY-MM-DD-XXXXXX). Candidates are checked against the order
// store and regenerated on collision, up to a bounded number of attempts.
//
// The store's unique indexes remain the source of truth: a candidate that
// passes the check can still lose an insert race, which callers handle by
// clearing the identifier and assigning again.
type IdentifierGenerator struct {
	rnd         Random
	now         func() time.Time
	maxAttempts int

	// OnCollision, when set, is called for every rejected candidate.
	OnCollision func(ctx context.Context, field IdentifierField)

	mu        sync.Mutex
	issuedDay string
	issued    *bloom.BloomFilter
}

// NewIdentifierGenerator creates a generator backed by math/rand/v2.
// maxAttempts <= 0 selects the default of 10 candidates per identifier.
func NewIdentifierGenerator(maxAttempts int) *IdentifierGenerator {
	if maxAttempts <= 0 {
		maxAttempts = defaultIdentifierAttempts
	}
	return &IdentifierGenerator{
		rnd:         globalRandom{},
		now:         time.Now,
		maxAttempts: maxAttempts,
	}
}

// InvoiceNo returns a fresh invoice number candidate for the given time.
func (g *IdentifierGenerator) InvoiceNo(t time.Time) string {
	return fmt.Sprintf("INV-%s-%05d", t.Format("20060102"), invoiceMin+g.rnd.IntN(invoiceSpan))
}

// MaskedOrderID returns a fresh masked order ID candidate for the given time.
func (g *IdentifierGenerator) MaskedOrderID(t time.Time) string {
	var suffix [maskedSuffix]byte
	for i := range suffix {
		suffix[i] = maskedAlphabet[g.rnd.IntN(len(maskedAlphabet))]
	}
	return "ORD-" + t.Format("2006-01-02") + "-" + string(suffix[:])
}

// Assign sets InvoiceNo and MaskedOrderID on o when they are empty. An
// identifier that is already set is left untouched, so calling Assign on an
// order that was saved before is a no-op.
func (g *IdentifierGenerator) Assign(ctx context.Context, o *Order, orders Repository) error {
	now := g.now().UTC()

	if o.InvoiceNo == "" {
		v, err := g.unique(ctx, FieldInvoiceNo, func() string { return g.InvoiceNo(now) }, orders.InvoiceNoExists)
		if err != nil {
			return err
		}
		o.InvoiceNo = v
	}

	if o.MaskedOrderID == "" {
		v, err := g.unique(ctx, FieldMaskedOrderID, func() string { return g.MaskedOrderID(now) }, orders.MaskedIDExists)
		if err != nil {
			return err
		}
		o.MaskedOrderID = v
	}

	return nil
}

func (g *IdentifierGenerator) unique(
	ctx context.Context,
	field IdentifierField,
	candidate func() string,
	exists ExistsFunc,
) (string, error) {
	for range g.maxAttempts {
		v := candidate()

		// Identifiers this process already handed out are rejected locally.
		if g.seen(v) {
			g.collision(ctx, field)
			continue
		}

		taken, err := exists(ctx, v)
		if err != nil {
			return "", errors.Wrapf(err, "check %s", field)
		}
		if taken {
			g.collision(ctx, field)
			continue
		}

		g.remember(v)
		return v, nil
	}
	return "", errors.Wrapf(ErrIdentifierExhausted, "%s after %d attempts", field, g.maxAttempts)
}

func (g *IdentifierGenerator) collision(ctx context.Context, field IdentifierField) {
	if g.OnCollision != nil {
		g.OnCollision(ctx, field)
	}
}

// filter returns the bloom filter for today's identifiers. Identifiers carry
// their date, so the filter is dropped when the day changes. Caller holds g.mu.
func (g *IdentifierGenerator) filter() *bloom.BloomFilter {
	day := g.now().UTC().Format("20060102")
	if g.issued == nil || g.issuedDay != day {
		g.issued = bloom.NewWithEstimates(issuedCapacity, issuedFPR)
		g.issuedDay = day
	}
	return g.issued
}

func (g *IdentifierGenerator) seen(v string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filter().TestString(v)
}

func (g *IdentifierGenerator) remember(v string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filter().AddString(v)
}
