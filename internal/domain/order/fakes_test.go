package order

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/xenking/storeadmin/internal/domain/billing"
	"github.com/xenking/storeadmin/internal/domain/coupon"
	"github.com/xenking/storeadmin/internal/domain/product"
)

type fakeProducts struct {
	byID  map[string]product.Product
	calls atomic.Int64
	err   error
}

func newFakeProducts(ps ...product.Product) *fakeProducts {
	m := make(map[string]product.Product, len(ps))
	for _, p := range ps {
		m[p.ID] = p
	}
	return &fakeProducts{byID: m}
}

func (f *fakeProducts) List(context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := f.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeBillings struct {
	byID map[string]*billing.Billing
	seq  int
}

func newFakeBillings(ids ...string) *fakeBillings {
	f := &fakeBillings{byID: map[string]*billing.Billing{}}
	for _, id := range ids {
		f.byID[id] = &billing.Billing{ID: id, CustomerName: "Customer " + id, Email: id + "@example.com", Address: "1 Main St"}
	}
	return f
}

func (f *fakeBillings) Create(_ context.Context, b *billing.Billing) error {
	f.seq++
	if b.ID == "" {
		b.ID = fmt.Sprintf("bill-%d", f.seq)
	}
	cp := *b
	f.byID[b.ID] = &cp
	return nil
}

func (f *fakeBillings) GetByID(_ context.Context, id string) (*billing.Billing, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// fakeOrders is an in-memory Repository enforcing identifier uniqueness the
// way the unique indexes do.
type fakeOrders struct {
	mu       sync.Mutex
	byID     map[string]*Order
	invoices map[string]bool
	masked   map[string]bool

	// createErrs are returned, in order, by the next Create calls.
	createErrs []error
	creates    int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		byID:     map[string]*Order{},
		invoices: map[string]bool{},
		masked:   map[string]bool{},
	}
}

func (f *fakeOrders) Create(_ context.Context, o *Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return err
	}
	if f.invoices[o.InvoiceNo] {
		return &DuplicateIdentifierError{Field: FieldInvoiceNo, Value: o.InvoiceNo}
	}
	if f.masked[o.MaskedOrderID] {
		return &DuplicateIdentifierError{Field: FieldMaskedOrderID, Value: o.MaskedOrderID}
	}

	cp := *o
	f.byID[o.ID] = &cp
	f.invoices[o.InvoiceNo] = true
	f.masked[o.MaskedOrderID] = true
	return nil
}

func (f *fakeOrders) Update(_ context.Context, o *Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[o.ID]; !ok {
		return ErrOrderNotFound
	}
	cp := *o
	cp.Billing = nil
	f.byID[o.ID] = &cp
	return nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id string, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (f *fakeOrders) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return ErrOrderNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetByMaskedID(_ context.Context, maskedID string) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.byID {
		if o.MaskedOrderID == maskedID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (f *fakeOrders) List(_ context.Context, flt ListFilter) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &Page{Page: flt.Page, Limit: flt.Limit}
	for _, o := range f.byID {
		if flt.Status != "" && o.Status != flt.Status {
			continue
		}
		p.Total++
		p.Orders = append(p.Orders, *o)
	}
	return p, nil
}

func (f *fakeOrders) InvoiceNoExists(_ context.Context, v string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoices[v], nil
}

func (f *fakeOrders) MaskedIDExists(_ context.Context, v string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.masked[v], nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

// fakeTx rolls the fake stores back when an outermost fn fails. Nested
// calls behave like savepoints around a single write and only pass through.
type fakeTx struct {
	billings *fakeBillings
	orders   *fakeOrders
	calls    atomic.Int64
}

type fakeTxKey struct{}

func (t *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls.Add(1)
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	ctx = context.WithValue(ctx, fakeTxKey{}, t)

	var bills map[string]*billing.Billing
	if t.billings != nil {
		bills = maps.Clone(t.billings.byID)
	}
	var byID map[string]*Order
	var inv, masked map[string]bool
	if t.orders != nil {
		t.orders.mu.Lock()
		byID, inv, masked = maps.Clone(t.orders.byID), maps.Clone(t.orders.invoices), maps.Clone(t.orders.masked)
		t.orders.mu.Unlock()
	}

	if err := fn(ctx); err != nil {
		if t.billings != nil {
			t.billings.byID = bills
		}
		if t.orders != nil {
			t.orders.mu.Lock()
			t.orders.byID, t.orders.invoices, t.orders.masked = byID, inv, masked
			t.orders.mu.Unlock()
		}
		return err
	}
	return nil
}

type fakeRedeemer struct {
	amount decimal.Decimal
	err    error
	codes  []string
	items  []coupon.Item
}

func (f *fakeRedeemer) Redeem(_ context.Context, code string, items []coupon.Item) (*coupon.Discount, error) {
	f.codes = append(f.codes, code)
	f.items = items
	if f.err != nil {
		return nil, f.err
	}
	return &coupon.Discount{Code: coupon.NormalizeCode(code), Amount: f.amount}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	ctxErr []error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	p.ctxErr = append(p.ctxErr, ctx.Err())
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// lockedRandom returns zeros first, then draws from a seeded PCG. It is
// safe for concurrent use.
type lockedRandom struct {
	mu    sync.Mutex
	zeros int
	rnd   *rand.Rand
}

func newLockedRandom(zeros int) *lockedRandom {
	return &lockedRandom{zeros: zeros, rnd: rand.New(rand.NewPCG(1, 2))}
}

func (r *lockedRandom) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.zeros > 0 {
		r.zeros--
		return 0
	}
	return r.rnd.IntN(n)
}

// seqRandom replays values, wrapping around; each is reduced modulo n.
type seqRandom struct {
	vals []int
	i    int
}

func (r *seqRandom) IntN(n int) int {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v % n
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }
