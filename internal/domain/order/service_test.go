package order

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/ogen-go/ogen/validate"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storeadmin/internal/domain/billing"
	"github.com/xenking/storeadmin/internal/domain/coupon"
)

type testEnv struct {
	svc      *Service
	products *fakeProducts
	billings *fakeBillings
	orders   *fakeOrders
	tx       *fakeTx
	coupons  *fakeRedeemer
	events   *recordingPublisher
	now      time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	env := &testEnv{
		products: testProducts(),
		billings: newFakeBillings("bill-1", "bill-2"),
		orders:   newFakeOrders(),
		coupons:  &fakeRedeemer{},
		events:   &recordingPublisher{},
		now:      time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC),
	}
	env.tx = &fakeTx{billings: env.billings, orders: env.orders}
	cfg.Publisher = env.events

	svc, err := NewService(env.products, env.billings, env.coupons, env.orders, env.tx, cfg)
	require.NoError(t, err)
	svc.now = func() time.Time { return env.now }
	svc.ids.now = svc.now
	env.svc = svc
	return env
}

func createReq(items ...ItemRequest) CreateRequest {
	return CreateRequest{BillingID: "bill-1", Input: Input{Items: items}}
}

func TestService_Create_WorkedExample(t *testing.T) {
	env := newTestEnv(t, Config{})

	req := createReq(ItemRequest{ProductID: "A", Quantity: 3, UnitPrice: price("15.00")})
	req.ShippingCost = price("2.00")

	o, err := env.svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, d("45.00").Equal(o.Subtotal()))
	assert.True(t, d("47.00").Equal(o.TotalAmount))
	assert.True(t, decimal.Zero.Equal(o.DiscountAmount))
	assert.Regexp(t, invoiceRe, o.InvoiceNo)
	assert.Regexp(t, maskedRe, o.MaskedOrderID)
	assert.Contains(t, o.InvoiceNo, "-20240801-")
	assert.Equal(t, PaymentCash, o.PaymentMethod)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, env.now, o.OrderTime)
	require.NotNil(t, o.Billing)
	assert.Equal(t, "bill-1", o.Billing.ID)

	stored, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.InvoiceNo, stored.InvoiceNo)
	assert.Equal(t, []string{EventCreated}, env.events.types())
}

func TestService_Create_NegativeTotal(t *testing.T) {
	env := newTestEnv(t, Config{})

	req := createReq(ItemRequest{ProductID: "A", Quantity: 1, UnitPrice: price("10.00")})
	req.DiscountAmount = price("15.00")

	o, err := env.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d("-5.00").Equal(o.TotalAmount), "got %s", o.TotalAmount)
}

func TestService_Create_AllOrNothing(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.svc.Create(context.Background(), createReq(
		ItemRequest{ProductID: "A", Quantity: 1},
		ItemRequest{ProductID: "nope", Quantity: 1},
		ItemRequest{ProductID: "C", Quantity: 1},
	))

	var nf *ProductNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ProductID)
	assert.Zero(t, env.orders.count())
	assert.Zero(t, env.orders.creates)
	assert.Empty(t, env.events.types())
}

func TestService_Create_Validation(t *testing.T) {
	env := newTestEnv(t, Config{})

	t.Run("billing required", func(t *testing.T) {
		_, err := env.svc.Create(context.Background(), CreateRequest{Input: Input{
			Items: []ItemRequest{{ProductID: "A", Quantity: 1}},
		}})
		require.ErrorIs(t, err, ErrBillingRequired)
	})

	t.Run("empty items", func(t *testing.T) {
		_, err := env.svc.Create(context.Background(), createReq())
		require.ErrorIs(t, err, ErrEmptyItems)
	})

	t.Run("field errors", func(t *testing.T) {
		req := createReq(
			ItemRequest{ProductID: "A", Quantity: 0},
			ItemRequest{ProductID: "B", Quantity: 1, UnitPrice: price("-1")},
		)
		req.ShippingCost = price("-2")
		req.PaymentMethod = "barter"

		_, err := env.svc.Create(context.Background(), req)
		var ve *validate.Error
		require.ErrorAs(t, err, &ve)

		var names []string
		for _, f := range ve.Fields {
			names = append(names, f.Name)
		}
		assert.ElementsMatch(t, []string{
			"orderItems[0].quantity",
			"orderItems[1].unitPrice",
			"shippingCost",
			"paymentMethod",
		}, names)
	})

	t.Run("amount scale and range", func(t *testing.T) {
		tests := []struct {
			name     string
			unit     string
			quantity int
			shipping string
			field    string
			want     error
		}{
			{"sub-cent unit price", "1.005", 1, "0", "orderItems[0].unitPrice", errTooManyDecimals},
			{"sub-cent shipping", "1.00", 1, "0.001", "shippingCost", errTooManyDecimals},
			{"shipping too large", "1.00", 1, "10000000000", "shippingCost", errOutOfRange},
			{"unit price too large", "99999999999.99", 1, "0", "orderItems[0].unitPrice", errOutOfRange},
			{"subtotal too large", "9999999999.99", 2, "0", "subtotal", errOutOfRange},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := createReq(ItemRequest{ProductID: "A", Quantity: tt.quantity, UnitPrice: price(tt.unit)})
				req.ShippingCost = price(tt.shipping)

				_, err := env.svc.Create(context.Background(), req)
				var ve *validate.Error
				require.ErrorAs(t, err, &ve)
				require.NotEmpty(t, ve.Fields)
				assert.Equal(t, tt.field, ve.Fields[0].Name)
				assert.ErrorIs(t, ve.Fields[0].Error, tt.want)
			})
		}

		// Trailing zeros beyond cents are fine.
		req := createReq(ItemRequest{ProductID: "A", Quantity: 1, UnitPrice: price("1.500")})
		o, err := env.svc.Create(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, d("1.50").Equal(o.TotalAmount))
		require.NoError(t, env.orders.Delete(context.Background(), o.ID))
	})

	t.Run("unknown billing", func(t *testing.T) {
		req := createReq(ItemRequest{ProductID: "A", Quantity: 1})
		req.BillingID = "bill-404"

		_, err := env.svc.Create(context.Background(), req)
		var bnf *BillingNotFoundError
		require.ErrorAs(t, err, &bnf)
		assert.Equal(t, "bill-404", bnf.BillingID)
	})

	assert.Zero(t, env.orders.count())
}

func TestService_Create_Coupon(t *testing.T) {
	t.Run("coupon discount applied", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.coupons.amount = d("4.50")

		req := createReq(ItemRequest{ProductID: "A", Quantity: 3})
		req.CouponCode = "save10"

		o, err := env.svc.Create(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, d("4.50").Equal(o.DiscountAmount))
		assert.True(t, d("40.50").Equal(o.TotalAmount))
		assert.Equal(t, "SAVE10", o.CouponCode)
		require.Len(t, env.coupons.items, 1)
		assert.True(t, d("15.00").Equal(env.coupons.items[0].Price))
	})

	t.Run("explicit discount wins", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.coupons.amount = d("4.50")

		req := createReq(ItemRequest{ProductID: "A", Quantity: 3})
		req.CouponCode = "SAVE10"
		req.DiscountAmount = price("1.00")

		o, err := env.svc.Create(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, d("1.00").Equal(o.DiscountAmount))
		assert.Empty(t, o.CouponCode)
		assert.Empty(t, env.coupons.codes)
	})

	t.Run("rejected coupon fails the order", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		env.coupons.err = coupon.ErrCouponExpired

		req := createReq(ItemRequest{ProductID: "A", Quantity: 1})
		req.CouponCode = "OLD"

		_, err := env.svc.Create(context.Background(), req)
		require.ErrorIs(t, err, coupon.ErrCouponExpired)
		assert.Zero(t, env.orders.count())
	})
}

func TestService_Create_RetriesDuplicateIdentifier(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.orders.createErrs = []error{
		&DuplicateIdentifierError{Field: FieldInvoiceNo, Value: "INV-20240801-11111"},
		&DuplicateIdentifierError{Field: FieldMaskedOrderID, Value: "ORD-2024-08-01-AAAAAA"},
	}

	o, err := env.svc.Create(context.Background(), createReq(ItemRequest{ProductID: "B", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, 3, env.orders.creates)
	assert.Equal(t, 1, env.orders.count())
	assert.Regexp(t, invoiceRe, o.InvoiceNo)
	assert.Regexp(t, maskedRe, o.MaskedOrderID)
}

func TestService_Create_RetriesExhausted(t *testing.T) {
	env := newTestEnv(t, Config{InsertAttempts: 2})
	dup := &DuplicateIdentifierError{Field: FieldInvoiceNo, Value: "INV-20240801-11111"}
	env.orders.createErrs = []error{dup, dup, dup}

	_, err := env.svc.Create(context.Background(), createReq(ItemRequest{ProductID: "B", Quantity: 1}))
	require.ErrorIs(t, err, ErrDuplicateIdentifier)
	assert.Equal(t, 2, env.orders.creates)
	assert.Zero(t, env.orders.count())
}

func TestService_Create_ConcurrentIdentifiersUnique(t *testing.T) {
	const taken = "INV-20240801-10000"

	for _, n := range []int{2, 16, 64} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			env := newTestEnv(t, Config{})
			env.orders.invoices[taken] = true

			// The first draw is zero, so the first invoice candidate is taken.
			env.svc.ids.rnd = newLockedRandom(1)
			var collisions atomic.Int64
			record := env.svc.ids.OnCollision
			env.svc.ids.OnCollision = func(ctx context.Context, field IdentifierField) {
				collisions.Add(1)
				record(ctx, field)
			}

			var (
				wg     sync.WaitGroup
				orders = make([]*Order, n)
				errs   = make([]error, n)
			)
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					orders[i], errs[i] = env.svc.Create(context.Background(),
						createReq(ItemRequest{ProductID: "B", Quantity: i + 1}))
				}()
			}
			wg.Wait()

			invoices := make(map[string]bool, n)
			masked := make(map[string]bool, n)
			for i := range n {
				require.NoError(t, errs[i])
				o := orders[i]
				assert.Regexp(t, invoiceRe, o.InvoiceNo)
				assert.Regexp(t, maskedRe, o.MaskedOrderID)
				assert.False(t, invoices[o.InvoiceNo], "duplicate invoice %s", o.InvoiceNo)
				assert.False(t, masked[o.MaskedOrderID], "duplicate masked id %s", o.MaskedOrderID)
				invoices[o.InvoiceNo] = true
				masked[o.MaskedOrderID] = true
			}
			assert.NotContains(t, invoices, taken)
			assert.Equal(t, n, env.orders.count())
			assert.GreaterOrEqual(t, collisions.Load(), int64(1))
		})
	}
}

func TestService_Create_PublishesAfterCallerCancel(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Create(ctx, createReq(ItemRequest{ProductID: "B", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, []string{EventCreated}, env.events.types())
	assert.Equal(t, []error{nil}, env.events.ctxErr)
}

func TestService_Create_StoreError(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.orders.createErrs = []error{errors.New("disk full")}

	_, err := env.svc.Create(context.Background(), createReq(ItemRequest{ProductID: "B", Quantity: 1}))
	require.ErrorContains(t, err, "create order")
	assert.Equal(t, 1, env.orders.creates)
}

func TestService_Checkout(t *testing.T) {
	b := billing.Billing{CustomerName: "Ada", Email: "ada@example.com", Address: "12 Analytical Way"}

	t.Run("creates billing and order", func(t *testing.T) {
		env := newTestEnv(t, Config{})

		o, err := env.svc.Checkout(context.Background(), CheckoutRequest{
			Billing: b,
			Order: Input{
				Items:        []ItemRequest{{ProductID: "A", Quantity: 2}},
				ShippingCost: price("5"),
			},
		})
		require.NoError(t, err)
		require.NotNil(t, o.Billing)
		assert.NotEmpty(t, o.BillingID)
		assert.Equal(t, o.BillingID, o.Billing.ID)
		assert.True(t, d("35.00").Equal(o.TotalAmount))

		_, err = env.billings.GetByID(context.Background(), o.BillingID)
		require.NoError(t, err)
	})

	t.Run("failed order leaves no billing", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		before := len(env.billings.byID)

		_, err := env.svc.Checkout(context.Background(), CheckoutRequest{
			Billing: b,
			Order:   Input{Items: []ItemRequest{{ProductID: "A", Quantity: 1}, {ProductID: "ghost", Quantity: 1}}},
		})
		var nf *ProductNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Len(t, env.billings.byID, before)
		assert.Zero(t, env.orders.count())
	})

	t.Run("billing fields are prefixed", func(t *testing.T) {
		env := newTestEnv(t, Config{})

		_, err := env.svc.Checkout(context.Background(), CheckoutRequest{
			Billing: billing.Billing{CustomerName: "Ada", Address: "x"},
			Order:   Input{Items: []ItemRequest{{ProductID: "A", Quantity: -1}}},
		})
		var ve *validate.Error
		require.ErrorAs(t, err, &ve)
		var names []string
		for _, f := range ve.Fields {
			names = append(names, f.Name)
		}
		assert.Equal(t, []string{"billing.email", "orderItems[0].quantity"}, names)
	})
}

func createdOrder(t *testing.T, env *testEnv) *Order {
	t.Helper()
	req := createReq(
		ItemRequest{ProductID: "A", Quantity: 2, UnitPrice: price("10.00")},
		ItemRequest{ProductID: "B", Quantity: 1, UnitPrice: price("5.00")},
	)
	req.ShippingCost = price("3.00")
	req.DiscountAmount = price("1.00")
	o, err := env.svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.True(t, d("27.00").Equal(o.TotalAmount))
	return o
}

func TestService_Update(t *testing.T) {
	t.Run("shipping only", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)

		got, err := env.svc.Update(context.Background(), o.ID, UpdateRequest{ShippingCost: price("10.00")})
		require.NoError(t, err)
		// 25 + 10 - 1
		assert.True(t, d("34.00").Equal(got.TotalAmount), "got %s", got.TotalAmount)
		assert.Equal(t, o.InvoiceNo, got.InvoiceNo)
		assert.Equal(t, o.MaskedOrderID, got.MaskedOrderID)
	})

	t.Run("discount only", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)

		got, err := env.svc.Update(context.Background(), o.ID, UpdateRequest{DiscountAmount: price("30.00")})
		require.NoError(t, err)
		assert.True(t, d("-2.00").Equal(got.TotalAmount), "got %s", got.TotalAmount)
	})

	t.Run("items replaced keep stored shipping and discount", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)

		got, err := env.svc.Update(context.Background(), o.ID, UpdateRequest{
			Items: []ItemRequest{{ProductID: "C", Quantity: 10}},
		})
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		// 10 * 1.10 + 3 - 1
		assert.True(t, d("13.00").Equal(got.TotalAmount), "got %s", got.TotalAmount)

		stored, err := env.orders.GetByID(context.Background(), o.ID)
		require.NoError(t, err)
		assert.True(t, got.TotalAmount.Equal(stored.TotalAmount))
	})

	t.Run("notes and payment method", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)
		notes := "leave at door"
		pm := PaymentCard

		got, err := env.svc.Update(context.Background(), o.ID, UpdateRequest{Notes: &notes, PaymentMethod: &pm})
		require.NoError(t, err)
		assert.Equal(t, notes, got.Notes)
		assert.Equal(t, PaymentCard, got.PaymentMethod)
		assert.True(t, o.TotalAmount.Equal(got.TotalAmount))
		assert.Equal(t, []string{EventCreated, EventUpdated}, env.events.types())
	})

	t.Run("empty items rejected", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)

		_, err := env.svc.Update(context.Background(), o.ID, UpdateRequest{Items: []ItemRequest{}})
		require.ErrorIs(t, err, ErrEmptyItems)
	})

	t.Run("missing product keeps stored order", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)

		_, err := env.svc.Update(context.Background(), o.ID, UpdateRequest{
			Items: []ItemRequest{{ProductID: "ghost", Quantity: 1}},
		})
		var nf *ProductNotFoundError
		require.ErrorAs(t, err, &nf)

		stored, err := env.orders.GetByID(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Items, 2)
	})

	t.Run("unknown order", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		_, err := env.svc.Update(context.Background(), "missing", UpdateRequest{})
		require.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestService_UpdateStatus(t *testing.T) {
	t.Run("permissive allows any change", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)

		got, err := env.svc.UpdateStatus(context.Background(), o.ID, StatusDelivered)
		require.NoError(t, err)
		assert.Equal(t, StatusDelivered, got.Status)

		got, err = env.svc.UpdateStatus(context.Background(), o.ID, StatusPending)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
	})

	t.Run("strict follows the table", func(t *testing.T) {
		env := newTestEnv(t, Config{StrictStatus: true})
		o := createdOrder(t, env)

		_, err := env.svc.UpdateStatus(context.Background(), o.ID, StatusShipped)
		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, StatusPending, ite.From)
		assert.Equal(t, StatusShipped, ite.To)

		for _, next := range []Status{StatusProcessing, StatusShipped, StatusDelivered} {
			_, err := env.svc.UpdateStatus(context.Background(), o.ID, next)
			require.NoError(t, err, next)
		}

		_, err = env.svc.UpdateStatus(context.Background(), o.ID, StatusCancelled)
		require.ErrorAs(t, err, &ite)
	})

	t.Run("strict also guards full updates", func(t *testing.T) {
		env := newTestEnv(t, Config{StrictStatus: true})
		o := createdOrder(t, env)
		st := StatusDelivered

		_, err := env.svc.Update(context.Background(), o.ID, UpdateRequest{Status: &st})
		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
	})

	t.Run("unknown status", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)

		_, err := env.svc.UpdateStatus(context.Background(), o.ID, "lost")
		var ve *validate.Error
		require.ErrorAs(t, err, &ve)
	})

	t.Run("event published", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		o := createdOrder(t, env)

		_, err := env.svc.UpdateStatus(context.Background(), o.ID, StatusProcessing)
		require.NoError(t, err)
		assert.Equal(t, []string{EventCreated, EventStatusChanged}, env.events.types())
	})
}

func TestService_Delete(t *testing.T) {
	env := newTestEnv(t, Config{})
	o := createdOrder(t, env)

	require.NoError(t, env.svc.Delete(context.Background(), o.ID))
	_, err := env.svc.Get(context.Background(), o.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)

	err = env.svc.Delete(context.Background(), o.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, []string{EventCreated, EventDeleted}, env.events.types())
}

func TestService_Lookup(t *testing.T) {
	env := newTestEnv(t, Config{})
	o := createdOrder(t, env)

	got, err := env.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Billing)
	assert.Equal(t, "bill-1", got.Billing.ID)

	byMasked, err := env.svc.GetByMaskedID(context.Background(), o.MaskedOrderID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byMasked.ID)
	require.NotNil(t, byMasked.Billing)

	_, err = env.svc.GetByMaskedID(context.Background(), "ORD-1999-01-01-ZZZZZZ")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_List(t *testing.T) {
	env := newTestEnv(t, Config{})
	createdOrder(t, env)
	createdOrder(t, env)

	p, err := env.svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageLimit, p.Limit)
	assert.EqualValues(t, 2, p.Total)

	p, err = env.svc.List(context.Background(), ListFilter{Limit: 1000, Status: StatusShipped})
	require.NoError(t, err)
	assert.Equal(t, MaxPageLimit, p.Limit)
	assert.Zero(t, p.Total)

	_, err = env.svc.List(context.Background(), ListFilter{Status: "lost"})
	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
}
