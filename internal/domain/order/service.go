package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/ogen-go/ogen/validate"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storeadmin/internal/domain/billing"
	"github.com/xenking/storeadmin/internal/domain/coupon"
	"github.com/xenking/storeadmin/internal/domain/product"
)

const (
	defaultInsertAttempts = 5

	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Config tunes the order Service. Zero values select the defaults.
type Config struct {
	// StrictStatus enables the transition table for status changes.
	// Otherwise any status may follow any other.
	StrictStatus bool
	// IdentifierAttempts bounds candidates per identifier (default 10).
	IdentifierAttempts int
	// InsertAttempts bounds assign+insert cycles on unique violations
	// (default 5).
	InsertAttempts int

	Identifiers    *IdentifierGenerator
	Publisher      Publisher
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service implements order use cases on top of the domain repositories.
type Service struct {
	products product.Repository
	billings billing.Repository
	coupons  coupon.Redeemer
	orders   Repository
	tx       TxRunner

	ids       *IdentifierGenerator
	publisher Publisher
	cfg       Config
	now       func() time.Time

	tracer     trace.Tracer
	created    metric.Int64Counter
	collisions metric.Int64Counter
	retries    metric.Int64Counter
}

// NewService creates an order Service.
func NewService(
	products product.Repository,
	billings billing.Repository,
	coupons coupon.Redeemer,
	orders Repository,
	tx TxRunner,
	cfg Config,
) (*Service, error) {
	if cfg.InsertAttempts <= 0 {
		cfg.InsertAttempts = defaultInsertAttempts
	}
	if cfg.Publisher == nil {
		cfg.Publisher = NopPublisher()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	ids := cfg.Identifiers
	if ids == nil {
		ids = NewIdentifierGenerator(cfg.IdentifierAttempts)
	}

	s := &Service{
		products:  products,
		billings:  billings,
		coupons:   coupons,
		orders:    orders,
		tx:        tx,
		ids:       ids,
		publisher: cfg.Publisher,
		cfg:       cfg,
		now:       time.Now,
		tracer:    cfg.TracerProvider.Tracer("storeadmin/order"),
	}

	meter := cfg.MeterProvider.Meter("storeadmin/order")
	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders persisted"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if s.collisions, err = meter.Int64Counter("orders.identifier.collisions",
		metric.WithDescription("Identifier candidates rejected as already taken"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.identifier.collisions")
	}
	if s.retries, err = meter.Int64Counter("orders.insert.retries",
		metric.WithDescription("Order inserts retried after a unique violation"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.insert.retries")
	}

	ids.OnCollision = func(ctx context.Context, field IdentifierField) {
		s.collisions.Add(ctx, 1, metric.WithAttributes(attribute.String("field", string(field))))
	}

	return s, nil
}

// Input is the order part of a create or checkout request.
type Input struct {
	Items []ItemRequest
	// ShippingCost defaults to zero.
	ShippingCost decimal.NullDecimal
	// DiscountAmount, when set, is used as is and CouponCode is ignored.
	DiscountAmount decimal.NullDecimal
	CouponCode     string
	// PaymentMethod defaults to cash, Status to pending.
	PaymentMethod PaymentMethod
	Status        Status
	Notes         string
	// OrderTime defaults to the creation time.
	OrderTime time.Time
}

func (in *Input) validate() error {
	if len(in.Items) == 0 {
		return ErrEmptyItems
	}

	var fields []validate.FieldError
	add := func(name string, err error) {
		fields = append(fields, validate.FieldError{Name: name, Error: err})
	}
	fields = appendItemErrors(fields, in.Items)
	if err := checkMoney(in.ShippingCost); err != nil {
		add("shippingCost", err)
	}
	if err := checkMoney(in.DiscountAmount); err != nil {
		add("discountAmount", err)
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Valid() {
		add("paymentMethod", errors.Errorf("unknown payment method %q", in.PaymentMethod))
	}
	if in.Status != "" && !in.Status.Valid() {
		add("status", errors.Errorf("unknown status %q", in.Status))
	}

	if len(fields) > 0 {
		return &validate.Error{Fields: fields}
	}
	return nil
}

var (
	errMustNotBeNegative = errors.New("must not be negative")
	errMustBePositive    = errors.New("must be greater than 0")
	errTooManyDecimals   = errors.New("must have at most 2 decimal places")
	errOutOfRange        = errors.New("must be less than 10000000000")
)

// maxMoney bounds every stored amount (NUMERIC(12, 2)).
var maxMoney = decimal.New(1, 10)

// checkMoney validates an optional non-negative amount in cents.
func checkMoney(v decimal.NullDecimal) error {
	switch {
	case !v.Valid:
		return nil
	case v.Decimal.IsNegative():
		return errMustNotBeNegative
	case !v.Decimal.Equal(v.Decimal.Truncate(2)):
		return errTooManyDecimals
	case v.Decimal.GreaterThanOrEqual(maxMoney):
		return errOutOfRange
	}
	return nil
}

func appendItemErrors(fields []validate.FieldError, items []ItemRequest) []validate.FieldError {
	for i, it := range items {
		if it.ProductID == "" {
			fields = append(fields, validate.FieldError{
				Name:  fmt.Sprintf("orderItems[%d].productId", i),
				Error: validate.ErrFieldRequired,
			})
		}
		if it.Quantity <= 0 {
			fields = append(fields, validate.FieldError{
				Name:  fmt.Sprintf("orderItems[%d].quantity", i),
				Error: errMustBePositive,
			})
		}
		if err := checkMoney(it.UnitPrice); err != nil {
			fields = append(fields, validate.FieldError{
				Name:  fmt.Sprintf("orderItems[%d].unitPrice", i),
				Error: err,
			})
		}
	}
	return fields
}

// CreateRequest creates an order for an existing billing record.
type CreateRequest struct {
	BillingID string
	Input
}

// CheckoutRequest creates a billing record and its order together.
type CheckoutRequest struct {
	Billing billing.Billing
	Order   Input
}

// Create prices the items, applies shipping and discount, assigns the
// invoice number and masked order ID and persists the order.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer func() { endSpan(span, rerr) }()

	if req.BillingID == "" {
		return nil, ErrBillingRequired
	}
	if err := req.Input.validate(); err != nil {
		return nil, err
	}

	var o *Order
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.billings.GetByID(ctx, req.BillingID)
		if err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				return &BillingNotFoundError{BillingID: req.BillingID}
			}
			return errors.Wrap(err, "get billing")
		}

		if o, err = s.build(ctx, b.ID, req.Input); err != nil {
			return err
		}
		if err := s.insert(ctx, o); err != nil {
			return err
		}
		o.Billing = b
		return nil
	}); err != nil {
		return nil, err
	}

	s.afterCreate(ctx, o)
	return o, nil
}

// Checkout stores the billing record and the order in one transaction, so
// a failed order leaves no billing behind.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout")
	defer func() { endSpan(span, rerr) }()

	if err := mergeValidation(req.Billing.Validate(), "billing.", req.Order.validate()); err != nil {
		return nil, err
	}

	var o *Order
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b := req.Billing
		b.ID = ""
		b.CreatedAt = s.now()
		if err := s.billings.Create(ctx, &b); err != nil {
			return errors.Wrap(err, "create billing")
		}

		var err error
		if o, err = s.build(ctx, b.ID, req.Order); err != nil {
			return err
		}
		if err := s.insert(ctx, o); err != nil {
			return err
		}
		o.Billing = &b
		return nil
	}); err != nil {
		return nil, err
	}

	s.afterCreate(ctx, o)
	return o, nil
}

// mergeValidation combines billing and order validation results. Billing
// field names get prefix. Non-field errors from the order win.
func mergeValidation(billingErr error, prefix string, orderErr error) error {
	var orderFields []validate.FieldError
	if orderErr != nil {
		var ve *validate.Error
		if !errors.As(orderErr, &ve) {
			return orderErr
		}
		orderFields = ve.Fields
	}

	var fields []validate.FieldError
	if billingErr != nil {
		var ve *validate.Error
		if !errors.As(billingErr, &ve) {
			return billingErr
		}
		for _, f := range ve.Fields {
			f.Name = prefix + f.Name
			fields = append(fields, f)
		}
	}
	fields = append(fields, orderFields...)

	if len(fields) > 0 {
		return &validate.Error{Fields: fields}
	}
	return nil
}

func (s *Service) build(ctx context.Context, billingID string, in Input) (*Order, error) {
	priced, err := PriceItems(ctx, s.products, in.Items)
	if err != nil {
		return nil, err
	}

	shipping := decimal.Zero
	if in.ShippingCost.Valid {
		shipping = in.ShippingCost.Decimal
	}
	discount, couponCode, err := s.resolveDiscount(ctx, in, priced.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:             uuid.NewString(),
		BillingID:      billingID,
		Items:          priced.Items,
		ShippingCost:   shipping,
		DiscountAmount: discount,
		CouponCode:     couponCode,
		PaymentMethod:  in.PaymentMethod,
		Status:         in.Status,
		OrderTime:      in.OrderTime,
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if o.PaymentMethod == "" {
		o.PaymentMethod = PaymentCash
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.OrderTime.IsZero() {
		o.OrderTime = now
	}
	if err := s.setTotal(ctx, o, priced.Subtotal); err != nil {
		return nil, err
	}

	return o, nil
}

func (s *Service) resolveDiscount(ctx context.Context, in Input, items []LineItem) (decimal.Decimal, string, error) {
	if in.DiscountAmount.Valid {
		return in.DiscountAmount.Decimal, "", nil
	}
	if coupon.NormalizeCode(in.CouponCode) == "" {
		return decimal.Zero, "", nil
	}

	cartItems := make([]coupon.Item, len(items))
	for i, it := range items {
		cartItems[i] = coupon.Item{ProductID: it.ProductID, Price: it.UnitPrice, Quantity: it.Quantity}
	}
	d, err := s.coupons.Redeem(ctx, in.CouponCode, cartItems)
	if err != nil {
		return decimal.Zero, "", errors.Wrap(err, "redeem coupon")
	}
	return d.Amount, d.Code, nil
}

// setTotal fails when the subtotal or total does not fit the stored amount
// columns.
func (s *Service) setTotal(ctx context.Context, o *Order, subtotal decimal.Decimal) error {
	o.TotalAmount = Total(subtotal, o.ShippingCost, o.DiscountAmount)
	var fields []validate.FieldError
	if subtotal.Abs().GreaterThanOrEqual(maxMoney) {
		fields = append(fields, validate.FieldError{Name: "subtotal", Error: errOutOfRange})
	}
	if o.TotalAmount.Abs().GreaterThanOrEqual(maxMoney) {
		fields = append(fields, validate.FieldError{Name: "totalAmount", Error: errOutOfRange})
	}
	if len(fields) > 0 {
		return &validate.Error{Fields: fields}
	}

	if o.TotalAmount.IsNegative() {
		zctx.From(ctx).Warn("Order total is negative",
			zap.String("order_id", o.ID),
			zap.Stringer("subtotal", subtotal),
			zap.Stringer("shipping", o.ShippingCost),
			zap.Stringer("discount", o.DiscountAmount),
			zap.Stringer("total", o.TotalAmount),
		)
	}
	return nil
}

// insert assigns identifiers and stores o. A unique violation clears the
// identifier that collided and runs the cycle again, up to InsertAttempts.
// Each attempt runs in its own (nested) transaction so a failed insert does
// not abort the enclosing one.
func (s *Service) insert(ctx context.Context, o *Order) error {
	for attempt := 1; ; attempt++ {
		if err := s.ids.Assign(ctx, o, s.orders); err != nil {
			return errors.Wrap(err, "assign identifiers")
		}

		err := s.tx.InTx(ctx, func(ctx context.Context) error {
			return s.orders.Create(ctx, o)
		})
		if err == nil {
			return nil
		}

		var dup *DuplicateIdentifierError
		if !errors.As(err, &dup) || attempt >= s.cfg.InsertAttempts {
			return errors.Wrap(err, "create order")
		}

		s.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("field", string(dup.Field))))
		zctx.From(ctx).Warn("Order identifier taken on insert, retrying",
			zap.String("field", string(dup.Field)),
			zap.String("value", dup.Value),
			zap.Int("attempt", attempt),
		)
		switch dup.Field {
		case FieldInvoiceNo:
			o.InvoiceNo = ""
		case FieldMaskedOrderID:
			o.MaskedOrderID = ""
		default:
			o.InvoiceNo, o.MaskedOrderID = "", ""
		}
	}
}

func (s *Service) afterCreate(ctx context.Context, o *Order) {
	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(o.PaymentMethod))))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("invoice_no", o.InvoiceNo),
		zap.String("masked_order_id", o.MaskedOrderID),
		zap.Stringer("total", o.TotalAmount),
	)
	s.publish(ctx, EventCreated, o)
}

// UpdateRequest is a partial order update. Nil fields and invalid
// NullDecimals keep the stored value. A non-nil Items replaces every line.
type UpdateRequest struct {
	BillingID      *string
	Items          []ItemRequest
	ShippingCost   decimal.NullDecimal
	DiscountAmount decimal.NullDecimal
	PaymentMethod  *PaymentMethod
	Status         *Status
	Notes          *string
	OrderTime      *time.Time
}

func (r *UpdateRequest) validate() error {
	if r.Items != nil && len(r.Items) == 0 {
		return ErrEmptyItems
	}
	if r.BillingID != nil && *r.BillingID == "" {
		return ErrBillingRequired
	}

	fields := appendItemErrors(nil, r.Items)
	if err := checkMoney(r.ShippingCost); err != nil {
		fields = append(fields, validate.FieldError{Name: "shippingCost", Error: err})
	}
	if err := checkMoney(r.DiscountAmount); err != nil {
		fields = append(fields, validate.FieldError{Name: "discountAmount", Error: err})
	}
	if r.PaymentMethod != nil && !r.PaymentMethod.Valid() {
		fields = append(fields, validate.FieldError{
			Name:  "paymentMethod",
			Error: errors.Errorf("unknown payment method %q", *r.PaymentMethod),
		})
	}
	if r.Status != nil && !r.Status.Valid() {
		fields = append(fields, validate.FieldError{
			Name:  "status",
			Error: errors.Errorf("unknown status %q", *r.Status),
		})
	}

	if len(fields) > 0 {
		return &validate.Error{Fields: fields}
	}
	return nil
}

// Update applies a partial update and recomputes the total from the stored
// or replaced line items, shipping and discount. Identifiers never change.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var o *Order
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.GetByID(ctx, id); err != nil {
			return err
		}

		if req.BillingID != nil && *req.BillingID != o.BillingID {
			if _, err := s.billings.GetByID(ctx, *req.BillingID); err != nil {
				if errors.Is(err, billing.ErrNotFound) {
					return &BillingNotFoundError{BillingID: *req.BillingID}
				}
				return errors.Wrap(err, "get billing")
			}
			o.BillingID = *req.BillingID
		}
		if req.Status != nil {
			if err := s.checkTransition(o.Status, *req.Status); err != nil {
				return err
			}
			o.Status = *req.Status
		}

		subtotal := o.Subtotal()
		if req.Items != nil {
			priced, err := PriceItems(ctx, s.products, req.Items)
			if err != nil {
				return err
			}
			o.Items = priced.Items
			subtotal = priced.Subtotal
		}
		if req.ShippingCost.Valid {
			o.ShippingCost = req.ShippingCost.Decimal
		}
		if req.DiscountAmount.Valid {
			o.DiscountAmount = req.DiscountAmount.Decimal
		}
		if req.PaymentMethod != nil {
			o.PaymentMethod = *req.PaymentMethod
		}
		if req.Notes != nil {
			o.Notes = *req.Notes
		}
		if req.OrderTime != nil {
			o.OrderTime = *req.OrderTime
		}
		if err := s.setTotal(ctx, o, subtotal); err != nil {
			return err
		}
		o.UpdatedAt = s.now()

		return s.orders.Update(ctx, o)
	}); err != nil {
		return nil, err
	}

	s.attachBilling(ctx, o)
	s.publish(ctx, EventUpdated, o)
	return o, nil
}

// UpdateStatus moves an order to status. In strict mode the change must be
// allowed by the transition table.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, &validate.Error{Fields: []validate.FieldError{{
			Name:  "status",
			Error: errors.Errorf("unknown status %q", status),
		}}}
	}

	var o *Order
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.checkTransition(o.Status, status); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		o.Status = status
		o.UpdatedAt = s.now()
		return nil
	}); err != nil {
		return nil, err
	}

	s.attachBilling(ctx, o)
	s.publish(ctx, EventStatusChanged, o)
	return o, nil
}

func (s *Service) checkTransition(from, to Status) error {
	if s.cfg.StrictStatus && !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Delete removes an order permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	var o *Order
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.GetByID(ctx, id); err != nil {
			return err
		}
		return s.orders.Delete(ctx, id)
	}); err != nil {
		return err
	}

	zctx.From(ctx).Info("Order deleted", zap.String("order_id", id), zap.String("invoice_no", o.InvoiceNo))
	s.publish(ctx, EventDeleted, o)
	return nil
}

// Get returns an order with its billing record.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attachBilling(ctx, o)
	return o, nil
}

// GetByMaskedID returns an order by its customer-facing masked ID.
func (s *Service) GetByMaskedID(ctx context.Context, maskedID string) (*Order, error) {
	o, err := s.orders.GetByMaskedID(ctx, maskedID)
	if err != nil {
		return nil, err
	}
	s.attachBilling(ctx, o)
	return o, nil
}

// List returns one page of orders, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &validate.Error{Fields: []validate.FieldError{{
			Name:  "status",
			Error: errors.Errorf("unknown status %q", f.Status),
		}}}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageLimit
	case f.Limit > MaxPageLimit:
		f.Limit = MaxPageLimit
	}

	p, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return p, nil
}

func (s *Service) attachBilling(ctx context.Context, o *Order) {
	if o.Billing != nil || o.BillingID == "" {
		return
	}
	b, err := s.billings.GetByID(ctx, o.BillingID)
	if err != nil {
		zctx.From(ctx).Warn("Load order billing", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	o.Billing = b
}

func (s *Service) publish(ctx context.Context, typ string, o *Order) {
	evt := Event{
		Type:       typ,
		OrderID:    o.ID,
		InvoiceNo:  o.InvoiceNo,
		MaskedID:   o.MaskedOrderID,
		Status:     o.Status,
		Total:      o.TotalAmount,
		OccurredAt: s.now().UTC(),
	}
	// The order is committed; the event must not depend on the caller staying.
	if err := s.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", typ),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
