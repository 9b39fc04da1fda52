package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storeadmin/internal/domain/billing"
)

// PaymentMethod enumerates how a customer pays for an order.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentOnline       PaymentMethod = "online"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentBankTransfer, PaymentOnline:
		return true
	}
	return false
}

// Order is a priced, persisted customer order. InvoiceNo and MaskedOrderID
// are assigned once before the first insert and never change afterwards.
type Order struct {
	ID             string
	BillingID      string
	Items          []LineItem
	TotalAmount    decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountAmount decimal.Decimal
	CouponCode     string
	PaymentMethod  PaymentMethod
	Status         Status
	InvoiceNo      string
	MaskedOrderID  string
	OrderTime      time.Time
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Billing is populated on reads; it is never written through the order.
	Billing *billing.Billing
}

// Subtotal returns the sum of the stored line-item subtotals.
func (o *Order) Subtotal() decimal.Decimal {
	return sumSubtotals(o.Items)
}

// LineItem is one product, quantity and captured price within an order.
type LineItem struct {
	ProductID string          `json:"productId"`
	SKU       string          `json:"sku,omitempty"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Images    []string        `json:"images"`
}

// ListFilter narrows an order listing.
type ListFilter struct {
	Status Status
	Page   int
	Limit  int
}

// Page is one page of an order listing.
type Page struct {
	Orders []Order
	Total  int64
	Page   int
	Limit  int
}

// Repository defines persistence operations for orders.
//
// Create must return an error wrapping ErrDuplicateIdentifier when the
// insert violates the invoice number or masked order ID uniqueness.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByMaskedID(ctx context.Context, maskedID string) (*Order, error)
	List(ctx context.Context, f ListFilter) (*Page, error)
	InvoiceNoExists(ctx context.Context, invoiceNo string) (bool, error)
	MaskedIDExists(ctx context.Context, maskedID string) (bool, error)
}

// TxRunner runs fn inside a single database transaction. Repositories
// called with the context passed to fn take part in that transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Event is a change notification emitted after an order mutation commits.
type Event struct {
	Type       string
	OrderID    string
	InvoiceNo  string
	MaskedID   string
	Status     Status
	Total      decimal.Decimal
	OccurredAt time.Time
}

// Event types.
const (
	EventCreated       = "order.created"
	EventUpdated       = "order.updated"
	EventStatusChanged = "order.status_changed"
	EventDeleted       = "order.deleted"
)

// Publisher delivers order events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// NopPublisher returns a Publisher that drops every event.
func NopPublisher() Publisher { return nopPublisher{} }
