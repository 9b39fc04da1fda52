package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order validation and persistence.
var (
	ErrEmptyItems          = errors.New("orderItems must contain at least one item")
	ErrBillingRequired     = errors.New("billingId required")
	ErrOrderNotFound       = errors.New("order not found")
	ErrDuplicateIdentifier = errors.New("duplicate order identifier")
	ErrIdentifierExhausted = errors.New("could not generate a unique order identifier")
)

// ProductNotFoundError indicates a line item references an unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// BillingNotFoundError indicates the order references an unknown billing record.
type BillingNotFoundError struct {
	BillingID string
}

func (e *BillingNotFoundError) Error() string {
	return fmt.Sprintf("billing %s not found", e.BillingID)
}

// InvalidTransitionError is returned in strict mode when a status change is
// not allowed by the transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// IdentifierField names which unique identifier collided on insert.
type IdentifierField string

const (
	FieldInvoiceNo     IdentifierField = "invoiceNo"
	FieldMaskedOrderID IdentifierField = "maskedOrderId"
)

// DuplicateIdentifierError reports a unique-index violation on insert.
// It matches ErrDuplicateIdentifier with errors.Is.
type DuplicateIdentifierError struct {
	Field IdentifierField
	Value string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("duplicate %s %q", e.Field, e.Value)
}

// Is makes errors.Is(err, ErrDuplicateIdentifier) hold.
func (e *DuplicateIdentifierError) Is(target error) bool {
	return target == ErrDuplicateIdentifier
}
