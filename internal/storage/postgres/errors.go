package postgres

import (
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/storeadmin/internal/domain/order"
)

const codeUniqueViolation = "23505"

// Constraint names from the orders table definition.
var orderIdentifierConstraints = map[string]order.IdentifierField{
	"orders_invoice_no_key":      order.FieldInvoiceNo,
	"orders_masked_order_id_key": order.FieldMaskedOrderID,
}

// asDuplicateIdentifier maps a unique violation on an order identifier to
// *order.DuplicateIdentifierError.
func asDuplicateIdentifier(err error, o *order.Order) (*order.DuplicateIdentifierError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return nil, false
	}
	field, ok := orderIdentifierConstraints[pgErr.ConstraintName]
	if !ok {
		return nil, false
	}

	value := o.InvoiceNo
	if field == order.FieldMaskedOrderID {
		value = o.MaskedOrderID
	}
	return &order.DuplicateIdentifierError{Field: field, Value: value}, true
}
