// Package billing holds the customer billing records that orders point to.
package billing

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/ogen-go/ogen/validate"
)

// ErrNotFound is returned when a billing record does not exist.
var ErrNotFound = errors.New("billing not found")

// Billing is the customer contact and address captured at checkout.
type Billing struct {
	ID           string
	CustomerName string
	Email        string
	Phone        string
	Address      string
	City         string
	Country      string
	PostalCode   string
	CreatedAt    time.Time
}

// Validate checks the fields an order needs to be shippable.
func (b *Billing) Validate() error {
	var fields []validate.FieldError
	require := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			fields = append(fields, validate.FieldError{Name: name, Error: validate.ErrFieldRequired})
		}
	}
	require("customerName", b.CustomerName)
	require("email", b.Email)
	require("address", b.Address)

	if b.Email != "" {
		if _, err := mail.ParseAddress(b.Email); err != nil {
			fields = append(fields, validate.FieldError{Name: "email", Error: errors.New("invalid email address")})
		}
	}

	if len(fields) > 0 {
		return &validate.Error{Fields: fields}
	}
	return nil
}

// Repository defines persistence operations for billing records.
type Repository interface {
	Create(ctx context.Context, b *Billing) error
	GetByID(ctx context.Context, id string) (*Billing, error)
}
