package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/ogen-go/ogen/validate"
	"go.uber.org/zap"

	"github.com/xenking/storeadmin/internal/domain/billing"
	"github.com/xenking/storeadmin/internal/domain/coupon"
	"github.com/xenking/storeadmin/internal/domain/order"
	"github.com/xenking/storeadmin/internal/domain/product"
)

// decodeError reports a malformed request body or query.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "invalid request: " + e.err.Error() }

func (e *decodeError) Unwrap() error { return e.err }

// errorStatus maps a domain error to its HTTP status and client message.
// Unknown errors are internal and keep their details out of the response.
func errorStatus(err error) (int, string) {
	var (
		decodeErr     *decodeError
		validateErr   *validate.Error
		productErr    *order.ProductNotFoundError
		billingErr    *order.BillingNotFoundError
		transitionErr *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest, decodeErr.Error()
	case errors.As(err, &validateErr):
		return http.StatusBadRequest, "validation failed"
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrBillingRequired):
		return http.StatusBadRequest, err.Error()

	case errors.As(err, &productErr):
		return http.StatusNotFound, productErr.Error()
	case errors.As(err, &billingErr):
		return http.StatusNotFound, billingErr.Error()
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, billing.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponUsageLimitReached):
		return http.StatusUnprocessableEntity, err.Error()

	case errors.As(err, &transitionErr):
		return http.StatusConflict, transitionErr.Error()

	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "admin role required"
	}
	return http.StatusInternalServerError, "internal server error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := errorStatus(err)
	if code == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	var validateErr *validate.Error
	isValidation := errors.As(err, &validateErr)

	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			if isValidation {
				e.Field("fields", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, f := range validateErr.Fields {
							e.Obj(func(e *jx.Encoder) {
								e.Field("name", func(e *jx.Encoder) { e.Str(f.Name) })
								e.Field("error", func(e *jx.Encoder) { e.Str(f.Error.Error()) })
							})
						}
					})
				})
			}
		})
	})
}
