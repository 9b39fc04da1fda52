package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storeadmin/internal/domain/billing"
)

// CreateBilling handles POST /api/billings.
func (h *Handler) CreateBilling(w http.ResponseWriter, r *http.Request) {
	var b billing.Billing
	if err := readObject(w, r, func(d *jx.Decoder, key string) error {
		return decodeBillingField(d, key, &b)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.billings.Create(r.Context(), &b); err != nil {
		writeError(w, r, errors.Wrap(err, "create billing"))
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeBilling(e, &b) })
}

// GetBilling handles GET /api/billings/{id}.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	b, err := h.billings.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeBilling(e, b) })
}
