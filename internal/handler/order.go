package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storeadmin/internal/domain/auth"
	"github.com/xenking/storeadmin/internal/domain/order"
)

// CreateOrder handles POST /api/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	if err := readObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "billingId" {
			var err error
			req.BillingID, err = decodeOptStr(d)
			return err
		}
		if ok, err := decodeInputField(d, key, &req.Input); ok {
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// Checkout handles POST /api/orders/checkout: billing and order in one step.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req order.CheckoutRequest
	if err := readObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "billing":
			return decodeBilling(d, &req.Billing)
		case "order":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if ok, err := decodeInputField(d, key, &req.Order); ok {
					return err
				}
				return d.Skip()
			})
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListOrders handles GET /api/orders?page=&limit=&status=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.orders.List(r.Context(), order.ListFilter{
		Status: order.Status(r.URL.Query().Get("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range p.Orders {
						encodeOrder(e, &p.Orders[i])
					}
				})
			})
			e.Field("total", func(e *jx.Encoder) { e.Int64(p.Total) })
			e.Field("page", func(e *jx.Encoder) { e.Int(p.Page) })
			e.Field("limit", func(e *jx.Encoder) { e.Int(p.Limit) })
		})
	})
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrderByMaskedID handles GET /api/orders/masked/{maskedId}.
func (h *Handler) GetOrderByMaskedID(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByMaskedID(r.Context(), r.PathValue("maskedId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrder handles PUT /api/orders/{id}. Absent or null fields keep the
// stored values. A status field requires the admin role.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.UpdateRequest
	if err := readObject(w, r, func(d *jx.Decoder, key string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		var err error
		switch key {
		case "billingId":
			var s string
			s, err = d.Str()
			req.BillingID = &s
		case "orderItems":
			req.Items, err = decodeItems(d)
		case "shippingCost":
			req.ShippingCost, err = decodeDecimal(d, key)
		case "discountAmount":
			req.DiscountAmount, err = decodeDecimal(d, key)
		case "paymentMethod":
			var s string
			s, err = d.Str()
			m := order.PaymentMethod(s)
			req.PaymentMethod = &m
		case "status":
			var s string
			s, err = d.Str()
			st := order.Status(s)
			req.Status = &st
		case "notes":
			var s string
			s, err = d.Str()
			req.Notes = &s
		case "orderTime":
			t, _, terr := decodeTime(d, key)
			req.OrderTime, err = &t, terr
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	// Status changes are admin-only, whichever route carries them.
	if req.Status != nil {
		if id, _ := auth.FromContext(r.Context()); !id.IsAdmin() {
			writeError(w, r, errForbidden)
			return
		}
	}

	o, err := h.orders.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrderStatus handles PATCH /api/orders/{id}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	if err := readObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "status" {
			var err error
			status, err = decodeOptStr(d)
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), order.Status(status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// DeleteOrder handles DELETE /api/orders/{id}.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
