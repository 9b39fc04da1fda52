package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storeadmin/internal/domain/order"
)

// Stats handles GET /api/orders/stats?days=&top=.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, r, err)
		return
	}
	top, err := queryInt(r, "top")
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.stats.Get(r.Context(), order.StatsQuery{Days: days, Top: top})
	if err != nil {
		writeError(w, r, err)
		return
	}

	revenue := func(e *jx.Encoder, v order.Revenue) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) { e.Int64(v.Orders) })
			e.Field("amount", func(e *jx.Encoder) { encodeMoney(e, v.Amount) })
		})
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("totalOrders", func(e *jx.Encoder) { e.Int64(s.TotalOrders) })
			e.Field("byStatus", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, st := range order.Statuses {
						e.Field(string(st), func(e *jx.Encoder) { e.Int64(s.ByStatus[st]) })
					}
				})
			})
			e.Field("revenue", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("allTime", func(e *jx.Encoder) { revenue(e, s.AllTime) })
					e.Field("today", func(e *jx.Encoder) { revenue(e, s.Today) })
					e.Field("thisMonth", func(e *jx.Encoder) { revenue(e, s.ThisMonth) })
				})
			})
			e.Field("daily", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, d := range s.Daily {
						e.Obj(func(e *jx.Encoder) {
							e.Field("date", func(e *jx.Encoder) { e.Str(d.Day.Format(time.DateOnly)) })
							e.Field("orders", func(e *jx.Encoder) { e.Int64(d.Orders) })
							e.Field("revenue", func(e *jx.Encoder) { encodeMoney(e, d.Revenue) })
						})
					}
				})
			})
			e.Field("bestSellers", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, p := range s.BestSellers {
						e.Obj(func(e *jx.Encoder) {
							e.Field("productId", func(e *jx.Encoder) { e.Str(p.ProductID) })
							e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int64(p.Quantity) })
							e.Field("revenue", func(e *jx.Encoder) { encodeMoney(e, p.Revenue) })
						})
					}
				})
			})
		})
	})
}
