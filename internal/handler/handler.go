// Package handler serves the administration REST API under /api.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/storeadmin/internal/domain/auth"
	"github.com/xenking/storeadmin/internal/domain/billing"
	"github.com/xenking/storeadmin/internal/domain/order"
	"github.com/xenking/storeadmin/internal/domain/product"
)

// OrderService is the order use case surface the API exposes.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
	Update(ctx context.Context, id string, req order.UpdateRequest) (*order.Order, error)
	UpdateStatus(ctx context.Context, id string, status order.Status) (*order.Order, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*order.Order, error)
	GetByMaskedID(ctx context.Context, maskedID string) (*order.Order, error)
	List(ctx context.Context, f order.ListFilter) (*order.Page, error)
}

// StatsService computes the sales dashboard.
type StatsService interface {
	Get(ctx context.Context, q order.StatsQuery) (*order.Stats, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler implements the HTTP endpoints on top of the domain services.
type Handler struct {
	orders   OrderService
	stats    StatsService
	billings billing.Repository
	products product.Repository

	imageBaseURL string
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	orders OrderService,
	stats StatsService,
	billings billing.Repository,
	products product.Repository,
) *Handler {
	return &Handler{
		orders:       orders,
		stats:        stats,
		billings:     billings,
		products:     products,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register mounts every API route on mux. Each route requires an
// authenticated caller; destructive order operations require the admin role.
func (h *Handler) Register(mux *http.ServeMux, sec *Security) {
	staff := func(fn http.HandlerFunc) http.Handler { return sec.Require(auth.RoleStaff, fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return sec.Require(auth.RoleAdmin, fn) }

	mux.Handle("POST /api/orders", staff(h.CreateOrder))
	mux.Handle("POST /api/orders/checkout", staff(h.Checkout))
	mux.Handle("GET /api/orders", staff(h.ListOrders))
	mux.Handle("GET /api/orders/stats", staff(h.Stats))
	mux.Handle("GET /api/orders/masked/{maskedId}", staff(h.GetOrderByMaskedID))
	mux.Handle("GET /api/orders/{id}", staff(h.GetOrder))
	mux.Handle("PUT /api/orders/{id}", staff(h.UpdateOrder))
	mux.Handle("PATCH /api/orders/{id}/status", admin(h.UpdateOrderStatus))
	mux.Handle("DELETE /api/orders/{id}", admin(h.DeleteOrder))

	mux.Handle("POST /api/billings", staff(h.CreateBilling))
	mux.Handle("GET /api/billings/{id}", staff(h.GetBilling))

	mux.Handle("GET /api/products", staff(h.ListProducts))
	mux.Handle("GET /api/products/{id}", staff(h.GetProduct))
}
