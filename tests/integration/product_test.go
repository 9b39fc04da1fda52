//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGetWithAuth(t, "/api/products", testAPIKey)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != 9 {
		t.Fatalf("expected 9 products, got %d", len(products))
	}
}

func TestListProducts_NoAuth(t *testing.T) {
	resp := doGet(t, "/api/products")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestListProducts_Fields(t *testing.T) {
	resp := doGetWithAuth(t, "/api/products", testAPIKey)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	products := decodeJSON[[]productResponse](t, resp)

	var waffle, macaron *productResponse
	for i := range products {
		switch products[i].ID {
		case "1":
			waffle = &products[i]
		case "3":
			macaron = &products[i]
		}
	}

	if waffle == nil || macaron == nil {
		t.Fatal("seeded products 1 and 3 not found")
	}
	if waffle.Name != "Waffle with Berries" {
		t.Errorf("name: got %q, want %q", waffle.Name, "Waffle with Berries")
	}
	if waffle.SKU != "WAF-BER" {
		t.Errorf("sku: got %q, want %q", waffle.SKU, "WAF-BER")
	}
	if waffle.SalesPrice.String() != "6.50" {
		t.Errorf("salesPrice: got %v, want 6.50", waffle.SalesPrice)
	}
	if len(waffle.Images) != 2 {
		t.Errorf("images: got %d, want 2", len(waffle.Images))
	}
	// The single image field is folded into the gallery.
	if len(macaron.Images) != 1 || !strings.HasSuffix(macaron.Images[0], "products/macaron.jpg") {
		t.Errorf("macaron images: got %v", macaron.Images)
	}
}

func TestGetProduct(t *testing.T) {
	resp := doGetWithAuth(t, "/api/products/1", testAPIKey)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	product := decodeJSON[productResponse](t, resp)
	if product.ID != "1" {
		t.Errorf("id: got %q, want %q", product.ID, "1")
	}
	if product.Name != "Waffle with Berries" {
		t.Errorf("name: got %q, want %q", product.Name, "Waffle with Berries")
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	resp := doGetWithAuth(t, "/api/products/999", testAPIKey)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)

	errResp := decodeJSON[errorResponse](t, resp)
	if errResp.Code != 404 {
		t.Errorf("error code: got %d, want 404", errResp.Code)
	}
}
