package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storeadmin/internal/domain/billing"
	"github.com/xenking/storeadmin/internal/domain/order"
	"github.com/xenking/storeadmin/internal/domain/product"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, f func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	f(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

// readObject decodes the request body as a JSON object, calling f for
// every key.
func readObject(w http.ResponseWriter, r *http.Request, f func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &decodeError{err: errors.Wrap(err, "read body")}
	}
	if len(body) == 0 {
		return &decodeError{err: errors.New("empty body")}
	}
	if err := jx.DecodeBytes(body).Obj(f); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string. Null leaves the
// value unset.
func decodeDecimal(d *jx.Decoder, field string) (decimal.NullDecimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return decimal.NullDecimal{}, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = n.String()
	default:
		return decimal.NullDecimal{}, errors.Errorf("%s: expected number", field)
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, errors.Errorf("%s: invalid number %q", field, raw)
	}
	return decimal.NewNullDecimal(v), nil
}

// decodeTime accepts RFC 3339 timestamps and plain dates.
func decodeTime(d *jx.Decoder, field string) (time.Time, bool, error) {
	if d.Next() == jx.Null {
		return time.Time{}, false, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return time.Time{}, false, err
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, errors.Errorf("%s: invalid time %q", field, s)
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func decodeItems(d *jx.Decoder) ([]order.ItemRequest, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	items := []order.ItemRequest{}
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.ItemRequest
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				it.ProductID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "unitPrice":
				it.UnitPrice, err = decodeDecimal(d, "unitPrice")
			case "images":
				it.Images, err = decodeStrings(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

// decodeInputField decodes one key of an order body into in. It reports
// false for keys that are not part of order.Input.
func decodeInputField(d *jx.Decoder, key string, in *order.Input) (bool, error) {
	var err error
	switch key {
	case "orderItems":
		in.Items, err = decodeItems(d)
	case "shippingCost":
		in.ShippingCost, err = decodeDecimal(d, key)
	case "discountAmount":
		in.DiscountAmount, err = decodeDecimal(d, key)
	case "couponCode":
		in.CouponCode, err = decodeOptStr(d)
	case "paymentMethod":
		var s string
		s, err = decodeOptStr(d)
		in.PaymentMethod = order.PaymentMethod(s)
	case "status":
		var s string
		s, err = decodeOptStr(d)
		in.Status = order.Status(s)
	case "notes":
		in.Notes, err = decodeOptStr(d)
	case "orderTime":
		in.OrderTime, _, err = decodeTime(d, key)
	default:
		return false, nil
	}
	return true, err
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeBilling(d *jx.Decoder, b *billing.Billing) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		return decodeBillingField(d, key, b)
	})
}

func decodeBillingField(d *jx.Decoder, key string, b *billing.Billing) error {
	var err error
	switch key {
	case "customerName":
		b.CustomerName, err = decodeOptStr(d)
	case "email":
		b.Email, err = decodeOptStr(d)
	case "phone":
		b.Phone, err = decodeOptStr(d)
	case "address":
		b.Address, err = decodeOptStr(d)
	case "city":
		b.City, err = decodeOptStr(d)
	case "country":
		b.Country, err = decodeOptStr(d)
	case "postalCode":
		b.PostalCode, err = decodeOptStr(d)
	default:
		err = d.Skip()
	}
	return err
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &decodeError{err: errors.Errorf("%s must be a non-negative integer", name)}
	}
	return n, nil
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeStrings(e *jx.Encoder, vs []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, v := range vs {
			e.Str(v)
		}
	})
}

func encodeBilling(e *jx.Encoder, b *billing.Billing) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(b.ID) })
		e.Field("customerName", func(e *jx.Encoder) { e.Str(b.CustomerName) })
		e.Field("email", func(e *jx.Encoder) { e.Str(b.Email) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(b.Phone) })
		e.Field("address", func(e *jx.Encoder) { e.Str(b.Address) })
		e.Field("city", func(e *jx.Encoder) { e.Str(b.City) })
		e.Field("country", func(e *jx.Encoder) { e.Str(b.Country) })
		e.Field("postalCode", func(e *jx.Encoder) { e.Str(b.PostalCode) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, b.CreatedAt) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("invoiceNo", func(e *jx.Encoder) { e.Str(o.InvoiceNo) })
		e.Field("maskedOrderId", func(e *jx.Encoder) { e.Str(o.MaskedOrderID) })
		e.Field("billingId", func(e *jx.Encoder) { e.Str(o.BillingID) })
		if o.Billing != nil {
			e.Field("billing", func(e *jx.Encoder) { encodeBilling(e, o.Billing) })
		}
		e.Field("orderItems", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(it.SKU) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { encodeMoney(e, it.UnitPrice) })
						e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, it.Subtotal) })
						e.Field("images", func(e *jx.Encoder) { encodeStrings(e, it.Images) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Subtotal()) })
		e.Field("shippingCost", func(e *jx.Encoder) { encodeMoney(e, o.ShippingCost) })
		e.Field("discountAmount", func(e *jx.Encoder) { encodeMoney(e, o.DiscountAmount) })
		e.Field("totalAmount", func(e *jx.Encoder) { encodeMoney(e, o.TotalAmount) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
		e.Field("orderTime", func(e *jx.Encoder) { encodeTime(e, o.OrderTime) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	})
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("sku", func(e *jx.Encoder) { e.Str(p.SKU) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("salesPrice", func(e *jx.Encoder) { encodeMoney(e, p.SalesPrice) })
		e.Field("images", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, img := range p.Gallery() {
					e.Str(h.imageURL(img))
				}
			})
		})
	})
}

// imageURL prefixes relative image paths with the configured base URL.
func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
