package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/storeadmin/internal/domain/coupon"
	"github.com/xenking/storeadmin/internal/domain/product"
)

// seedFile is the document read by seed-db. Prices are strings so the
// same shape decodes from JSON and YAML without float rounding.
type seedFile struct {
	Products []productSeed `json:"products" yaml:"products"`
	Coupons  []couponSeed  `json:"coupons" yaml:"coupons"`
}

type productSeed struct {
	ID         string   `json:"id" yaml:"id"`
	SKU        string   `json:"sku" yaml:"sku"`
	Name       string   `json:"name" yaml:"name"`
	SalesPrice string   `json:"salesPrice" yaml:"salesPrice"`
	Images     []string `json:"images" yaml:"images"`
	Image      string   `json:"image" yaml:"image"`
}

type couponSeed struct {
	Code         string `json:"code" yaml:"code"`
	DiscountType string `json:"discountType" yaml:"discountType"`
	Value        string `json:"value" yaml:"value"`
	MinItems     int    `json:"minItems" yaml:"minItems"`
	Description  string `json:"description" yaml:"description"`
	ValidFrom    string `json:"validFrom" yaml:"validFrom"`
	ValidUntil   string `json:"validUntil" yaml:"validUntil"`
	MaxUses      int    `json:"maxUses" yaml:"maxUses"`
	MaxDiscount  string `json:"maxDiscount" yaml:"maxDiscount"`
}

// readSeedFile loads path. ".gz" files are decompressed first; the
// remaining extension selects JSON or YAML.
func readSeedFile(path string) (*seedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	name := path
	var r io.Reader = f
	if strings.HasSuffix(name, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
		name = strings.TrimSuffix(name, ".gz")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	return decodeSeed(filepath.Ext(name), data)
}

func decodeSeed(ext string, data []byte) (*seedFile, error) {
	var sf seedFile
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, errors.Wrap(err, "parse yaml")
		}
	case ".json":
		// A bare array is a product list.
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &sf.Products); err != nil {
				return nil, errors.Wrap(err, "parse json")
			}
			break
		}
		if err := json.Unmarshal(data, &sf); err != nil {
			return nil, errors.Wrap(err, "parse json")
		}
	default:
		return nil, errors.Errorf("unsupported seed file extension %q", ext)
	}
	return &sf, nil
}

func (p productSeed) toProduct() (product.Product, error) {
	if p.ID == "" || p.Name == "" {
		return product.Product{}, errors.New("id and name are required")
	}
	price, err := decimal.NewFromString(p.SalesPrice)
	if err != nil {
		return product.Product{}, errors.Wrapf(err, "product %s: salesPrice", p.ID)
	}
	if price.IsNegative() {
		return product.Product{}, errors.Errorf("product %s: negative salesPrice", p.ID)
	}
	return product.Product{
		ID:         p.ID,
		SKU:        p.SKU,
		Name:       p.Name,
		SalesPrice: price,
		Images:     p.Images,
		Image:      p.Image,
	}, nil
}

func (c couponSeed) toRule() (coupon.Rule, error) {
	rule := coupon.Rule{
		Code:         coupon.NormalizeCode(c.Code),
		DiscountType: coupon.DiscountType(c.DiscountType),
		MinItems:     c.MinItems,
		Description:  c.Description,
		MaxUses:      c.MaxUses,
		Value:        decimal.Zero,
		MaxDiscount:  decimal.Zero,
	}
	if rule.Code == "" {
		return coupon.Rule{}, errors.New("coupon code is required")
	}
	if !rule.DiscountType.Valid() {
		return coupon.Rule{}, errors.Errorf("coupon %s: unknown discount type %q", rule.Code, c.DiscountType)
	}

	var err error
	if c.Value != "" {
		if rule.Value, err = decimal.NewFromString(c.Value); err != nil {
			return coupon.Rule{}, errors.Wrapf(err, "coupon %s: value", rule.Code)
		}
	}
	if c.MaxDiscount != "" {
		if rule.MaxDiscount, err = decimal.NewFromString(c.MaxDiscount); err != nil {
			return coupon.Rule{}, errors.Wrapf(err, "coupon %s: maxDiscount", rule.Code)
		}
	}
	if rule.ValidFrom, err = parseOptTime(c.ValidFrom); err != nil {
		return coupon.Rule{}, errors.Wrapf(err, "coupon %s: validFrom", rule.Code)
	}
	if rule.ValidUntil, err = parseOptTime(c.ValidUntil); err != nil {
		return coupon.Rule{}, errors.Wrapf(err, "coupon %s: validUntil", rule.Code)
	}
	return rule, nil
}

func parseOptTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
