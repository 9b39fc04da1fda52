// Package redis provides a cache-aside layer for catalog reads.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storeadmin/internal/domain/product"
)

const keyPrefix = "storeadmin:product:"

// Client is the subset of redis.Cmdable the cache uses.
type Client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ product.Repository = (*ProductCache)(nil)

// ProductCache wraps a product.Repository with cache-aside lookups by ID.
// Redis failures are logged and the call falls through to the wrapped
// repository, so the cache never makes a read fail.
type ProductCache struct {
	product.Repository
	rdb Client
	ttl time.Duration
}

// NewProductCache returns a ProductCache storing snapshots for ttl.
func NewProductCache(next product.Repository, rdb Client, ttl time.Duration) *ProductCache {
	return &ProductCache{Repository: next, rdb: rdb, ttl: ttl}
}

// GetByID returns a cached product or loads and caches it.
func (c *ProductCache) GetByID(ctx context.Context, id string) (*product.Product, error) {
	cached, _ := c.get(ctx, []string{id})
	if p, ok := cached[id]; ok {
		return &p, nil
	}

	p, err := c.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(ctx, []product.Product{*p})
	return p, nil
}

// GetByIDs serves what it can from Redis and loads the rest in one call to
// the wrapped repository. Results follow the order of ids; unknown ids are
// skipped.
func (c *ProductCache) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	cached, missing := c.get(ctx, ids)
	if len(missing) > 0 {
		loaded, err := c.Repository.GetByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		c.put(ctx, loaded)
		for _, p := range loaded {
			cached[p.ID] = p
		}
	}

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := cached[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Invalidate drops cached snapshots of ids.
func (c *ProductCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

func (c *ProductCache) get(ctx context.Context, ids []string) (map[string]product.Product, []string) {
	found := make(map[string]product.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		zctx.From(ctx).Warn("Product cache read failed", zap.Error(err))
		return found, ids
	}

	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		p, err := decodeProduct([]byte(s))
		if err != nil {
			zctx.From(ctx).Warn("Drop malformed cached product", zap.String("product_id", ids[i]), zap.Error(err))
			missing = append(missing, ids[i])
			continue
		}
		found[ids[i]] = p
	}
	return found, missing
}

func (c *ProductCache) put(ctx context.Context, ps []product.Product) {
	for _, p := range ps {
		if err := c.rdb.Set(ctx, keyPrefix+p.ID, encodeProduct(p), c.ttl).Err(); err != nil {
			zctx.From(ctx).Warn("Product cache write failed", zap.String("product_id", p.ID), zap.Error(err))
			return
		}
	}
}

func encodeProduct(p product.Product) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("sku", func(e *jx.Encoder) { e.Str(p.SKU) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("salesPrice", func(e *jx.Encoder) { e.Str(p.SalesPrice.String()) })
		e.Field("images", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, img := range p.Images {
					e.Str(img)
				}
			})
		})
		e.Field("image", func(e *jx.Encoder) { e.Str(p.Image) })
	})
	return append([]byte(nil), e.Bytes()...)
}

func decodeProduct(data []byte) (product.Product, error) {
	var p product.Product
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "sku":
			p.SKU, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "salesPrice":
			var s string
			if s, err = d.Str(); err == nil {
				p.SalesPrice, err = decimal.NewFromString(s)
			}
		case "images":
			p.Images = []string{}
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return err
				}
				p.Images = append(p.Images, s)
				return nil
			})
		case "image":
			p.Image, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return product.Product{}, errors.Wrap(err, "decode product")
	}
	return p, nil
}
