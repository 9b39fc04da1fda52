package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"slices"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storeadmin/internal/domain/auth"
	"github.com/xenking/storeadmin/internal/domain/coupon"
	"github.com/xenking/storeadmin/internal/storage/postgres"
	rediscache "github.com/xenking/storeadmin/internal/storage/redis"
)

// defaultCoupons are always seeded, before any coupons from the seed file.
var defaultCoupons = []coupon.Rule{
	{
		Code:         "WELCOME10",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Description:  "Welcome: 10% off entire order",
		MaxDiscount:  decimal.NewFromInt(50),
	},
	{
		Code:         "BUYGETONE",
		DiscountType: coupon.DiscountFreeLowest,
		Value:        decimal.Zero,
		MinItems:     2,
		Description:  "Buy one get one: lowest priced item free",
		MaxDiscount:  decimal.Zero,
	},
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		adminAPIKey  string
		apiKeyPepper string
		redisURL     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/products.json", "products/coupons seed file (.json, .json.gz, .yaml)")
	flag.StringVar(&apiKey, "api-key", "", "staff API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&adminAPIKey, "admin-api-key", "", "admin API key to seed (or STORE_SEED_ADMIN_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL of the product cache to invalidate (or REDIS_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STORE_SEED_API_KEY")
		os.Exit(1)
	}
	if adminAPIKey == "" {
		adminAPIKey = os.Getenv("STORE_SEED_ADMIN_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_API_KEY_PEPPER")
	}
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	keys := []auth.APIKeyInfo{{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(apiKeyPepper), apiKey),
		Name:    "Default staff key",
		Scopes:  []string{"orders"},
	}}
	if adminAPIKey != "" {
		keys = append(keys, auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: auth.HashKey([]byte(apiKeyPepper), adminAPIKey),
			Name:    "Default admin key",
			Scopes:  []string{"orders", auth.ScopeAdmin},
		})
	}

	if err := run(ctx, databaseURL, seedPath, redisURL, keys); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath, redisURL string, keys []auth.APIKeyInfo) error {
	slog.Info("running migrations")
	if err := postgres.RunMigrations(databaseURL, zap.NewNop()); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("reading seed file", slog.String("path", seedPath))
	sf, err := readSeedFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}

	products := postgres.NewProductRepository(pool)
	var seeded []string
	tx := postgres.NewTxManager(pool)
	if err := tx.InTx(ctx, func(ctx context.Context) error {
		if seeded, err = seedProducts(ctx, products, sf.Products); err != nil {
			return errors.Wrap(err, "seed products")
		}
		if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), sf.Coupons); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
		apikeys := postgres.NewAPIKeyRepository(pool)
		for _, k := range keys {
			if err := apikeys.Upsert(ctx, k); err != nil {
				return errors.Wrap(err, "seed api key")
			}
			slog.Info("upserted API key", slog.String("id", k.ID), slog.String("name", k.Name))
		}
		return nil
	}); err != nil {
		return err
	}

	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	// Prices may have changed; a failure here only delays them until the
	// cache TTL expires.
	if err := invalidateProducts(ctx, rediscache.NewProductCache(products, rdb, 0), seeded); err != nil {
		slog.Warn("product cache not invalidated", slog.String("error", err.Error()))
	}
	return nil
}

type productInvalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

func invalidateProducts(ctx context.Context, cache productInvalidator, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := cache.Invalidate(ctx, ids...); err != nil {
		return errors.Wrap(err, "invalidate product cache")
	}
	slog.Info("invalidated cached products", slog.Int("count", len(ids)))
	return nil
}

// seedProducts upserts seeds and returns the IDs written.
func seedProducts(ctx context.Context, repo *postgres.ProductRepository, seeds []productSeed) ([]string, error) {
	slog.Info("upserting products", slog.Int("count", len(seeds)))

	ids := make([]string, 0, len(seeds))
	for _, s := range seeds {
		p, err := s.toProduct()
		if err != nil {
			return nil, err
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return ids, nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, seeds []couponSeed) error {
	rules := slices.Clone(defaultCoupons)
	for _, s := range seeds {
		rule, err := s.toRule()
		if err != nil {
			return err
		}
		rules = append(rules, rule)
	}

	for _, rule := range rules {
		if err := repo.Upsert(ctx, rule); err != nil {
			return err
		}
		slog.Info("upserted coupon", slog.String("code", rule.Code), slog.String("description", rule.Description))
	}
	return nil
}
