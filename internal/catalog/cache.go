package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps Redis based caching of product read models. Quotation
// creation resolves every line item, so hot products are served from
// here instead of the database.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables
// caching; callers fall through to the loader.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func productKey(id int64) string {
	return fmt.Sprintf("catalog:product:%d", id)
}

// Fetch loads a cached product or populates it using the loader.
func (c *Cache) Fetch(ctx context.Context, id int64, loader func(context.Context) (Product, error)) (Product, error) {
	if loader == nil {
		return Product{}, errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := productKey(id)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var p Product
		if err := json.Unmarshal(payload, &p); err == nil {
			return p, nil
		}
		// fall through on a corrupt entry
	} else if err != redis.Nil {
		return Product{}, err
	}
	p, err := loader(ctx)
	if err != nil {
		return Product{}, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Product{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Invalidate drops the cached entry after a price, name or stock change.
func (c *Cache) Invalidate(ctx context.Context, id int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, productKey(id)).Err()
}
