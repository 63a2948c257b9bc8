// Package cache holds Redis backed read-model caches.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
)

// DefaultCartTTL bounds how stale a cached cart may get when an invalidation is lost.
const DefaultCartTTL = 5 * time.Minute

const cartKeyPrefix = "cart:"

// CartCache stores cart read models as JSON under cart:{userID}.
type CartCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCartCache wraps client. A non-positive ttl falls back to DefaultCartTTL.
func NewCartCache(client redis.UniversalClient, ttl time.Duration) (*CartCache, error) {
	if client == nil {
		return nil, errors.New("cart cache: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &CartCache{client: client, ttl: ttl}, nil
}

type cartEntry struct {
	UserID string          `json:"userId"`
	Lines  []cartLineEntry `json:"lines"`
	Total  decimal.Decimal `json:"total"`
}

type cartLineEntry struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Get returns (zero, false, nil) on a miss.
func (c *CartCache) Get(ctx context.Context, userID string) (domain.Cart, bool, error) {
	raw, err := c.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, false, nil
	}
	if err != nil {
		return domain.Cart{}, false, fmt.Errorf("cart cache: get: %w", err)
	}

	var entry cartEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is treated as a miss and overwritten by the next Set.
		return domain.Cart{}, false, nil
	}
	cart := domain.Cart{UserID: entry.UserID, Total: entry.Total}
	for _, line := range entry.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ID:        line.ID,
			UserID:    entry.UserID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			CreatedAt: line.CreatedAt,
			UpdatedAt: line.UpdatedAt,
		})
	}
	return cart, true, nil
}

func (c *CartCache) Set(ctx context.Context, cart domain.Cart) error {
	if strings.TrimSpace(cart.UserID) == "" {
		return errors.New("cart cache: user id is required")
	}
	entry := cartEntry{UserID: cart.UserID, Total: cart.Total, Lines: make([]cartLineEntry, 0, len(cart.Lines))}
	for _, line := range cart.Lines {
		entry.Lines = append(entry.Lines, cartLineEntry{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			CreatedAt: line.CreatedAt.UTC(),
			UpdatedAt: line.UpdatedAt.UTC(),
		})
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cart cache: encode: %w", err)
	}
	if err := c.client.Set(ctx, cartKey(cart.UserID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cart cache: set: %w", err)
	}
	return nil
}

// Invalidate drops the cached carts of every listed user in one round trip.
func (c *CartCache) Invalidate(ctx context.Context, userIDs ...string) error {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			keys = append(keys, cartKey(id))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cart cache: invalidate: %w", err)
	}
	return nil
}

// Ping reports Redis reachability for readiness probes.
func (c *CartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cartKey(userID string) string {
	return cartKeyPrefix + userID
}
