package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/editions/storefront/internal/model"
)

const (
	soldEditionsKey = "storefront:sold_editions"
	// soldVersionKey is bumped on every write so a refill that read the
	// primary before the write cannot repopulate the cache afterwards.
	soldVersionKey = "storefront:sold_editions:version"
)

// refillScript sets the cached list only while the version still matches
// the one observed before reading the primary store.
var refillScript = redis.NewScript(`
local v = redis.call("GET", KEYS[2])
if v == false then v = "0" end
if v ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// CachedStore wraps a primary Store with a Redis read-through cache of the
// sold-edition list, which the storefront polls far more often than anything
// else. Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendSold(ctx context.Context, rec model.SoldEdition) error {
	if err := s.primary.AppendSold(ctx, rec); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) AppendOrder(ctx context.Context, o model.Order) error {
	return s.primary.AppendOrder(ctx, o)
}

func (s *CachedStore) Save(ctx context.Context, snap model.Snapshot) error {
	if err := s.primary.Save(ctx, snap); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) CommitSale(ctx context.Context, rec model.SoldEdition, o model.Order) (model.CommitOutcome, error) {
	outcome, err := s.primary.CommitSale(ctx, rec, o)
	if err != nil {
		return "", err
	}
	if outcome == model.OutcomeRecorded {
		s.invalidate(ctx)
	}
	return outcome, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) SoldEditions(ctx context.Context) ([]int, error) {
	data, err := s.rdb.Get(ctx, soldEditionsKey).Bytes()
	if err == nil {
		var editions []int
		if json.Unmarshal(data, &editions) == nil {
			return editions, nil
		}
	}

	// Cache miss: note the version, then read from primary.
	version, err := s.rdb.Get(ctx, soldVersionKey).Result()
	if err == redis.Nil {
		version = "0"
	} else if err != nil {
		return s.primary.SoldEditions(ctx)
	}

	editions, err := s.primary.SoldEditions(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(editions); err == nil && s.ttl > 0 {
		refillScript.Run(ctx, s.rdb, []string{soldEditionsKey, soldVersionKey},
			version, data, s.ttl.Milliseconds())
	}
	return editions, nil
}

// IsSold always asks the primary store: the checkout availability check must
// not be answered from a possibly stale list.
func (s *CachedStore) IsSold(ctx context.Context, edition int) (bool, error) {
	return s.primary.IsSold(ctx, edition)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Load(ctx context.Context) (model.Snapshot, error) {
	return s.primary.Load(ctx)
}

func (s *CachedStore) Orders(ctx context.Context) ([]model.Order, error) {
	return s.primary.Orders(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) invalidate(ctx context.Context) {
	s.rdb.Incr(ctx, soldVersionKey)
	s.rdb.Del(ctx, soldEditionsKey)
}
