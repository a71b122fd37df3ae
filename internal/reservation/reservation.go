// Package reservation holds an edition for a short time while a buyer is in
// the provider's checkout, so a second buyer cannot start paying for it.
//
// Every hold carries a random token. Only the holder of the token can release
// it, so a checkout whose hold already expired cannot drop a newer buyer's.
package reservation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Holder reserves editions for a limited time.
type Holder interface {
	// Reserve takes the hold on edition for ttl and returns its token. It
	// reports false when another hold is still active.
	Reserve(ctx context.Context, edition int, ttl time.Duration) (token string, ok bool, err error)
	// Release drops the hold if it is still the one identified by token.
	Release(ctx context.Context, edition int, token string) error
}

// Nop never holds anything; every Reserve succeeds.
type Nop struct{}

func (Nop) Reserve(context.Context, int, time.Duration) (string, bool, error) { return "", true, nil }
func (Nop) Release(context.Context, int, string) error                        { return nil }

type hold struct {
	token  string
	expiry time.Time
}

// MemoryHolder keeps holds in process memory.
type MemoryHolder struct {
	mu    sync.Mutex
	holds map[int]hold
	now   func() time.Time
}

// NewMemoryHolder creates an in-process holder.
func NewMemoryHolder() *MemoryHolder {
	return &MemoryHolder{holds: make(map[int]hold), now: time.Now}
}

// WithClock replaces the time source (used by tests).
func (h *MemoryHolder) WithClock(now func() time.Time) *MemoryHolder {
	h.now = now
	return h
}

func (h *MemoryHolder) Reserve(_ context.Context, edition int, ttl time.Duration) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if cur, ok := h.holds[edition]; ok && now.Before(cur.expiry) {
		return "", false, nil
	}
	token := uuid.NewString()
	h.holds[edition] = hold{token: token, expiry: now.Add(ttl)}

	// Expired holds are dropped lazily.
	for ed, cur := range h.holds {
		if !now.Before(cur.expiry) {
			delete(h.holds, ed)
		}
	}
	return token, true, nil
}

func (h *MemoryHolder) Release(_ context.Context, edition int, token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.holds[edition]; ok && cur.token == token {
		delete(h.holds, edition)
	}
	return nil
}

const keyPrefix = "storefront:hold:"

// releaseScript deletes the hold only while it still carries the caller's
// token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisHolder keeps holds as expiring Redis keys so several storefront
// processes share them.
type RedisHolder struct {
	client *redis.Client
}

// NewRedisHolder creates a holder backed by Redis.
func NewRedisHolder(client *redis.Client) *RedisHolder {
	return &RedisHolder{client: client}
}

func (h *RedisHolder) Reserve(ctx context.Context, edition int, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := h.client.SetNX(ctx, key(edition), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserve edition %d: %w", edition, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (h *RedisHolder) Release(ctx context.Context, edition int, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, h.client, []string{key(edition)}, token).Err(); err != nil {
		return fmt.Errorf("release edition %d: %w", edition, err)
	}
	return nil
}

func key(edition int) string {
	return keyPrefix + strconv.Itoa(edition)
}
