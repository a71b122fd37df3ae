package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/editions/storefront/internal/store"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

// slowReadStore holds its first SoldEditions result until released, so a
// commit can land between the primary read and the cache refill.
type slowReadStore struct {
	store.Store
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func (s *slowReadStore) SoldEditions(ctx context.Context) ([]int, error) {
	sold, err := s.Store.SoldEditions(ctx)
	s.once.Do(func() {
		close(s.read)
		<-s.resume
	})
	return sold, err
}

func TestCachedStore_InvalidatesOnCommit(t *testing.T) {
	ctx := context.Background()
	st := store.NewCachedStore(store.NewMemoryStore(), newRedisClient(t), time.Minute)

	// Prime the cache with an empty list.
	sold, err := st.SoldEditions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sold) != 0 {
		t.Fatalf("expected empty, got %v", sold)
	}

	rec, order := sale(11, "cs_11")
	if _, err := st.CommitSale(ctx, rec, order); err != nil {
		t.Fatal(err)
	}

	sold, _ = st.SoldEditions(ctx)
	if len(sold) != 1 || sold[0] != 11 {
		t.Errorf("cache not invalidated after commit: %v", sold)
	}

	isSold, _ := st.IsSold(ctx, 11)
	if !isSold {
		t.Error("expected edition 11 sold")
	}
}

func TestCachedStore_CommitDuringRefill(t *testing.T) {
	ctx := context.Background()
	primary := &slowReadStore{
		Store:  store.NewMemoryStore(),
		read:   make(chan struct{}),
		resume: make(chan struct{}),
	}
	st := store.NewCachedStore(primary, newRedisClient(t), time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		st.SoldEditions(ctx)
	}()

	// The reader now holds the pre-commit list.
	<-primary.read
	rec, order := sale(12, "cs_12")
	if _, err := st.CommitSale(ctx, rec, order); err != nil {
		t.Fatal(err)
	}
	close(primary.resume)
	<-done

	isSold, err := st.IsSold(ctx, 12)
	if err != nil {
		t.Fatal(err)
	}
	if !isSold {
		t.Error("IsSold(12) = false after commit")
	}

	sold, _ := st.SoldEditions(ctx)
	if len(sold) != 1 || sold[0] != 12 {
		t.Errorf("stale list written back to cache: %v", sold)
	}
}
