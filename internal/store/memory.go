package store

import (
	"context"
	"slices"
	"sync"

	"github.com/editions/storefront/internal/model"
)

// MemoryStore implements Store over a single in-memory snapshot guarded by
// one RWMutex. With a flush function set, every mutation is persisted before
// it becomes visible; a failed flush leaves the previous state in place.
type MemoryStore struct {
	mu    sync.RWMutex
	snap  model.Snapshot
	flush func(model.Snapshot) error
}

// NewMemoryStore creates an empty, non-persistent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func newFlushingStore(initial model.Snapshot, flush func(model.Snapshot) error) *MemoryStore {
	return &MemoryStore{snap: initial, flush: flush}
}

func (s *MemoryStore) Load(_ context.Context) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone(), nil
}

func (s *MemoryStore) SoldEditions(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return soldNumbers(s.snap.Sold), nil
}

func (s *MemoryStore) Orders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone().Orders, nil
}

func (s *MemoryStore) IsSold(_ context.Context, edition int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.HasEdition(edition), nil
}

func (s *MemoryStore) AppendSold(_ context.Context, rec model.SoldEdition) error {
	return s.mutate(func(next *model.Snapshot) bool {
		if next.HasEdition(rec.Edition) {
			return false
		}
		next.Sold = append(next.Sold, rec)
		return true
	})
}

func (s *MemoryStore) AppendOrder(_ context.Context, order model.Order) error {
	return s.mutate(func(next *model.Snapshot) bool {
		if next.HasSession(order.SessionID) {
			return false
		}
		next.Orders = append(next.Orders, order)
		return true
	})
}

func (s *MemoryStore) Save(_ context.Context, snap model.Snapshot) error {
	return s.mutate(func(next *model.Snapshot) bool {
		*next = snap.Clone()
		return true
	})
}

// CommitSale applies the sale rule under the writer lock:
//   - session already logged → OutcomeDuplicate, nothing written
//   - edition already sold   → order appended with Oversold, sold set untouched
//   - otherwise              → sold record and order appended
func (s *MemoryStore) CommitSale(_ context.Context, rec model.SoldEdition, order model.Order) (model.CommitOutcome, error) {
	outcome := model.OutcomeRecorded
	err := s.mutate(func(next *model.Snapshot) bool {
		if next.HasSession(order.SessionID) {
			outcome = model.OutcomeDuplicate
			return false
		}
		if next.HasEdition(rec.Edition) {
			outcome = model.OutcomeOversold
			order.Oversold = true
		} else {
			next.Sold = append(next.Sold, rec)
		}
		next.Orders = append(next.Orders, order)
		return true
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// mutate runs fn on a copy of the snapshot while holding the writer lock.
// fn returns false when it made no change.
func (s *MemoryStore) mutate(fn func(next *model.Snapshot) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.Clone()
	if !fn(&next) {
		return nil
	}
	if s.flush != nil {
		if err := s.flush(next); err != nil {
			return err
		}
	}
	s.snap = next
	return nil
}

// soldNumbers returns the edition numbers ascending with duplicates removed.
func soldNumbers(sold []model.SoldEdition) []int {
	out := make([]int, 0, len(sold))
	for _, rec := range sold {
		out = append(out, rec.Edition)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
