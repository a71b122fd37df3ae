// Package store defines the persistence interface for the storefront's
// inventory: the sold-edition set and the order log. Implementations include
// JSON files (default), PostgreSQL, in-memory (for testing), and a Redis
// read-through cache that wraps any of them.
package store

import (
	"context"
	"errors"

	"github.com/editions/storefront/internal/model"
)

// ErrCorrupt marks backing data that could not be parsed. It is logged and
// recovered from by starting with an empty collection; callers never see it.
var ErrCorrupt = errors.New("store: backing data corrupted")

// Store is the persistence interface. Every implementation serializes
// mutations behind a single writer; reads return copies.
type Store interface {
	// --- Reads ---

	// Load returns the current snapshot.
	Load(ctx context.Context) (model.Snapshot, error)

	// SoldEditions returns sold edition numbers, ascending and de-duplicated.
	SoldEditions(ctx context.Context) ([]int, error)

	// Orders returns the order log in insertion order.
	Orders(ctx context.Context) ([]model.Order, error)

	// IsSold reports whether the edition is in the sold set.
	IsSold(ctx context.Context, edition int) (bool, error)

	// --- Mutations ---

	// AppendSold adds a sold record unless the edition is already recorded.
	AppendSold(ctx context.Context, rec model.SoldEdition) error

	// AppendOrder adds an order unless its session id is already logged.
	AppendOrder(ctx context.Context, order model.Order) error

	// Save replaces the whole state with the given snapshot.
	Save(ctx context.Context, snap model.Snapshot) error

	// CommitSale records a confirmed payment atomically: the sold record and
	// the order either both land or neither does. Safe to call repeatedly
	// with the same session id.
	CommitSale(ctx context.Context, rec model.SoldEdition, order model.Order) (model.CommitOutcome, error)
}
