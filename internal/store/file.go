package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/editions/storefront/internal/model"
)

const (
	SoldFile   = "sold_editions.json"
	OrdersFile = "orders.json"
)

// FileStore persists the inventory as two JSON documents, each rewritten
// wholesale on every mutation via write-temp-then-rename. The documents are
// read once at open; afterwards the in-memory snapshot is authoritative.
type FileStore struct {
	*MemoryStore
	soldPath   string
	ordersPath string
}

// OpenFileStore loads (or initializes) the store in dir. Unparsable documents
// are moved aside and replaced by empty collections. Orders whose edition is
// missing from the sold set are repaired into it.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fs := &FileStore{
		soldPath:   filepath.Join(dir, SoldFile),
		ordersPath: filepath.Join(dir, OrdersFile),
	}

	var sold []model.SoldEdition
	if err := readDocument(fs.soldPath, &sold); err != nil {
		return nil, err
	}
	var orders []model.Order
	if err := readDocument(fs.ordersPath, &orders); err != nil {
		return nil, err
	}

	snap, repaired := reconcile(sold, orders)
	fs.MemoryStore = newFlushingStore(snap, fs.write)

	if repaired {
		if err := fs.write(snap); err != nil {
			return nil, fmt.Errorf("write repaired inventory: %w", err)
		}
	}

	slog.Info("file store opened",
		"dir", dir,
		"sold", len(snap.Sold),
		"orders", len(snap.Orders),
	)
	return fs, nil
}

// write flushes both documents. Orders go first: if the process dies between
// the two renames, the next open repairs the sold set from the order log.
func (fs *FileStore) write(snap model.Snapshot) error {
	if err := writeDocument(fs.ordersPath, snap.Orders); err != nil {
		return fmt.Errorf("write orders: %w", err)
	}
	if err := writeDocument(fs.soldPath, snap.Sold); err != nil {
		return fmt.Errorf("write sold editions: %w", err)
	}
	return nil
}

// readDocument decodes a JSON array from path into dst. A missing file leaves
// dst empty. A corrupted file is logged, renamed to <path>.corrupt-<unix>, and
// treated as empty.
func readDocument[T any](path string, dst *[]T) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		*dst = []T{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		slog.Error("inventory document unreadable, starting empty",
			"path", path,
			"moved_to", aside,
			"err", errors.Join(ErrCorrupt, err),
		)
		if rerr := os.Rename(path, aside); rerr != nil {
			slog.Warn("could not move corrupted document aside", "path", path, "err", rerr)
		}
		*dst = []T{}
		return nil
	}
	if out == nil {
		out = []T{}
	}
	*dst = out
	return nil
}

// writeDocument atomically replaces path with the indented JSON of v.
func writeDocument(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// reconcile drops invalid and duplicate sold entries and adds a sold record
// for every non-oversold order whose edition is missing. It reports whether
// anything changed.
func reconcile(sold []model.SoldEdition, orders []model.Order) (model.Snapshot, bool) {
	changed := false
	seen := make(map[int]bool, len(sold))
	clean := make([]model.SoldEdition, 0, len(sold))

	for _, rec := range sold {
		if rec.Edition <= 0 || seen[rec.Edition] {
			changed = true
			continue
		}
		seen[rec.Edition] = true
		clean = append(clean, rec)
	}

	for _, o := range orders {
		if o.Oversold || o.Edition <= 0 || seen[o.Edition] {
			continue
		}
		slog.Warn("repairing sold set from order log",
			"edition", o.Edition,
			"session_id", o.SessionID,
		)
		seen[o.Edition] = true
		clean = append(clean, model.SoldEdition{
			Edition:   o.Edition,
			SessionID: o.SessionID,
			Comment:   o.Comment,
			Shipping:  o.Shipping,
			SoldAt:    o.CreatedAt,
		})
		changed = true
	}

	return model.Snapshot{Sold: clean, Orders: orders}, changed
}
