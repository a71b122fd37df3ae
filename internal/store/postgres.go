package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/editions/storefront/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL. Primary keys on
// sold_editions.edition and orders.session_id back the application rules.
// Amounts are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) (model.Snapshot, error) {
	sold, err := s.loadSold(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	orders, err := s.Orders(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{Sold: sold, Orders: orders}, nil
}

func (s *PostgresStore) SoldEditions(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT edition FROM sold_editions ORDER BY edition`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	editions := []int{}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		editions = append(editions, n)
	}
	return editions, rows.Err()
}

func (s *PostgresStore) Orders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT edition, session_id, provider, amount_total::TEXT, currency,
		        customer_email, phone, shipping, comment, oversold, created_at
		 FROM orders ORDER BY created_at, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (s *PostgresStore) IsSold(ctx context.Context, edition int) (bool, error) {
	var sold bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sold_editions WHERE edition = $1)`, edition).Scan(&sold)
	if err != nil {
		return false, fmt.Errorf("check edition %d: %w", edition, err)
	}
	return sold, nil
}

func (s *PostgresStore) AppendSold(ctx context.Context, rec model.SoldEdition) error {
	_, err := insertSold(ctx, s.pool, rec)
	return err
}

func (s *PostgresStore) AppendOrder(ctx context.Context, o model.Order) error {
	_, err := insertOrder(ctx, s.pool, o)
	return err
}

// Save replaces both tables with the snapshot in one transaction.
func (s *PostgresStore) Save(ctx context.Context, snap model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE sold_editions, orders`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	for _, rec := range snap.Sold {
		if _, err := insertSold(ctx, tx, rec); err != nil {
			return err
		}
	}
	for _, o := range snap.Orders {
		if _, err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CommitSale(ctx context.Context, rec model.SoldEdition, o model.Order) (model.CommitOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := insertSold(ctx, tx, rec)
	if err != nil {
		return "", err
	}
	outcome := model.OutcomeRecorded
	if !inserted {
		outcome = model.OutcomeOversold
		o.Oversold = true
	}

	logged, err := insertOrder(ctx, tx, o)
	if err != nil {
		return "", err
	}
	if !logged {
		// Redelivery of a session already recorded. The deferred rollback
		// undoes the sold insert in case it raced ahead of the first commit.
		return model.OutcomeDuplicate, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit sale: %w", err)
	}
	return outcome, nil
}

func (s *PostgresStore) loadSold(ctx context.Context) ([]model.SoldEdition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT edition, session_id, comment, shipping, sold_at
		 FROM sold_editions ORDER BY sold_at, edition`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sold := []model.SoldEdition{}
	for rows.Next() {
		var rec model.SoldEdition
		var shipping []byte
		if err := rows.Scan(&rec.Edition, &rec.SessionID, &rec.Comment, &shipping, &rec.SoldAt); err != nil {
			return nil, err
		}
		rec.Shipping = decodeShipping(shipping)
		sold = append(sold, rec)
	}
	return sold, rows.Err()
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertSold(ctx context.Context, db execer, rec model.SoldEdition) (bool, error) {
	tag, err := db.Exec(ctx,
		`INSERT INTO sold_editions (edition, session_id, comment, shipping, sold_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (edition) DO NOTHING`,
		rec.Edition, rec.SessionID, rec.Comment, encodeShipping(rec.Shipping), rec.SoldAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert sold edition %d: %w", rec.Edition, err)
	}
	return tag.RowsAffected() == 1, nil
}

func insertOrder(ctx context.Context, db execer, o model.Order) (bool, error) {
	tag, err := db.Exec(ctx,
		`INSERT INTO orders (session_id, edition, provider, amount_total, currency,
		                     customer_email, phone, shipping, comment, oversold, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO NOTHING`,
		o.SessionID, o.Edition, o.Provider, o.AmountTotal.String(), o.Currency,
		o.CustomerEmail, o.Phone, encodeShipping(o.Shipping), o.Comment, o.Oversold, o.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert order %s: %w", o.SessionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	orders := []model.Order{}
	for rows.Next() {
		var o model.Order
		var amountS string
		var shipping []byte

		if err := rows.Scan(&o.Edition, &o.SessionID, &o.Provider, &amountS, &o.Currency,
			&o.CustomerEmail, &o.Phone, &shipping, &o.Comment, &o.Oversold, &o.CreatedAt); err != nil {
			return nil, err
		}

		o.AmountTotal, _ = decimal.NewFromString(amountS)
		o.Shipping = decodeShipping(shipping)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// encodeShipping returns nil for a missing address so the column stays NULL.
func encodeShipping(addr *model.ShippingAddress) []byte {
	if addr == nil {
		return nil
	}
	data, err := json.Marshal(addr)
	if err != nil {
		return nil
	}
	return data
}

func decodeShipping(data []byte) *model.ShippingAddress {
	if len(data) == 0 {
		return nil
	}
	var addr model.ShippingAddress
	if json.Unmarshal(data, &addr) != nil {
		return nil
	}
	return &addr
}
