package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/editions/storefront/internal/model"
	"github.com/editions/storefront/internal/store"
)

func getPostgresStore(t *testing.T) *store.PostgresStore {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(pool.Close)

	st := store.NewPostgresStore(pool)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := st.Save(ctx, model.Snapshot{}); err != nil {
		t.Fatalf("reset tables: %v", err)
	}
	return st
}

func TestPostgresStore_CommitRules(t *testing.T) {
	exerciseCommitRules(t, getPostgresStore(t))
}

func TestPostgresStore_ShippingRoundTrip(t *testing.T) {
	st := getPostgresStore(t)
	ctx := context.Background()

	rec, order := sale(30, "cs_30")
	order.Shipping = &model.ShippingAddress{Name: "A. Buyer", City: "Lausanne", Country: "CH"}
	if _, err := st.CommitSale(ctx, rec, order); err != nil {
		t.Fatal(err)
	}

	orders, err := st.Orders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].Shipping == nil || orders[0].Shipping.City != "Lausanne" {
		t.Errorf("shipping not persisted: %+v", orders)
	}
	if !orders[0].AmountTotal.Equal(order.AmountTotal) {
		t.Errorf("expected amount %s, got %s", order.AmountTotal, orders[0].AmountTotal)
	}
}
