package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/editions/storefront/internal/model"
	"github.com/editions/storefront/internal/store"
)

func sale(edition int, session string) (model.SoldEdition, model.Order) {
	now := time.Now().UTC()
	rec := model.SoldEdition{
		Edition:   edition,
		SessionID: session,
		Comment:   "merci",
		SoldAt:    now,
	}
	order := model.Order{
		Edition:       edition,
		SessionID:     session,
		Provider:      "stripe",
		AmountTotal:   decimal.RequireFromString("7.00"),
		Currency:      "chf",
		CustomerEmail: "buyer@example.com",
		Comment:       "merci",
		CreatedAt:     now,
	}
	return rec, order
}

// exerciseCommitRules runs the sale rules against any Store.
func exerciseCommitRules(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	rec, order := sale(12, "cs_first")
	outcome, err := st.CommitSale(ctx, rec, order)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if outcome != model.OutcomeRecorded {
		t.Fatalf("expected recorded, got %s", outcome)
	}

	// Same session again: provider redelivery.
	outcome, err = st.CommitSale(ctx, rec, order)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != model.OutcomeDuplicate {
		t.Errorf("expected duplicate, got %s", outcome)
	}

	// Same edition, different session: the known double-sale race.
	rec2, order2 := sale(12, "cs_second")
	outcome, err = st.CommitSale(ctx, rec2, order2)
	if err != nil {
		t.Fatalf("second sale: %v", err)
	}
	if outcome != model.OutcomeOversold {
		t.Errorf("expected oversold, got %s", outcome)
	}

	sold, _ := st.SoldEditions(ctx)
	if len(sold) != 1 || sold[0] != 12 {
		t.Errorf("expected sold=[12], got %v", sold)
	}

	orders, _ := st.Orders(ctx)
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].Oversold {
		t.Error("first order must not be flagged")
	}
	if !orders[1].Oversold {
		t.Error("second order for edition 12 should be flagged oversold")
	}

	isSold, err := st.IsSold(ctx, 12)
	if err != nil || !isSold {
		t.Errorf("expected edition 12 sold, got %v (%v)", isSold, err)
	}
	isSold, _ = st.IsSold(ctx, 13)
	if isSold {
		t.Error("edition 13 should be available")
	}
}

func TestMemoryStore_CommitRules(t *testing.T) {
	exerciseCommitRules(t, store.NewMemoryStore())
}

func TestMemoryStore_AppendGuards(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	rec, order := sale(3, "cs_a")
	for i := 0; i < 2; i++ {
		if err := st.AppendSold(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if err := st.AppendOrder(ctx, order); err != nil {
			t.Fatal(err)
		}
	}

	snap, _ := st.Load(ctx)
	if len(snap.Sold) != 1 {
		t.Errorf("duplicate sold append should be skipped, got %d", len(snap.Sold))
	}
	if len(snap.Orders) != 1 {
		t.Errorf("duplicate order append should be skipped, got %d", len(snap.Orders))
	}
}

func TestMemoryStore_SoldEditionsSortedUnique(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	// Save bypasses the append guard, as a legacy document would.
	err := st.Save(ctx, model.Snapshot{Sold: []model.SoldEdition{
		{Edition: 9}, {Edition: 2}, {Edition: 9}, {Edition: 5},
	}})
	if err != nil {
		t.Fatal(err)
	}

	sold, _ := st.SoldEditions(ctx)
	want := []int{2, 5, 9}
	if fmt.Sprint(sold) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, sold)
	}
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	rec, order := sale(1, "cs_1")
	st.CommitSale(ctx, rec, order)

	snap, _ := st.Load(ctx)
	snap.Sold[0].Edition = 999

	sold, _ := st.SoldEditions(ctx)
	if sold[0] != 1 {
		t.Errorf("mutating a loaded snapshot leaked into the store: %v", sold)
	}
}

func TestMemoryStore_ConcurrentCommitsNoLostUpdate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec, order := sale(n, fmt.Sprintf("cs_%d", n))
			if _, err := st.CommitSale(ctx, rec, order); err != nil {
				t.Errorf("commit %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	sold, _ := st.SoldEditions(ctx)
	orders, _ := st.Orders(ctx)
	if len(sold) != 50 || len(orders) != 50 {
		t.Errorf("expected 50 sold / 50 orders, got %d / %d", len(sold), len(orders))
	}
}
