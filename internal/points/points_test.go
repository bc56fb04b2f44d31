package points

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestBalanceEmpty(t *testing.T) {
	s := setupTestStore(t)

	b, err := s.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.Points != 0 || !b.UpdatedAt.IsZero() {
		t.Errorf("empty balance = %+v", b)
	}
}

func TestRecordAndBalance(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entries := []struct {
		amount int64
		reason string
	}{
		{100, "signup bonus"},
		{25, "completed task"},
		{-40, "redeemed reward"},
	}
	for _, e := range entries {
		if _, err := s.Record(ctx, "alice", e.amount, e.reason); err != nil {
			t.Fatalf("Record(%d): %v", e.amount, err)
		}
	}
	s.Record(ctx, "bob", 999, "other owner")

	b, err := s.Balance(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if b.Points != 85 {
		t.Errorf("balance = %d, want 85", b.Points)
	}
	if b.UpdatedAt.IsZero() {
		t.Error("balance should carry the latest entry time")
	}

	txs, err := s.Transactions(ctx, "alice", 2, 0)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	if txs[0].Reason != "redeemed reward" {
		t.Errorf("newest first: got %q", txs[0].Reason)
	}
}

func TestRecordValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Record(ctx, "alice", 0, "nothing"); !errors.Is(err, ErrInvalid) {
		t.Errorf("zero amount err = %v", err)
	}
	if _, err := s.Record(ctx, "alice", 5, "  "); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank reason err = %v", err)
	}
}
