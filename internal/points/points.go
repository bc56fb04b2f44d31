// Package points defines the points service consumed by the points tools
// and a SQLite ledger implementing it. The engine only formats balances
// and transactions; ledger rules live outside it.
package points

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid reports a rejected ledger entry.
var ErrInvalid = errors.New("invalid transaction")

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Balance is an owner's current point total.
type Balance struct {
	OwnerID   string    `json:"owner_id"`
	Points    int64     `json:"points"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Transaction is one ledger entry. Negative amounts are spends.
type Transaction struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Service is the read side used by tools.
type Service interface {
	Balance(ctx context.Context, ownerID string) (*Balance, error)
	Transactions(ctx context.Context, ownerID string, limit, offset int) ([]*Transaction, error)
}

// Store is an append-only SQLite ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Service = (*Store)(nil)

// NewStore creates a ledger on db, running migrations on first use.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger.With("component", "points")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate points: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS points_transactions (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			amount     INTEGER NOT NULL,
			reason     TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_points_owner ON points_transactions(owner_id, created_at);
	`)
	return err
}

// Record appends a ledger entry. Zero amounts and blank reasons are
// rejected.
func (s *Store) Record(ctx context.Context, ownerID string, amount int64, reason string) (*Transaction, error) {
	reason = strings.TrimSpace(reason)
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be non-zero", ErrInvalid)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalid)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate transaction ID: %w", err)
	}
	tx := &Transaction{
		ID:        id.String(),
		OwnerID:   ownerID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO points_transactions (id, owner_id, amount, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		tx.ID, tx.OwnerID, tx.Amount, tx.Reason, tx.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	s.logger.Info("points recorded", "owner", ownerID, "amount", amount, "reason", reason)
	return tx, nil
}

// Balance sums the owner's ledger. An owner with no entries has zero.
func (s *Store) Balance(ctx context.Context, ownerID string) (*Balance, error) {
	var (
		total  int64
		latest sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), MAX(created_at) FROM points_transactions WHERE owner_id = ?`,
		ownerID,
	).Scan(&total, &latest)
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}

	b := &Balance{OwnerID: ownerID, Points: total}
	if latest.Valid {
		if b.UpdatedAt, err = time.Parse(time.RFC3339Nano, latest.String); err != nil {
			return nil, fmt.Errorf("parse balance timestamp: %w", err)
		}
	}
	return b, nil
}

// Transactions returns ledger entries, newest first.
func (s *Store) Transactions(ctx context.Context, ownerID string, limit, offset int) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, amount, reason, created_at FROM points_transactions
		 WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	result := []*Transaction{}
	for rows.Next() {
		var (
			tx        Transaction
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.OwnerID, &tx.Amount, &tx.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse transaction timestamp: %w", err)
		}
		result = append(result, &tx)
	}
	return result, rows.Err()
}
