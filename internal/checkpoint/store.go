package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/codec"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists thread state in SQLite. Each state is stored as
// one blob: deterministic CBOR, zstd-compressed, with a keyed BLAKE3
// checksum verified on every load.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a store using db and applies its schema.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "checkpoint"),
		now:    time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			state_zst BLOB NOT NULL,
			checksum BLOB NOT NULL,
			byte_size INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_updated
			ON threads(updated_at DESC);
	`)
	return err
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*State, error) {
	var (
		version  int64
		blob     []byte
		checksum []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, state_zst, checksum FROM threads WHERE thread_id = ?`,
		threadID,
	).Scan(&version, &blob, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", threadID, err)
	}

	if !codec.Verify(blob, checksum) {
		s.logger.Error("checkpoint checksum mismatch", "thread", threadID, "version", version)
		return nil, fmt.Errorf("load %s: checksum mismatch: %w", threadID, ErrCorrupt)
	}
	raw, err := codec.Decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", threadID, ErrCorrupt, err)
	}
	var st State
	if err := codec.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("load %s: decode: %w: %w", threadID, ErrCorrupt, err)
	}
	if st.ThreadID != threadID || st.Version != version {
		return nil, fmt.Errorf("load %s: row does not match its contents: %w", threadID, ErrCorrupt)
	}
	return &st, nil
}

// Save implements Store. The version check and the write share one
// transaction.
func (s *SQLiteStore) Save(ctx context.Context, st *State) error {
	if st == nil || st.ThreadID == "" {
		return fmt.Errorf("save: thread id is required")
	}

	now := s.now().UTC()
	next := st.Clone()
	next.Version++
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	raw, err := codec.Marshal(next)
	if err != nil {
		return fmt.Errorf("save %s: encode: %w", st.ThreadID, err)
	}
	blob := codec.Compress(raw)
	sum := codec.Sum(blob)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save %s: begin: %w", st.ThreadID, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM threads WHERE thread_id = ?`, st.ThreadID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored = 0
	case err != nil:
		return fmt.Errorf("save %s: read version: %w", st.ThreadID, err)
	}
	if stored != st.Version {
		return fmt.Errorf("save %s: have version %d, stored %d: %w", st.ThreadID, st.Version, stored, ErrConflict)
	}

	if stored == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO threads (thread_id, version, state_zst, checksum, byte_size, message_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, next.ThreadID, next.Version, blob, sum[:], len(blob), len(next.Messages),
			next.CreatedAt.Format(timeFormat), next.UpdatedAt.Format(timeFormat))
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE threads
			SET version = ?, state_zst = ?, checksum = ?, byte_size = ?, message_count = ?, updated_at = ?
			WHERE thread_id = ? AND version = ?
		`, next.Version, blob, sum[:], len(blob), len(next.Messages),
			next.UpdatedAt.Format(timeFormat), next.ThreadID, stored)
	}
	if err != nil {
		return fmt.Errorf("save %s: write: %w", st.ThreadID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save %s: commit: %w", st.ThreadID, err)
	}

	st.Version = next.Version
	st.CreatedAt = next.CreatedAt
	st.UpdatedAt = next.UpdatedAt

	s.logger.Debug("checkpoint saved",
		"thread", st.ThreadID,
		"version", st.Version,
		"messages", len(st.Messages),
		"bytes", len(blob),
	)
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, version, message_count, byte_size, created_at, updated_at
		FROM threads
		ORDER BY updated_at DESC, thread_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum              Summary
			created, updated string
		)
		if err := rows.Scan(&sum.ThreadID, &sum.Version, &sum.MessageCount, &sum.ByteSize, &created, &updated); err != nil {
			return nil, fmt.Errorf("list: scan: %w", err)
		}
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", threadID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune removes threads not updated within olderThan, keeping at least
// minKeep of the most recent ones. It returns the number removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration, minKeep int) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan).Format(timeFormat)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads`).Scan(&total); err != nil {
		return 0, fmt.Errorf("prune: count: %w", err)
	}
	if total <= minKeep {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM threads
		WHERE thread_id IN (
			SELECT thread_id FROM threads
			WHERE updated_at < ?
			ORDER BY updated_at ASC
			LIMIT ?
		)
	`, cutoff, total-minKeep)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Info("pruned idle threads", "deleted", deleted, "older_than", olderThan)
	}
	return int(deleted), nil
}
