package checkpoint

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps state in process memory. States are deep-copied on
// the way in and out, so callers never share mutable data with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*State
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*State),
		now:     time.Now,
	}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, threadID string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st == nil || st.ThreadID == "" {
		return fmt.Errorf("save: thread id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if cur, ok := m.threads[st.ThreadID]; ok {
		stored = cur.Version
	}
	if st.Version != stored {
		return fmt.Errorf("save %s: have version %d, stored %d: %w", st.ThreadID, st.Version, stored, ErrConflict)
	}

	now := m.now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	st.Version++
	m.threads[st.ThreadID] = st.Clone()
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Summary, 0, len(m.threads))
	for _, st := range m.threads {
		out = append(out, Summary{
			ThreadID:     st.ThreadID,
			Version:      st.Version,
			MessageCount: len(st.Messages),
			CreatedAt:    st.CreatedAt,
			UpdatedAt:    st.UpdatedAt,
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ThreadID < b.ThreadID {
			return -1
		}
		if a.ThreadID > b.ThreadID {
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return ErrNotFound
	}
	delete(m.threads, threadID)
	return nil
}
