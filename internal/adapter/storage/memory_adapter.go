package storage

import (
	"context"
	"sync"
	"time"

	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/port"
)

// MemoryAdapter keeps the ledger and projections in process memory. Each key
// carries its own admission mutex so writers serialize per key; a single
// RWMutex guards applied state so multi-key snapshot reads observe a
// consistent point.
type MemoryAdapter struct {
	mu   sync.RWMutex
	keys map[domain.InventoryKey]*keyState
}

type keyState struct {
	admit      sync.Mutex
	events     []domain.ChangeEvent
	proj       domain.Projection
	divergence *domain.DivergenceError
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{keys: make(map[domain.InventoryKey]*keyState)}
}

func (m *MemoryAdapter) state(key domain.InventoryKey) *keyState {
	m.mu.RLock()
	ks := m.keys[key]
	m.mu.RUnlock()
	if ks != nil {
		return ks
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ks = m.keys[key]; ks == nil {
		ks = &keyState{proj: domain.Projection{Key: key}}
		m.keys[key] = ks
	}
	return ks
}

func (m *MemoryAdapter) Admit(ctx context.Context, key domain.InventoryKey, decide port.DecideFunc) (domain.ChangeEvent, domain.Projection, error) {
	ks := m.state(key)
	ks.admit.Lock()
	defer ks.admit.Unlock()

	if ks.divergence != nil {
		return domain.ChangeEvent{}, domain.Projection{}, ks.divergence
	}

	ev, err := decide(ks.proj)
	if err != nil {
		return domain.ChangeEvent{}, domain.Projection{}, err
	}
	ev.EventID = ks.proj.LastAppliedEventID + 1

	m.mu.Lock()
	ks.events = append(ks.events, ev)
	ks.proj.Apply(ev)
	proj := ks.proj
	m.mu.Unlock()

	return ev, proj, nil
}

func (m *MemoryAdapter) Projection(ctx context.Context, key domain.InventoryKey) (domain.Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks := m.keys[key]
	if ks == nil {
		return domain.Projection{Key: key}, nil
	}
	return ks.proj, nil
}

func (m *MemoryAdapter) Events(ctx context.Context, key domain.InventoryKey, sinceEventID uint64) ([]domain.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks := m.keys[key]
	if ks == nil {
		return nil, nil
	}
	var out []domain.ChangeEvent
	for _, ev := range ks.events {
		if ev.EventID > sinceEventID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) SnapshotQuantities(ctx context.Context, warehouseID string, productIDs []string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(productIDs))
	for _, pid := range productIDs {
		key := domain.InventoryKey{WarehouseID: warehouseID, ProductID: pid}
		if ks := m.keys[key]; ks != nil {
			out[pid] = ks.proj.CurrentQuantity
		} else {
			out[pid] = 0
		}
	}
	return out, nil
}

func (m *MemoryAdapter) SoldSince(ctx context.Context, key domain.InventoryKey, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks := m.keys[key]
	if ks == nil {
		return 0, nil
	}
	var total int64
	for _, ev := range ks.events {
		if ev.Type == domain.ChangeSold && ev.OccurredAt.After(since) {
			total += -ev.QuantityDelta
		}
	}
	return total, nil
}

// replayBoundary folds the events present right now without blocking
// admissions. It returns the rebuilt projection and how many events it
// covered; the caller folds the tail that lands after the boundary under
// the key's admission lock.
func (m *MemoryAdapter) replayBoundary(key domain.InventoryKey, ks *keyState) (domain.Projection, int) {
	m.mu.RLock()
	boundary := make([]domain.ChangeEvent, len(ks.events))
	copy(boundary, ks.events)
	m.mu.RUnlock()
	return domain.Replay(key, boundary), len(boundary)
}

func (m *MemoryAdapter) Verify(ctx context.Context, key domain.InventoryKey) (domain.Projection, error) {
	ks := m.state(key)
	rebuilt, n := m.replayBoundary(key, ks)

	ks.admit.Lock()
	defer ks.admit.Unlock()

	m.mu.RLock()
	tail := ks.events[n:]
	live := ks.proj
	m.mu.RUnlock()
	for _, ev := range tail {
		rebuilt.Apply(ev)
	}

	if rebuilt.Equal(live) {
		return live, nil
	}
	ks.divergence = &domain.DivergenceError{
		Key:              key,
		LiveQuantity:     live.CurrentQuantity,
		ReplayedQuantity: rebuilt.CurrentQuantity,
		LiveEventID:      live.LastAppliedEventID,
		ReplayedEventID:  rebuilt.LastAppliedEventID,
	}
	return domain.Projection{}, ks.divergence
}

func (m *MemoryAdapter) Reconcile(ctx context.Context, key domain.InventoryKey) (domain.Projection, error) {
	ks := m.state(key)
	rebuilt, n := m.replayBoundary(key, ks)

	ks.admit.Lock()
	defer ks.admit.Unlock()

	m.mu.RLock()
	tail := ks.events[n:]
	m.mu.RUnlock()
	for _, ev := range tail {
		rebuilt.Apply(ev)
	}

	m.mu.Lock()
	ks.proj = rebuilt
	m.mu.Unlock()
	ks.divergence = nil
	return rebuilt, nil
}
