package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warebase/stockledger/internal/core/domain"
	"github.com/warebase/stockledger/internal/port"
)

var ErrStaleProjection = errors.New("projection changed during admission")

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// lockProjection ensures the projection row exists and returns it locked
// until tx ends, which serializes admissions per key across instances.
func (m *MySQLAdapter) lockProjection(ctx context.Context, tx *sql.Tx, key domain.InventoryKey) (domain.Projection, bool, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_projections
			(warehouse_id, product_id, current_quantity, reserved_outstanding, last_event_id, diverged, updated_at)
		VALUES (?, ?, 0, 0, 0, 0, NOW(6))
		ON DUPLICATE KEY UPDATE warehouse_id = warehouse_id`,
		key.WarehouseID, key.ProductID,
	)
	if err != nil {
		return domain.Projection{}, false, fmt.Errorf("ensure projection row: %w", err)
	}

	p := domain.Projection{Key: key}
	var diverged bool
	err = tx.QueryRowContext(ctx, `
		SELECT current_quantity, reserved_outstanding, last_event_id, diverged
		FROM inventory_projections
		WHERE warehouse_id = ? AND product_id = ?
		FOR UPDATE`,
		key.WarehouseID, key.ProductID,
	).Scan(&p.CurrentQuantity, &p.ReservedOutstanding, &p.LastAppliedEventID, &diverged)
	if err != nil {
		return domain.Projection{}, false, fmt.Errorf("lock projection: %w", err)
	}
	return p, diverged, nil
}

func (m *MySQLAdapter) Admit(ctx context.Context, key domain.InventoryKey, decide port.DecideFunc) (domain.ChangeEvent, domain.Projection, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChangeEvent{}, domain.Projection{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, diverged, err := m.lockProjection(ctx, tx, key)
	if err != nil {
		return domain.ChangeEvent{}, domain.Projection{}, err
	}
	if diverged {
		return domain.ChangeEvent{}, domain.Projection{}, &domain.DivergenceError{
			Key:          key,
			LiveQuantity: p.CurrentQuantity,
			LiveEventID:  p.LastAppliedEventID,
		}
	}

	ev, err := decide(p)
	if err != nil {
		return domain.ChangeEvent{}, domain.Projection{}, err
	}
	ev.EventID = p.LastAppliedEventID + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_events
			(warehouse_id, product_id, event_id, uid, change_type, quantity_delta, occurred_at, reference)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Key.WarehouseID, ev.Key.ProductID, ev.EventID, ev.UID, string(ev.Type),
		ev.QuantityDelta, ev.OccurredAt, ev.Reference,
	)
	if err != nil {
		return domain.ChangeEvent{}, domain.Projection{}, fmt.Errorf("append event: %w", err)
	}

	next := p
	next.Apply(ev)
	result, err := tx.ExecContext(ctx, `
		UPDATE inventory_projections
		SET current_quantity = ?, reserved_outstanding = ?, last_event_id = ?, updated_at = NOW(6)
		WHERE warehouse_id = ? AND product_id = ? AND last_event_id = ?`,
		next.CurrentQuantity, next.ReservedOutstanding, next.LastAppliedEventID,
		key.WarehouseID, key.ProductID, p.LastAppliedEventID,
	)
	if err != nil {
		return domain.ChangeEvent{}, domain.Projection{}, fmt.Errorf("advance projection: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ChangeEvent{}, domain.Projection{}, ErrStaleProjection
	}

	if err := tx.Commit(); err != nil {
		return domain.ChangeEvent{}, domain.Projection{}, fmt.Errorf("commit: %w", err)
	}
	return ev, next, nil
}

func (m *MySQLAdapter) Projection(ctx context.Context, key domain.InventoryKey) (domain.Projection, error) {
	p := domain.Projection{Key: key}
	err := m.db.QueryRowContext(ctx, `
		SELECT current_quantity, reserved_outstanding, last_event_id
		FROM inventory_projections
		WHERE warehouse_id = ? AND product_id = ?`,
		key.WarehouseID, key.ProductID,
	).Scan(&p.CurrentQuantity, &p.ReservedOutstanding, &p.LastAppliedEventID)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Projection{Key: key}, nil
	}
	if err != nil {
		return domain.Projection{}, fmt.Errorf("query projection: %w", err)
	}
	return p, nil
}

func (m *MySQLAdapter) Events(ctx context.Context, key domain.InventoryKey, sinceEventID uint64) ([]domain.ChangeEvent, error) {
	return m.eventsSince(ctx, m.db, key, sinceEventID)
}

func (m *MySQLAdapter) eventsSince(ctx context.Context, q queryer, key domain.InventoryKey, sinceEventID uint64) ([]domain.ChangeEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT event_id, uid, change_type, quantity_delta, occurred_at, reference
		FROM inventory_events
		WHERE warehouse_id = ? AND product_id = ? AND event_id > ?
		ORDER BY event_id`,
		key.WarehouseID, key.ProductID, sinceEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.ChangeEvent
	for rows.Next() {
		ev := domain.ChangeEvent{Key: key}
		var changeType string
		if err := rows.Scan(&ev.EventID, &ev.UID, &changeType, &ev.QuantityDelta, &ev.OccurredAt, &ev.Reference); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.ChangeType(changeType)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) SnapshotQuantities(ctx context.Context, warehouseID string, productIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	for _, id := range productIDs {
		out[id] = 0
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(productIDs)), ",")
	args := make([]any, 0, len(productIDs)+1)
	args = append(args, warehouseID)
	for _, id := range productIDs {
		args = append(args, id)
	}

	// one statement, so InnoDB serves every row from the same read view
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT product_id, current_quantity
		FROM inventory_projections
		WHERE warehouse_id = ? AND product_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot quantities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int64
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scan quantity: %w", err)
		}
		out[id] = qty
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) SoldSince(ctx context.Context, key domain.InventoryKey, since time.Time) (int64, error) {
	var total int64
	err := m.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(-quantity_delta), 0)
		FROM inventory_events
		WHERE warehouse_id = ? AND product_id = ? AND change_type = ? AND occurred_at > ?`,
		key.WarehouseID, key.ProductID, string(domain.ChangeSold), since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum sales: %w", err)
	}
	return total, nil
}

func (m *MySQLAdapter) Verify(ctx context.Context, key domain.InventoryKey) (domain.Projection, error) {
	// replay outside the row lock; stragglers are folded in below
	boundary, err := m.Events(ctx, key, 0)
	if err != nil {
		return domain.Projection{}, err
	}
	rebuilt := domain.Replay(key, boundary)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Projection{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	live, _, err := m.lockProjection(ctx, tx, key)
	if err != nil {
		return domain.Projection{}, err
	}
	tail, err := m.eventsSince(ctx, tx, key, rebuilt.LastAppliedEventID)
	if err != nil {
		return domain.Projection{}, err
	}
	for _, ev := range tail {
		rebuilt.Apply(ev)
	}

	if rebuilt.Equal(live) {
		if err := tx.Commit(); err != nil {
			return domain.Projection{}, fmt.Errorf("commit: %w", err)
		}
		return live, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_projections SET diverged = 1, updated_at = NOW(6)
		WHERE warehouse_id = ? AND product_id = ?`,
		key.WarehouseID, key.ProductID,
	)
	if err != nil {
		return domain.Projection{}, fmt.Errorf("mark diverged: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Projection{}, fmt.Errorf("commit: %w", err)
	}
	return domain.Projection{}, &domain.DivergenceError{
		Key:              key,
		LiveQuantity:     live.CurrentQuantity,
		ReplayedQuantity: rebuilt.CurrentQuantity,
		LiveEventID:      live.LastAppliedEventID,
		ReplayedEventID:  rebuilt.LastAppliedEventID,
	}
}

func (m *MySQLAdapter) Reconcile(ctx context.Context, key domain.InventoryKey) (domain.Projection, error) {
	boundary, err := m.Events(ctx, key, 0)
	if err != nil {
		return domain.Projection{}, err
	}
	rebuilt := domain.Replay(key, boundary)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Projection{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, _, err := m.lockProjection(ctx, tx, key); err != nil {
		return domain.Projection{}, err
	}
	tail, err := m.eventsSince(ctx, tx, key, rebuilt.LastAppliedEventID)
	if err != nil {
		return domain.Projection{}, err
	}
	for _, ev := range tail {
		rebuilt.Apply(ev)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_projections
		SET current_quantity = ?, reserved_outstanding = ?, last_event_id = ?, diverged = 0, updated_at = NOW(6)
		WHERE warehouse_id = ? AND product_id = ?`,
		rebuilt.CurrentQuantity, rebuilt.ReservedOutstanding, rebuilt.LastAppliedEventID,
		key.WarehouseID, key.ProductID,
	)
	if err != nil {
		return domain.Projection{}, fmt.Errorf("install projection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Projection{}, fmt.Errorf("commit: %w", err)
	}
	return rebuilt, nil
}
