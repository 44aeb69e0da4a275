package events

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"bar-orders/internal/models"
)

// ErrNotFound covers both a missing row and a soft-deleted event; callers
// treat them the same.
var ErrNotFound = errors.New("event not found")

// Reader reads point-in-time event snapshots. Methods take a bun.IDB so the
// same reads can run against the pooled connection or inside a transaction
// when the order store re-validates under row locks.
type Reader struct {
	db bun.IDB
}

func NewReader(db bun.IDB) *Reader {
	return &Reader{db: db}
}

// Snapshot returns price, schedule, capacity and the current confirmed
// participant count for an active event.
func (r *Reader) Snapshot(ctx context.Context, eventID int64) (*models.EventSnapshot, error) {
	return snapshot(ctx, r.db, eventID, false)
}

// SnapshotTx is Snapshot inside a transaction with the event row locked, so
// concurrent order creations for the same event serialize on the capacity
// check.
func SnapshotTx(ctx context.Context, tx bun.Tx, eventID int64) (*models.EventSnapshot, error) {
	return snapshot(ctx, tx, eventID, true)
}

func snapshot(ctx context.Context, db bun.IDB, eventID int64, lock bool) (*models.EventSnapshot, error) {
	var event models.Event
	q := db.NewSelect().
		Model(&event).
		Where("e.id = ?", eventID).
		Where("e.status = ?", models.EventStatusActive).
		Limit(1)
	if lock && supportsRowLocks(db) {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	count, err := db.NewSelect().
		Model((*models.ParticipationRecord)(nil)).
		Where("p.event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return nil, err
	}

	return &models.EventSnapshot{
		ID:           event.ID,
		Name:         event.Name,
		BarName:      event.BarName,
		Location:     event.Location,
		StartAt:      event.StartAt,
		EndAt:        event.EndAt,
		MaxPeople:    event.MaxPeople,
		Price:        event.Price,
		HostUserID:   event.HostUserID,
		Participants: count,
	}, nil
}

// SQLite has no SELECT ... FOR UPDATE; its writer lock serializes the
// transaction anyway. Postgres gets the explicit row lock.
func supportsRowLocks(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}
