package participation

import (
	"context"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/uptrace/bun"

	"bar-orders/internal/models"
)

// Ledger records and removes "user joined event" facts. It is the terminal
// side effect of the payment lifecycle: rows appear when an order reaches
// confirmed and disappear when it is refunded. Methods take a bun.IDB so the
// order store can call them inside its transactions.
type Ledger struct {
	db bun.IDB
}

func NewLedger(db bun.IDB) *Ledger {
	return &Ledger{db: db}
}

// Exists reports whether the user already holds a place at the event.
func (l *Ledger) Exists(ctx context.Context, userID, eventID int64) (bool, error) {
	return l.db.NewSelect().
		Model((*models.ParticipationRecord)(nil)).
		Where("p.user_id = ?", userID).
		Where("p.event_id = ?", eventID).
		Exists(ctx)
}

// ListByUser returns the user's participation records, newest first.
func (l *Ledger) ListByUser(ctx context.Context, userID int64) ([]models.ParticipationRecord, error) {
	var records []models.ParticipationRecord
	err := l.db.NewSelect().
		Model(&records).
		Where("p.user_id = ?", userID).
		Order("joined_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Add inserts participation rows for the user and events. A pair that
// already exists is left alone: re-applying a confirmation must not fail.
func Add(ctx context.Context, db bun.IDB, userID int64, eventIDs []int64, joinedAt time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	records := make([]models.ParticipationRecord, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		records = append(records, models.ParticipationRecord{
			UserID:   userID,
			EventID:  eventID,
			JoinedAt: joinedAt,
		})
	}
	_, err := db.NewInsert().
		Model(&records).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

// Remove deletes the user's participation rows for the given events. Used
// by refunds; removing an absent pair is a no-op.
func Remove(ctx context.Context, db bun.IDB, userID int64, eventIDs []int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := db.NewDelete().
		Model((*models.ParticipationRecord)(nil)).
		Where("p.user_id = ?", userID).
		Where("p.event_id IN (?)", bun.In(eventIDs)).
		Exec(ctx)
	return err
}

// EntryPass renders the participation record as a PNG QR code scanned at
// the door. The payload is stable so a re-render matches the first one.
func EntryPass(record models.ParticipationRecord, size int) ([]byte, error) {
	payload := fmt.Sprintf("barpass:%d:%d:%d", record.UserID, record.EventID, record.JoinedAt.Unix())
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry pass: %w", err)
	}
	return png, nil
}
