package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ParticipationRecord is the durable fact that a user holds a confirmed
// place at an event. It is created when the user's order reaches confirmed
// and deleted when that order is refunded. The (user_id, event_id) pair is
// unique: a user participates in an event at most once.
type ParticipationRecord struct {
	bun.BaseModel `bun:"table:user_event_participation,alias:p"`

	UserID   int64     `bun:"user_id,pk" json:"user_id,string"`
	EventID  int64     `bun:"event_id,pk" json:"event_id,string"`
	JoinedAt time.Time `bun:"joined_at,notnull" json:"joined_at"`
}
