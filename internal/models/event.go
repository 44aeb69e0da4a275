package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	EventStatusActive  int16 = 1
	EventStatusDeleted int16 = 2
)

// Event rows are owned by the events subsystem; this service only reads them.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID         int64     `bun:"id,pk" json:"id,string"`
	Name       string    `bun:"name,notnull" json:"name"`
	BarName    string    `bun:"bar_name" json:"bar_name"`
	Location   string    `bun:"location" json:"location"`
	StartAt    time.Time `bun:"start_date,notnull" json:"start_at"`
	EndAt      time.Time `bun:"end_date,notnull" json:"end_at"`
	MaxPeople  int       `bun:"max_people" json:"max_people"`
	Price      int64     `bun:"price" json:"price"`
	HostUserID int64     `bun:"host_user" json:"host_user_id,string"`
	Status     int16     `bun:"status,notnull,default:1" json:"-"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
}

// EventSnapshot is a point-in-time read of the fields this engine validates
// against. It is truth at read time, not a lock: final checks are repeated
// inside the order-creation transaction.
type EventSnapshot struct {
	ID           int64
	Name         string
	BarName      string
	Location     string
	StartAt      time.Time
	EndAt        time.Time
	MaxPeople    int // 0 means uncapped
	Price        int64
	HostUserID   int64
	Participants int // confirmed participants at read time
}

// Full reports whether the event has reached its capacity limit.
func (s *EventSnapshot) Full() bool {
	return s.MaxPeople > 0 && s.Participants >= s.MaxPeople
}
