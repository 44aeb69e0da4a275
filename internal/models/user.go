package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	UserStatusActive  int16 = 1
	UserStatusDeleted int16 = 2
)

// User is owned by the accounts subsystem; orders only check existence and
// active status.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:"id,pk" json:"id,string"`
	Name      string    `bun:"name" json:"name"`
	Role      string    `bun:"role" json:"role"`
	Status    int16     `bun:"status,notnull,default:1" json:"-"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}
