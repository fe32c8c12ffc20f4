package models

import (
	"time"

	"github.com/google/uuid"
)

// StockReservation is a short-lived hold on an agent's cloud stock taken
// while a confirm operation is in flight. It separates reserved-but-unconsumed
// from actually deducted stock so two concurrent confirms cannot race past
// a stale stock read.
type StockReservation struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgentID uuid.UUID `gorm:"column:agent_id;type:uuid;not null;index"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	Quantity int `gorm:"column:quantity;not null"`

	ExpiresAt  time.Time  `gorm:"column:expires_at;not null;index"`
	ConsumedAt *time.Time `gorm:"column:consumed_at"`
	ReleasedAt *time.Time `gorm:"column:released_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Active reports whether the hold still counts against the agent's stock.
func (r *StockReservation) Active(now time.Time) bool {
	return r.ConsumedAt == nil && r.ReleasedAt == nil && now.Before(r.ExpiresAt)
}
