package models

import (
	"time"

	"github.com/google/uuid"
)

// LoyaltyLog records one points movement. The aggregate lives on the user
// row; the log is the audit trail.
type LoyaltyLog struct {
	ID     uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	Points int    `gorm:"column:points;not null"`
	Reason string `gorm:"column:reason;not null"`
	RefID  *uuid.UUID `gorm:"column:ref_id;type:uuid"`
	Note   string `gorm:"column:note;not null;default:''"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
