package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

// Notification is a best-effort user message. Delivery failures are logged,
// never propagated into the financial transaction that produced them.
type Notification struct {
	ID     uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	Title    string                     `gorm:"column:title;not null"`
	Body     string                     `gorm:"column:body;not null"`
	Category enums.NotificationCategory `gorm:"column:category;not null"`
	RefID    *uuid.UUID                 `gorm:"column:ref_id;type:uuid"`

	ReadAt    *time.Time `gorm:"column:read_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}
