package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

// CommissionLog is an append-only commission row. The amount may only ever
// shrink (partial-refund proration); a row never goes back to an earlier
// status. OriginalAmountFen keeps the pre-proration value for audit.
type CommissionLog struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	UserID  uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	AmountFen         int64 `gorm:"column:amount_fen;not null"`
	OriginalAmountFen int64 `gorm:"column:original_amount_fen;not null"`

	Type   enums.CommissionType   `gorm:"column:type;not null"`
	Status enums.CommissionStatus `gorm:"column:status;not null;default:'frozen';index"`

	// AvailableAt gates the approved→settled sweep.
	AvailableAt *time.Time `gorm:"column:available_at;index"`
	// RefundDeadline gates the frozen→pending_approval sweep.
	RefundDeadline *time.Time `gorm:"column:refund_deadline;index"`

	Remark *string `gorm:"column:remark"`

	SettledAt *time.Time `gorm:"column:settled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
