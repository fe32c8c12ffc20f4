package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

// RefundRequest records a buyer-initiated refund on an order. An open
// request blocks the frozen→pending_approval commission sweep.
type RefundRequest struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	AmountFen int64              `gorm:"column:amount_fen;not null"`
	Type      enums.RefundType   `gorm:"column:type;not null"`
	Status    enums.RefundStatus `gorm:"column:status;not null;default:'pending';index"`

	Reason string `gorm:"column:reason;not null;default:''"`

	CompletedAt *time.Time `gorm:"column:completed_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
