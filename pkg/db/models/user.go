package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

// User is a buyer or reseller in the chain. ParentID is the authoritative
// upward referral edge; AgentID is a cached routing shortcut set once when
// the nearest ancestor agent is resolved at promotion time and intentionally
// not cascaded to descendants afterwards.
type User struct {
	ID       uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Phone    string         `gorm:"column:phone;type:text;not null;uniqueIndex"`
	Nickname string         `gorm:"column:nickname;not null"`
	Tier     enums.UserTier `gorm:"column:tier;not null;default:0"`
	ParentID *uuid.UUID     `gorm:"column:parent_id;type:uuid;index"`
	AgentID  *uuid.UUID     `gorm:"column:agent_id;type:uuid;index"`
	City     string         `gorm:"column:city;not null;default:''"`

	// CloudStock is the agent-only cloud inventory pool. Mutated only
	// through guarded increments inside locked transactions.
	CloudStock int `gorm:"column:cloud_stock;not null;default:0"`

	BalanceFen int64 `gorm:"column:balance_fen;not null;default:0"`
	// DebtFen carries forward what a clawback could not take from balance.
	DebtFen int64 `gorm:"column:debt_fen;not null;default:0"`

	Points      int `gorm:"column:points;not null;default:0"`
	GrowthValue int `gorm:"column:growth_value;not null;default:0"`

	OrderCount      int   `gorm:"column:order_count;not null;default:0"`
	ValidOrderCount int   `gorm:"column:valid_order_count;not null;default:0"`
	TotalSalesFen   int64 `gorm:"column:total_sales_fen;not null;default:0"`
	RefereeCount    int   `gorm:"column:referee_count;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
