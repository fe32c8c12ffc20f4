package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

// Product carries the platform stock counter and the per-tier price table.
// Prices are minor units; each tier buys strictly cheaper than the one
// below it when the catalog is well formed.
type Product struct {
	ID    uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title string    `gorm:"column:title;not null"`
	OnSale bool     `gorm:"column:on_sale;not null;default:true"`

	Stock int `gorm:"column:stock;not null;default:0"`

	RetailPriceFen int64 `gorm:"column:retail_price_fen;not null"`
	MemberPriceFen int64 `gorm:"column:member_price_fen;not null"`
	LeaderPriceFen int64 `gorm:"column:leader_price_fen;not null"`
	AgentPriceFen  int64 `gorm:"column:agent_price_fen;not null"`

	// AgentCostFen is the cloud-stock purchase cost snapshotted onto
	// orders at creation time.
	AgentCostFen int64 `gorm:"column:agent_cost_fen;not null"`

	SKUs      []ProductSKU `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// PriceForTier resolves the unit price a buyer at the given tier pays.
func (p *Product) PriceForTier(tier enums.UserTier) int64 {
	switch tier {
	case enums.UserTierAgent:
		return p.AgentPriceFen
	case enums.UserTierTeamLeader:
		return p.LeaderPriceFen
	case enums.UserTierMember:
		return p.MemberPriceFen
	default:
		return p.RetailPriceFen
	}
}

// ProductSKU is an optional variant with its own stock and price table.
type ProductSKU struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null;index"`
	Spec      string    `gorm:"column:spec;not null"`

	Stock int `gorm:"column:stock;not null;default:0"`

	RetailPriceFen int64 `gorm:"column:retail_price_fen;not null"`
	MemberPriceFen int64 `gorm:"column:member_price_fen;not null"`
	LeaderPriceFen int64 `gorm:"column:leader_price_fen;not null"`
	AgentPriceFen  int64 `gorm:"column:agent_price_fen;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// PriceForTier resolves the SKU unit price for the buyer's tier.
func (s *ProductSKU) PriceForTier(tier enums.UserTier) int64 {
	switch tier {
	case enums.UserTierAgent:
		return s.AgentPriceFen
	case enums.UserTierTeamLeader:
		return s.LeaderPriceFen
	case enums.UserTierMember:
		return s.MemberPriceFen
	default:
		return s.RetailPriceFen
	}
}
