package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

// RemarkStockReserved is appended to an order remark when the agent's
// cloud stock was actually deducted ahead of the shipped_at stamp. The
// refund engine reads it to decide whether cloud stock can be restored.
const RemarkStockReserved = "[cloud-stock-deducted]"

// RemarkValidCounted marks that the buyer's valid-order counter already
// absorbed this order, so repeated release sweeps count it exactly once.
const RemarkValidCounted = "[valid-counted]"

// Order is one row of the order state machine. A mixed-fulfillment
// purchase splits into an agent parent and a company child that share the
// buyer, product and address snapshot; physical stock for the combined
// quantity is deducted exactly once at creation.
type Order struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNo string    `gorm:"column:order_no;not null;uniqueIndex"`

	BuyerID uuid.UUID  `gorm:"column:buyer_id;type:uuid;not null;index"`
	AgentID *uuid.UUID `gorm:"column:agent_id;type:uuid;index"`

	Status enums.OrderStatus `gorm:"column:status;not null;default:'pending';index"`

	ProductID uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	SKUID     *uuid.UUID `gorm:"column:sku_id;type:uuid"`
	Quantity  int        `gorm:"column:quantity;not null"`

	TotalFen  int64 `gorm:"column:total_fen;not null"`
	ActualFen int64 `gorm:"column:actual_fen;not null;default:0"`
	// LockedAgentCostFen snapshots the agent cost at creation so later
	// price changes cannot retroactively alter margin.
	LockedAgentCostFen int64 `gorm:"column:locked_agent_cost_fen;not null"`

	FulfillmentType      enums.FulfillmentType `gorm:"column:fulfillment_type;not null;default:'company'"`
	FulfillmentPartnerID *uuid.UUID            `gorm:"column:fulfillment_partner_id;type:uuid"`

	ParentOrderID *uuid.UUID `gorm:"column:parent_order_id;type:uuid;index"`

	MiddleCommissionTotalFen int64 `gorm:"column:middle_commission_total_fen;not null;default:0"`

	// SettlementAt is the refund deadline stamped at confirmation.
	SettlementAt *time.Time `gorm:"column:settlement_at;index"`

	AddressSnapshot string  `gorm:"column:address_snapshot;not null;default:''"`
	PickupCode      *string `gorm:"column:pickup_code"`
	PickupQRToken   *string `gorm:"column:pickup_qr_token"`
	Remark          *string `gorm:"column:remark"`

	PaidAt      *time.Time `gorm:"column:paid_at"`
	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	RefundedAt  *time.Time `gorm:"column:refunded_at"`

	Children []Order `gorm:"foreignKey:ParentOrderID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// CombinedQuantity sums the parent quantity with every loaded child.
// Every restore and cancel path must use this accessor instead of
// re-deriving the sum at the call site.
func (o *Order) CombinedQuantity() int {
	total := o.Quantity
	for i := range o.Children {
		total += o.Children[i].Quantity
	}
	return total
}

// CombinedTotalFen sums the parent amount with every loaded child.
func (o *Order) CombinedTotalFen() int64 {
	total := o.TotalFen
	for i := range o.Children {
		total += o.Children[i].TotalFen
	}
	return total
}

// HasCloudStockMarker reports whether the remark carries the
// cloud-stock-deducted marker.
func (o *Order) HasCloudStockMarker() bool {
	return o.Remark != nil && strings.Contains(*o.Remark, RemarkStockReserved)
}

// HasValidCountedMarker reports whether the buyer's valid-order counter
// already absorbed this order.
func (o *Order) HasValidCountedMarker() bool {
	return o.Remark != nil && strings.Contains(*o.Remark, RemarkValidCounted)
}
