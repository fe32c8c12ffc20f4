package referral

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
)

// maxDepth bounds the upward walk. A chain deeper than this, like a cycle,
// indicates corrupted referral data rather than a legitimate org tree.
const maxDepth = 50

// ErrCycleDetected and ErrDepthExceeded are integrity alerts: the caller
// must let the customer-facing flow complete and alert operators instead.
var (
	ErrCycleDetected = pkgerrors.New(pkgerrors.CodeIntegrity, "referral chain cycle detected")
	ErrDepthExceeded = pkgerrors.New(pkgerrors.CodeIntegrity, "referral chain depth guard exceeded")
)

type userReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// GapSegment is one ancestor's tier-price-difference commission.
type GapSegment struct {
	UserID    uuid.UUID
	FromTier  enums.UserTier
	ToTier    enums.UserTier
	AmountFen int64
}

// PriceResolver returns the unit price the product charges a given tier.
type PriceResolver func(tier enums.UserTier) int64

// Walker climbs the parent chain emitting gap commissions.
type Walker struct {
	users userReader
}

// NewWalker builds a referral graph walker.
func NewWalker(users userReader) (*Walker, error) {
	if users == nil {
		return nil, fmt.Errorf("user reader required")
	}
	return &Walker{users: users}, nil
}

// Walk starts at the buyer's price tier and climbs parent edges. Each
// ancestor whose tier is strictly above the last tier seen earns the price
// difference between the two tiers times quantity — unless that ancestor is
// the order's fulfilling agent, whose margin is computed separately and must
// not be paid twice. The walk stops at agent tier or when a guard trips.
func (w *Walker) Walk(ctx context.Context, buyer *models.User, orderAgentID *uuid.UUID, price PriceResolver, qty int) ([]GapSegment, error) {
	if buyer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer required")
	}
	if price == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price resolver required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	var segments []GapSegment
	lastTier := buyer.Tier
	visited := map[uuid.UUID]struct{}{buyer.ID: {}}
	next := buyer.ParentID

	for depth := 0; next != nil; depth++ {
		if depth >= maxDepth {
			return segments, ErrDepthExceeded
		}
		if _, seen := visited[*next]; seen {
			return segments, ErrCycleDetected
		}
		ancestor, err := w.users.FindByID(ctx, *next)
		if err != nil {
			return segments, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral ancestor")
		}
		visited[ancestor.ID] = struct{}{}

		if ancestor.Tier.Above(lastTier) {
			isOrderAgent := orderAgentID != nil && ancestor.ID == *orderAgentID
			gap := price(lastTier) - price(ancestor.Tier)
			if !isOrderAgent && gap > 0 {
				segments = append(segments, GapSegment{
					UserID:    ancestor.ID,
					FromTier:  lastTier,
					ToTier:    ancestor.Tier,
					AmountFen: gap * int64(qty),
				})
			}
			lastTier = ancestor.Tier
		}

		if lastTier >= enums.UserTierAgent {
			break
		}
		next = ancestor.ParentID
	}

	return segments, nil
}
