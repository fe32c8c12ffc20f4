package regional

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

const defaultRateBps = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service attributes a slice of each shipped order to the regional agent
// of the buyer's city. Runs after the shipment transaction commits; a
// failure is logged and dropped, it never reaches the order flow.
type Service struct {
	tx          txRunner
	db          *gorm.DB
	commissions *commission.Service
	rateBps     int64
	logg        *logger.Logger
}

// NewService builds a regional attribution service. rateBps is the share
// of the order amount attributed, in basis points.
func NewService(tx txRunner, db *gorm.DB, commissions *commission.Service, rateBps int64, logg *logger.Logger) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if commissions == nil {
		return nil, fmt.Errorf("commission service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rateBps <= 0 {
		rateBps = defaultRateBps
	}
	return &Service{tx: tx, db: db, commissions: commissions, rateBps: rateBps, logg: logg}, nil
}

// Attribute writes a frozen regional commission for the buyer city's agent.
// Cities without a regional agent are silently skipped.
func (s *Service) Attribute(ctx context.Context, orderID uuid.UUID, buyerCity string, amountFen int64) {
	if buyerCity == "" || amountFen <= 0 {
		return
	}
	agent, err := s.regionalAgent(ctx, buyerCity)
	if err != nil {
		s.logg.Error(ctx, "regional agent lookup failed", err)
		return
	}
	if agent == nil {
		return
	}

	share := amountFen * s.rateBps / 10000
	if share <= 0 {
		return
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.commissions.CreateFrozen(ctx, tx, commission.CreateFrozenInput{
			OrderID:   orderID,
			UserID:    agent.ID,
			AmountFen: share,
			Type:      enums.CommissionTypeRegional,
		})
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "regional attribution failed", err)
	}
}

// regionalAgent picks the longest-standing agent in the city.
func (s *Service) regionalAgent(ctx context.Context, city string) (*models.User, error) {
	var agent models.User
	err := s.db.WithContext(ctx).
		Where("tier = ? AND city = ?", int(enums.UserTierAgent), city).
		Order("created_at ASC").
		First(&agent).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}
