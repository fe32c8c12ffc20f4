package loyalty

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

// Service credits loyalty points and growth value. Calls run after the
// financial transaction commits; a failure here is logged, never bubbled
// back into the order flow.
type Service struct {
	db   *gorm.DB
	logg *logger.Logger
}

// NewService builds a loyalty service.
func NewService(db *gorm.DB, logg *logger.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{db: db, logg: logg}, nil
}

// AddPoints credits points and writes the audit row.
func (s *Service) AddPoints(ctx context.Context, userID uuid.UUID, points int, reason string, refID *uuid.UUID, note string) {
	if points == 0 {
		return
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			UPDATE users
			SET points = points + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND points + ? >= 0
		`, points, userID, points)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("points update rejected for user %s", userID)
		}
		return tx.Create(&models.LoyaltyLog{
			UserID: userID,
			Points: points,
			Reason: reason,
			RefID:  refID,
			Note:   note,
		}).Error
	})
	if err != nil {
		s.logg.Error(ctx, "loyalty points credit failed", err)
	}
}

// AddGrowthValue credits growth value without an audit row.
func (s *Service) AddGrowthValue(ctx context.Context, userID uuid.UUID, amount int) {
	if amount == 0 {
		return
	}
	res := s.db.WithContext(ctx).Exec(`
		UPDATE users
		SET growth_value = growth_value + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, amount, userID)
	if res.Error != nil {
		s.logg.Error(ctx, "growth value credit failed", res.Error)
	}
}
