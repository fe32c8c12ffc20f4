package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

// Service writes user notifications. Sends are best effort: a failed insert
// is logged and swallowed so it can never roll back the financial
// transaction that triggered it.
type Service struct {
	db   *gorm.DB
	logg *logger.Logger
}

// NewService builds a notification service.
func NewService(db *gorm.DB, logg *logger.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{db: db, logg: logg}, nil
}

// SendInput is one notification to deliver.
type SendInput struct {
	UserID   uuid.UUID
	Title    string
	Body     string
	Category enums.NotificationCategory
	RefID    *uuid.UUID
}

// Send inserts the notification outside any caller transaction.
func (s *Service) Send(ctx context.Context, input SendInput) {
	if input.UserID == uuid.Nil || input.Title == "" {
		return
	}
	row := &models.Notification{
		UserID:   input.UserID,
		Title:    input.Title,
		Body:     input.Body,
		Category: input.Category,
		RefID:    input.RefID,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		s.logg.Error(ctx, "notification send failed", err)
	}
}

// MarkRead stamps read_at on the user's notification.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		Update("read_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

// ListUnread returns the user's unread notifications, newest first.
func (s *Service) ListUnread(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND read_at IS NULL", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
