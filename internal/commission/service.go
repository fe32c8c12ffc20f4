package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
)

// Service owns the commission lifecycle:
// frozen → pending_approval → approved → settled, or cancelled at any
// pre-settled point. Amounts only shrink after creation.
type Service struct {
	repo  Repository
	users users.Repository
	now   func() time.Time
}

// NewService builds the commission ledger service.
func NewService(repo Repository, usersRepo users.Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if usersRepo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	return &Service{repo: repo, users: usersRepo, now: time.Now}, nil
}

// CreateFrozenInput captures one frozen commission row at fulfillment time.
type CreateFrozenInput struct {
	OrderID        uuid.UUID
	UserID         uuid.UUID
	AmountFen      int64
	Type           enums.CommissionType
	RefundDeadline *time.Time
}

// CreateFrozen writes a frozen row. Zero or negative amounts are rejected;
// callers decide whether that is a validation failure or an integrity alert.
func (s *Service) CreateFrozen(ctx context.Context, tx *gorm.DB, input CreateFrozenInput) (*models.CommissionLog, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AmountFen <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission amount must be positive")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid commission type")
	}

	log := &models.CommissionLog{
		OrderID:           input.OrderID,
		UserID:            input.UserID,
		AmountFen:         input.AmountFen,
		OriginalAmountFen: input.AmountFen,
		Type:              input.Type,
		Status:            enums.CommissionStatusFrozen,
		RefundDeadline:    input.RefundDeadline,
	}
	if err := s.repo.WithTx(tx).Create(ctx, log); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create commission")
	}
	return log, nil
}

// Release moves a frozen row past its refund deadline into pending
// approval. Returns false when another worker already advanced it.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	advanced, err := s.repo.WithTx(tx).AdvanceStatus(ctx, id,
		enums.CommissionStatusFrozen, enums.CommissionStatusPendingApproval, nil)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release commission")
	}
	return advanced, nil
}

// Approve records the human approval and stamps when settlement may run.
func (s *Service) Approve(ctx context.Context, tx *gorm.DB, id uuid.UUID, availableAt time.Time) (bool, error) {
	advanced, err := s.repo.WithTx(tx).AdvanceStatus(ctx, id,
		enums.CommissionStatusPendingApproval, enums.CommissionStatusApproved,
		map[string]any{"available_at": availableAt})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve commission")
	}
	return advanced, nil
}

// Settle irreversibly applies an approved row to the beneficiary. Debt is
// offset before any balance credit; the split is recorded in the remark for
// audit. Returns false when another worker settled the row first.
func (s *Service) Settle(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	repo := s.repo.WithTx(tx)
	usersRepo := s.users.WithTx(tx)

	log, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock commission")
	}
	if log.Status != enums.CommissionStatusApproved {
		return false, nil
	}

	beneficiary, err := usersRepo.FindByIDForUpdate(ctx, log.UserID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock beneficiary")
	}

	offset := beneficiary.DebtFen
	if offset > log.AmountFen {
		offset = log.AmountFen
	}
	credit := log.AmountFen - offset

	if offset > 0 {
		if err := usersRepo.AddDebt(ctx, beneficiary.ID, -offset); err != nil {
			return false, err
		}
	}
	if credit > 0 {
		if err := usersRepo.AddBalance(ctx, beneficiary.ID, credit); err != nil {
			return false, err
		}
	}

	now := s.now().UTC()
	remark := appendRemark(log.Remark, fmt.Sprintf("settled: debt_offset=%d credited=%d", offset, credit))
	advanced, err := repo.AdvanceStatus(ctx, id,
		enums.CommissionStatusApproved, enums.CommissionStatusSettled,
		map[string]any{"settled_at": now, "remark": remark})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle commission")
	}
	if !advanced {
		// The row lock makes this unreachable in practice; treat it as a
		// conflict so the surrounding transaction rolls the credit back.
		return false, pkgerrors.New(pkgerrors.CodeConflict, "commission advanced concurrently")
	}
	return true, nil
}

// Reduce prorates a not-yet-settled row down to newAmountFen. Amounts that
// would not stay positive cancel the row instead.
func (s *Service) Reduce(ctx context.Context, tx *gorm.DB, id uuid.UUID, newAmountFen int64) (bool, error) {
	if newAmountFen <= 0 {
		return s.Cancel(ctx, tx, id, "prorated to zero by refund")
	}
	reduced, err := s.repo.WithTx(tx).ReduceAmount(ctx, id, newAmountFen)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reduce commission")
	}
	return reduced, nil
}

// Cancel terminates a not-yet-settled row. The reason is appended to the
// remark so earlier audit notes survive.
func (s *Service) Cancel(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) (bool, error) {
	repo := s.repo.WithTx(tx)
	log, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock commission")
	}
	switch log.Status {
	case enums.CommissionStatusFrozen,
		enums.CommissionStatusPendingApproval,
		enums.CommissionStatusApproved:
	default:
		return false, nil
	}
	advanced, err := repo.AdvanceStatus(ctx, id, log.Status, enums.CommissionStatusCancelled,
		map[string]any{"remark": appendRemark(log.Remark, reason)})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel commission")
	}
	return advanced, nil
}

// ClawbackSettled reverses a settled row through the beneficiary's balance.
// When the balance cannot cover the full amount the shortfall is carried as
// debt instead of driving the balance negative.
func (s *Service) ClawbackSettled(ctx context.Context, tx *gorm.DB, log *models.CommissionLog) error {
	if log.Status != enums.CommissionStatusSettled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "clawback requires a settled commission")
	}
	usersRepo := s.users.WithTx(tx)

	beneficiary, err := usersRepo.FindByIDForUpdate(ctx, log.UserID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock beneficiary")
	}

	fromBalance := log.AmountFen
	if beneficiary.BalanceFen < fromBalance {
		fromBalance = beneficiary.BalanceFen
	}
	shortfall := log.AmountFen - fromBalance

	if fromBalance > 0 {
		if err := usersRepo.AddBalance(ctx, beneficiary.ID, -fromBalance); err != nil {
			return err
		}
	}
	if shortfall > 0 {
		if err := usersRepo.AddDebt(ctx, beneficiary.ID, shortfall); err != nil {
			return err
		}
	}

	remark := appendRemark(log.Remark, fmt.Sprintf("clawback: from_balance=%d to_debt=%d", fromBalance, shortfall))
	res := tx.WithContext(ctx).
		Model(&models.CommissionLog{}).
		Where("id = ?", log.ID).
		Update("remark", remark)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "record clawback")
	}
	return nil
}

func appendRemark(existing *string, note string) string {
	if existing == nil || *existing == "" {
		return note
	}
	return *existing + " " + note
}

// StampRefundDeadline backfills refund_deadline on the order's frozen rows.
// Called when the order completes and the refund window is finally known.
func (s *Service) StampRefundDeadline(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, deadline time.Time) error {
	if err := s.repo.WithTx(tx).StampRefundDeadline(ctx, orderID, deadline); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp refund deadline")
	}
	return nil
}
