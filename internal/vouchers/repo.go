package vouchers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// Repository is the persistence surface for vouchers. Usage is always derived
// by counting orders, never read from a stored counter.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, voucher *models.Voucher) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	FindByEventAndCodeForUpdate(ctx context.Context, eventID uuid.UUID, code string) (*models.Voucher, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, publicOnly bool) ([]models.Voucher, error)
	Update(ctx context.Context, voucher *models.Voucher) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountUsage(ctx context.Context, voucherID uuid.UUID) (int64, error)
	CountUsageByUser(ctx context.Context, voucherID, userID uuid.UUID) (int64, error)
	CountFulfilledUsage(ctx context.Context, voucherID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a voucher repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, voucher *models.Voucher) error {
	return r.db.WithContext(ctx).Create(voucher).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	var voucher models.Voucher
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&voucher).Error
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

// FindByEventAndCodeForUpdate locks the voucher row so concurrent redemptions
// of the same code serialize on the usage-limit check. Codes are stored
// uppercased; callers normalize before lookup.
func (r *repository) FindByEventAndCodeForUpdate(ctx context.Context, eventID uuid.UUID, code string) (*models.Voucher, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var voucher models.Voucher
	if err := query.Where("event_id = ? AND code = ?", eventID, code).First(&voucher).Error; err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *repository) ListByEvent(ctx context.Context, eventID uuid.UUID, publicOnly bool) ([]models.Voucher, error) {
	query := r.db.WithContext(ctx).Where("event_id = ?", eventID)
	if publicOnly {
		query = query.Where("public = ? AND active = ?", true, true)
	}
	var vouchers []models.Voucher
	err := query.Order("created_at ASC").Find(&vouchers).Error
	return vouchers, err
}

func (r *repository) Update(ctx context.Context, voucher *models.Voucher) error {
	return r.db.WithContext(ctx).Save(voucher).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Voucher{}, "id = ?", id).Error
}

// CountUsage counts every live order referencing the voucher. Unpaid holds
// count too: the sweeper removes them once they lapse, so anything still in
// the table occupies a use.
func (r *repository) CountUsage(ctx context.Context, voucherID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("voucher_id = ?", voucherID).
		Count(&count).Error
	return count, err
}

func (r *repository) CountUsageByUser(ctx context.Context, voucherID, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("voucher_id = ? AND user_id = ?", voucherID, userID).
		Count(&count).Error
	return count, err
}

// CountFulfilledUsage counts only completed redemptions; this is the
// "historical usage" that freezes a voucher against edits.
func (r *repository) CountFulfilledUsage(ctx context.Context, voucherID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("voucher_id = ? AND status = ?", voucherID, enums.OrderStatusFulfilled).
		Count(&count).Error
	return count, err
}
