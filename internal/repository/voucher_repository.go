package repository

import (
	"context"
	"wa_business/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VoucherRepository interface {
	Create(ctx context.Context, voucher *models.Voucher) error
	GetByID(ctx context.Context, id uint) (*models.Voucher, error)
	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
	LockByCode(ctx context.Context, code string) (*models.Voucher, error)
	LockByID(ctx context.Context, id uint) (*models.Voucher, error)
	List(ctx context.Context) ([]models.Voucher, error)
	Deactivate(ctx context.Context, id uint) error
	HasUsage(ctx context.Context, voucherID, userID uint) (bool, error)
	RecordUsage(ctx context.Context, usage *models.VoucherUsage) error
	// IncrementUsage bumps usage_count only while it is below usage_limit and reports whether it did.
	IncrementUsage(ctx context.Context, id uint) (bool, error)
	WithTx(tx *gorm.DB) VoucherRepository
}

type voucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) VoucherRepository {
	return &voucherRepository{db: db}
}

func (r *voucherRepository) WithTx(tx *gorm.DB) VoucherRepository {
	return &voucherRepository{db: tx}
}

func (r *voucherRepository) Create(ctx context.Context, voucher *models.Voucher) error {
	return r.db.WithContext(ctx).Create(voucher).Error
}

func (r *voucherRepository) GetByID(ctx context.Context, id uint) (*models.Voucher, error) {
	var voucher models.Voucher
	if err := r.db.WithContext(ctx).First(&voucher, id).Error; err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *voucherRepository) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&voucher).Error; err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *voucherRepository) LockByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).First(&voucher).Error
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *voucherRepository) LockByID(ctx context.Context, id uint) (*models.Voucher, error) {
	var voucher models.Voucher
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&voucher, id).Error
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *voucherRepository) List(ctx context.Context) ([]models.Voucher, error) {
	var vouchers []models.Voucher
	err := r.db.WithContext(ctx).Order("id DESC").Find(&vouchers).Error
	return vouchers, err
}

func (r *voucherRepository) Deactivate(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Model(&models.Voucher{}).Where("id = ?", id).Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *voucherRepository) HasUsage(ctx context.Context, voucherID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.VoucherUsage{}).
		Where("voucher_id = ? AND user_id = ?", voucherID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *voucherRepository) RecordUsage(ctx context.Context, usage *models.VoucherUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

func (r *voucherRepository) IncrementUsage(ctx context.Context, id uint) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Voucher{}).
		Where("id = ? AND (usage_limit = 0 OR usage_count < usage_limit)", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
