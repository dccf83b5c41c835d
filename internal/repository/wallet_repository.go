package repository

import (
	"context"
	"wa_business/internal/models"

	"gorm.io/gorm"
)

type WalletRepository interface {
	Append(ctx context.Context, entry *models.BizPointsTransaction) error
	FindByReference(ctx context.Context, userID uint, kind models.LedgerType, reference string) (*models.BizPointsTransaction, error)
	History(ctx context.Context, userID uint, limit int) ([]models.BizPointsTransaction, error)
	HistoryByType(ctx context.Context, userID uint, kind models.LedgerType, limit int) ([]models.BizPointsTransaction, error)
	SetBalance(ctx context.Context, userID uint, balance float64) error
	WithTx(tx *gorm.DB) WalletRepository
}

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) WithTx(tx *gorm.DB) WalletRepository {
	return &walletRepository{db: tx}
}

func (r *walletRepository) Append(ctx context.Context, entry *models.BizPointsTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *walletRepository) FindByReference(ctx context.Context, userID uint, kind models.LedgerType, reference string) (*models.BizPointsTransaction, error) {
	var entry models.BizPointsTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND reference = ?", userID, kind, reference).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *walletRepository) History(ctx context.Context, userID uint, limit int) ([]models.BizPointsTransaction, error) {
	var entries []models.BizPointsTransaction
	query := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&entries).Error
	return entries, err
}

func (r *walletRepository) HistoryByType(ctx context.Context, userID uint, kind models.LedgerType, limit int) ([]models.BizPointsTransaction, error) {
	var entries []models.BizPointsTransaction
	query := r.db.WithContext(ctx).Where("user_id = ? AND type = ?", userID, kind).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&entries).Error
	return entries, err
}

func (r *walletRepository) SetBalance(ctx context.Context, userID uint, balance float64) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("biz_points", balance).Error
}
