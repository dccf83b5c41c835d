package repository

import (
	"context"
	"time"
	"wa_business/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.CustomerPackage) error
	GetByID(ctx context.Context, id uint) (*models.CustomerPackage, error)
	GetActive(ctx context.Context, userID uint) (*models.CustomerPackage, error)
	GetScheduled(ctx context.Context, userID uint) (*models.CustomerPackage, error)
	ListByUser(ctx context.Context, userID uint) ([]models.CustomerPackage, error)
	DueScheduled(ctx context.Context, now time.Time) ([]models.CustomerPackage, error)
	Overdue(ctx context.Context, now time.Time) ([]models.CustomerPackage, error)
	// Transition updates the row only while it is still in status from and reports whether it did.
	Transition(ctx context.Context, id uint, from models.SubscriptionStatus, fields map[string]interface{}) (bool, error)
	// DeactivateOthers expires every other active row of the user.
	DeactivateOthers(ctx context.Context, userID, keepID uint) (int64, error)
	IncrementMessages(ctx context.Context, id uint, limit int) (bool, error)
	AddBonusMessages(ctx context.Context, id uint, n int) error

	GetPackage(ctx context.Context, id uint) (*models.Package, error)
	ListPackages(ctx context.Context, activeOnly bool) ([]models.Package, error)

	WithTx(tx *gorm.DB) SubscriptionRepository
}

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) WithTx(tx *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: tx}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.CustomerPackage) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(sub).Error
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uint) (*models.CustomerPackage, error) {
	var sub models.CustomerPackage
	if err := r.db.WithContext(ctx).Preload("Package").First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetActive(ctx context.Context, userID uint) (*models.CustomerPackage, error) {
	var sub models.CustomerPackage
	err := r.db.WithContext(ctx).Preload("Package").
		Where("user_id = ? AND is_active = ? AND status = ?", userID, true, models.SubscriptionActive).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetScheduled(ctx context.Context, userID uint) (*models.CustomerPackage, error) {
	var sub models.CustomerPackage
	err := r.db.WithContext(ctx).Preload("Package").
		Where("user_id = ? AND status = ?", userID, models.SubscriptionScheduled).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListByUser(ctx context.Context, userID uint) ([]models.CustomerPackage, error) {
	var subs []models.CustomerPackage
	err := r.db.WithContext(ctx).Preload("Package").Where("user_id = ?", userID).Order("id DESC").Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) DueScheduled(ctx context.Context, now time.Time) ([]models.CustomerPackage, error) {
	var subs []models.CustomerPackage
	err := r.db.WithContext(ctx).Preload("Package").
		Where("status = ? AND scheduled_start_date <= ?", models.SubscriptionScheduled, now).
		Order("scheduled_start_date ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) Overdue(ctx context.Context, now time.Time) ([]models.CustomerPackage, error) {
	var subs []models.CustomerPackage
	err := r.db.WithContext(ctx).
		Where("status = ? AND is_active = ? AND end_date < ?", models.SubscriptionActive, true, now).
		Order("end_date ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) Transition(ctx context.Context, id uint, from models.SubscriptionStatus, fields map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.CustomerPackage{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *subscriptionRepository) DeactivateOthers(ctx context.Context, userID, keepID uint) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.CustomerPackage{}).
		Where("user_id = ? AND id <> ? AND is_active = ?", userID, keepID, true).
		Updates(map[string]interface{}{"status": models.SubscriptionExpired, "is_active": false})
	return result.RowsAffected, result.Error
}

// IncrementMessages bumps messages_used unless limit (> 0) is already reached.
func (r *subscriptionRepository) IncrementMessages(ctx context.Context, id uint, limit int) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.CustomerPackage{}).Where("id = ?", id)
	if limit > 0 {
		query = query.Where("messages_used < ?", limit)
	}
	result := query.UpdateColumn("messages_used", gorm.Expr("messages_used + ?", 1))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *subscriptionRepository) AddBonusMessages(ctx context.Context, id uint, n int) error {
	return r.db.WithContext(ctx).Model(&models.CustomerPackage{}).Where("id = ?", id).
		UpdateColumn("bonus_messages", gorm.Expr("bonus_messages + ?", n)).Error
}

func (r *subscriptionRepository) GetPackage(ctx context.Context, id uint) (*models.Package, error) {
	var pkg models.Package
	if err := r.db.WithContext(ctx).First(&pkg, id).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *subscriptionRepository) ListPackages(ctx context.Context, activeOnly bool) ([]models.Package, error) {
	var pkgs []models.Package
	query := r.db.WithContext(ctx).Order("price")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Find(&pkgs).Error
	return pkgs, err
}
