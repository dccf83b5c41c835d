package repository

import (
	"context"
	"wa_business/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.PaymentTransaction) error
	GetByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	LockByProviderOrderID(ctx context.Context, orderID string) (*models.PaymentTransaction, error)
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	// Transition updates the row only while its status is still from and reports whether it did.
	Transition(ctx context.Context, id uint, from string, fields map[string]interface{}) (bool, error)
	ListByUser(ctx context.Context, userID uint) ([]models.PaymentTransaction, error)
	WithTx(tx *gorm.DB) PaymentRepository
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) WithTx(tx *gorm.DB) PaymentRepository {
	return &paymentRepository{db: tx}
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepository) GetByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) LockByProviderOrderID(ctx context.Context, orderID string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_order_id = ?", orderID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).Where("id = ?", id).Updates(fields).Error
}

func (r *paymentRepository) Transition(ctx context.Context, id uint, from string, fields map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *paymentRepository) ListByUser(ctx context.Context, userID uint) ([]models.PaymentTransaction, error) {
	var payments []models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&payments).Error
	return payments, err
}
