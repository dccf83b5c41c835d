package repository

import (
	"context"
	"wa_business/internal/models"

	"gorm.io/gorm"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *models.WhatsAppInstance) error
	GetByID(ctx context.Context, id uint) (*models.WhatsAppInstance, error)
	GetByName(ctx context.Context, name string) (*models.WhatsAppInstance, error)
	GetByUserID(ctx context.Context, userID uint) ([]models.WhatsAppInstance, error)
	CountByServer(ctx context.Context) (map[string]int, error)
	UpdateStatus(ctx context.Context, id uint, fields map[string]interface{}) error
	DeleteWithMessages(ctx context.Context, id uint) error

	CreateMessage(ctx context.Context, msg *models.SentMessage) error
	UpdateMessage(ctx context.Context, id uint, fields map[string]interface{}) error
	GetMessageByGatewayID(ctx context.Context, gatewayID string) (*models.SentMessage, error)
	ListMessages(ctx context.Context, userID uint, limit int) ([]models.SentMessage, error)
}

type deviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) Create(ctx context.Context, device *models.WhatsAppInstance) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *deviceRepository) GetByID(ctx context.Context, id uint) (*models.WhatsAppInstance, error) {
	var device models.WhatsAppInstance
	if err := r.db.WithContext(ctx).First(&device, id).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) GetByName(ctx context.Context, name string) (*models.WhatsAppInstance, error) {
	var device models.WhatsAppInstance
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) GetByUserID(ctx context.Context, userID uint) ([]models.WhatsAppInstance, error) {
	var devices []models.WhatsAppInstance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) CountByServer(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		ServerID string
		Total    int
	}
	err := r.db.WithContext(ctx).Model(&models.WhatsAppInstance{}).
		Select("server_id, COUNT(*) AS total").
		Group("server_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.ServerID] = row.Total
	}
	return counts, nil
}

func (r *deviceRepository) UpdateStatus(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.WhatsAppInstance{}).Where("id = ?", id).Updates(fields).Error
}

func (r *deviceRepository) DeleteWithMessages(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", id).Delete(&models.SentMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.WhatsAppInstance{}, id).Error
	})
}

func (r *deviceRepository) CreateMessage(ctx context.Context, msg *models.SentMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *deviceRepository) UpdateMessage(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.SentMessage{}).Where("id = ?", id).Updates(fields).Error
}

func (r *deviceRepository) GetMessageByGatewayID(ctx context.Context, gatewayID string) (*models.SentMessage, error) {
	var msg models.SentMessage
	if err := r.db.WithContext(ctx).Where("gateway_message_id = ?", gatewayID).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *deviceRepository) ListMessages(ctx context.Context, userID uint, limit int) ([]models.SentMessage, error) {
	var msgs []models.SentMessage
	query := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&msgs).Error
	return msgs, err
}
