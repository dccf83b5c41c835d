package repository

import (
	"context"
	"wa_business/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByDealerCode(ctx context.Context, code string) (*models.User, error)
	GetByAPIKeyPrefix(ctx context.Context, prefix string) ([]models.User, error)
	GetChildren(ctx context.Context, parentID uint) ([]models.User, error)
	GetAll(ctx context.Context) ([]models.User, error)
	GetIDsByRole(ctx context.Context, roleID uint) ([]uint, error)
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	LockByID(ctx context.Context, id uint) (*models.User, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	WithTx(tx *gorm.DB) UserRepository
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return &userRepository{db: tx}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(user).Error
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("Role").First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("Role").Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByDealerCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("Role").Where("dealer_code = ?", code).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByAPIKeyPrefix(ctx context.Context, prefix string) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Preload("Role").Where("api_key_prefix = ?", prefix).Find(&users).Error
	return users, err
}

func (r *userRepository) GetChildren(ctx context.Context, parentID uint) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Preload("Role").Where("parent_id = ?", parentID).Order("id").Find(&users).Error
	return users, err
}

func (r *userRepository) GetAll(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Preload("Role").Order("id").Find(&users).Error
	return users, err
}

func (r *userRepository) GetIDsByRole(ctx context.Context, roleID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("role_id = ?", roleID).Pluck("id", &ids).Error
	return ids, err
}

func (r *userRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LockByID reads the user row with FOR UPDATE; only meaningful inside a transaction.
func (r *userRepository) LockByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, id).Error
	if err != nil {
		return nil, err
	}
	var role models.Role
	if err := r.db.WithContext(ctx).First(&role, user.RoleID).Error; err != nil {
		return nil, err
	}
	user.Role = role
	return &user, nil
}

func (r *userRepository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error
	if err != nil {
		return nil, err
	}
	return &role, nil
}
