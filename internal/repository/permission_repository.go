package repository

import (
	"context"
	"time"
	"wa_business/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PermissionGrant is a resolved (name, granted) pair.
type PermissionGrant struct {
	Name    string
	Granted bool
}

type PermissionRepository interface {
	RoleGrants(ctx context.Context, roleID uint) ([]PermissionGrant, error)
	ActiveUserOverrides(ctx context.Context, userID uint, now time.Time) ([]PermissionGrant, error)

	List(ctx context.Context) ([]models.Permission, error)
	GetByID(ctx context.Context, id uint) (*models.Permission, error)
	GetByName(ctx context.Context, name string) (*models.Permission, error)
	Create(ctx context.Context, permission *models.Permission) error
	Update(ctx context.Context, permission *models.Permission) error
	Delete(ctx context.Context, id uint) error

	ListRolePermissions(ctx context.Context, roleID uint) ([]models.RolePermission, error)
	UpsertRolePermission(ctx context.Context, rp *models.RolePermission) error

	ListUserPermissions(ctx context.Context, userID uint) ([]models.UserPermission, error)
	GetUserPermission(ctx context.Context, id uint) (*models.UserPermission, error)
	UpsertUserPermission(ctx context.Context, up *models.UserPermission) error
	DeleteUserPermission(ctx context.Context, id uint) error

	CreateTemplate(ctx context.Context, template *models.PermissionTemplate) error
	ListTemplates(ctx context.Context) ([]models.PermissionTemplate, error)
	GetTemplate(ctx context.Context, id uint) (*models.PermissionTemplate, error)
	DeleteTemplate(ctx context.Context, id uint) error

	WithTx(tx *gorm.DB) PermissionRepository
}

type permissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) WithTx(tx *gorm.DB) PermissionRepository {
	return &permissionRepository{db: tx}
}

func (r *permissionRepository) RoleGrants(ctx context.Context, roleID uint) ([]PermissionGrant, error) {
	var grants []PermissionGrant
	err := r.db.WithContext(ctx).
		Table("role_permissions").
		Select("permissions.name AS name, role_permissions.granted AS granted").
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Where("role_permissions.role_id = ?", roleID).
		Scan(&grants).Error
	return grants, err
}

// ActiveUserOverrides skips overrides whose expires_at is not after now.
func (r *permissionRepository) ActiveUserOverrides(ctx context.Context, userID uint, now time.Time) ([]PermissionGrant, error) {
	var grants []PermissionGrant
	err := r.db.WithContext(ctx).
		Table("user_permissions").
		Select("permissions.name AS name, user_permissions.granted AS granted").
		Joins("JOIN permissions ON permissions.id = user_permissions.permission_id").
		Where("user_permissions.user_id = ?", userID).
		Where("(user_permissions.expires_at IS NULL OR user_permissions.expires_at > ?)", now).
		Scan(&grants).Error
	return grants, err
}

func (r *permissionRepository) List(ctx context.Context) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.WithContext(ctx).Order("category, name").Find(&permissions).Error
	return permissions, err
}

func (r *permissionRepository) GetByID(ctx context.Context, id uint) (*models.Permission, error) {
	var permission models.Permission
	if err := r.db.WithContext(ctx).First(&permission, id).Error; err != nil {
		return nil, err
	}
	return &permission, nil
}

func (r *permissionRepository) GetByName(ctx context.Context, name string) (*models.Permission, error) {
	var permission models.Permission
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&permission).Error; err != nil {
		return nil, err
	}
	return &permission, nil
}

func (r *permissionRepository) Create(ctx context.Context, permission *models.Permission) error {
	return r.db.WithContext(ctx).Create(permission).Error
}

func (r *permissionRepository) Update(ctx context.Context, permission *models.Permission) error {
	return r.db.WithContext(ctx).Save(permission).Error
}

func (r *permissionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("permission_id = ?", id).Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("permission_id = ?", id).Delete(&models.UserPermission{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM permission_template_items WHERE permission_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Permission{}, id).Error
	})
}

func (r *permissionRepository) ListRolePermissions(ctx context.Context, roleID uint) ([]models.RolePermission, error) {
	var rps []models.RolePermission
	err := r.db.WithContext(ctx).Preload("Permission").Where("role_id = ?", roleID).Order("id").Find(&rps).Error
	return rps, err
}

func (r *permissionRepository) UpsertRolePermission(ctx context.Context, rp *models.RolePermission) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role_id"}, {Name: "permission_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"granted"}),
	}).Create(rp).Error
}

func (r *permissionRepository) ListUserPermissions(ctx context.Context, userID uint) ([]models.UserPermission, error) {
	var ups []models.UserPermission
	err := r.db.WithContext(ctx).Preload("Permission").Where("user_id = ?", userID).Order("id").Find(&ups).Error
	return ups, err
}

func (r *permissionRepository) GetUserPermission(ctx context.Context, id uint) (*models.UserPermission, error) {
	var up models.UserPermission
	if err := r.db.WithContext(ctx).Preload("Permission").First(&up, id).Error; err != nil {
		return nil, err
	}
	return &up, nil
}

func (r *permissionRepository) UpsertUserPermission(ctx context.Context, up *models.UserPermission) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "permission_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"granted", "expires_at", "reason", "granted_by", "updated_at"}),
	}).Create(up).Error
}

func (r *permissionRepository) DeleteUserPermission(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.UserPermission{}, id).Error
}

func (r *permissionRepository) CreateTemplate(ctx context.Context, template *models.PermissionTemplate) error {
	return r.db.WithContext(ctx).Create(template).Error
}

func (r *permissionRepository) ListTemplates(ctx context.Context) ([]models.PermissionTemplate, error) {
	var templates []models.PermissionTemplate
	err := r.db.WithContext(ctx).Preload("Permissions").Order("name").Find(&templates).Error
	return templates, err
}

func (r *permissionRepository) GetTemplate(ctx context.Context, id uint) (*models.PermissionTemplate, error) {
	var template models.PermissionTemplate
	if err := r.db.WithContext(ctx).Preload("Permissions").First(&template, id).Error; err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *permissionRepository) DeleteTemplate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		template := models.PermissionTemplate{ID: id}
		if err := tx.Model(&template).Association("Permissions").Clear(); err != nil {
			return err
		}
		result := tx.Delete(&models.PermissionTemplate{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
