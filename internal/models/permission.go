package models

import (
	"time"
)

type Permission struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null"` // dotted, e.g. users.read
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RolePermission struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	RoleID       uint       `json:"role_id" gorm:"not null;uniqueIndex:idx_role_permission"`
	PermissionID uint       `json:"permission_id" gorm:"not null;uniqueIndex:idx_role_permission"`
	Permission   Permission `json:"permission" gorm:"foreignKey:PermissionID"`
	Granted      bool       `json:"granted"`
	CreatedAt    time.Time  `json:"created_at"`
}

// UserPermission is a direct override; while unexpired it takes precedence over the role grant.
type UserPermission struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	UserID       uint       `json:"user_id" gorm:"not null;uniqueIndex:idx_user_permission"`
	PermissionID uint       `json:"permission_id" gorm:"not null;uniqueIndex:idx_user_permission"`
	Permission   Permission `json:"permission" gorm:"foreignKey:PermissionID"`
	Granted      bool       `json:"granted"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Reason       string     `json:"reason"`
	GrantedBy    *uint      `json:"granted_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (p *UserPermission) ActiveAt(now time.Time) bool {
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

type PermissionTemplate struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"uniqueIndex;not null"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions" gorm:"many2many:permission_template_items"`
	CreatedBy   uint         `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
