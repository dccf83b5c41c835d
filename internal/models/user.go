package models

import (
	"time"
)

type Role struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null"`
	Level       int       `json:"level" gorm:"not null"` // 1 = highest authority
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	RoleOwner     = "OWNER"
	RoleAdmin     = "ADMIN"
	RoleSubdealer = "SUBDEALER"
	RoleEmployee  = "EMPLOYEE"
	RoleCustomer  = "CUSTOMER"
)

// DefaultRoles lists the built-in roles in authority order.
var DefaultRoles = []Role{
	{Name: RoleOwner, Level: 1, Description: "Platform owner"},
	{Name: RoleAdmin, Level: 2, Description: "Administrator"},
	{Name: RoleSubdealer, Level: 3, Description: "Dealer reselling packages"},
	{Name: RoleEmployee, Level: 4, Description: "Dealer staff"},
	{Name: RoleCustomer, Level: 5, Description: "End customer"},
}

type User struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Email          string    `json:"email" gorm:"uniqueIndex;not null"`
	Name           string    `json:"name"`
	PasswordHash   string    `json:"-"`
	Phone          string    `json:"phone"`
	RoleID         uint      `json:"role_id" gorm:"not null;index"`
	Role           Role      `json:"role" gorm:"foreignKey:RoleID"`
	ParentID       *uint     `json:"parent_id" gorm:"index"`
	BizPoints      float64   `json:"biz_points" gorm:"type:decimal(12,2);default:0"`
	CommissionRate float64   `json:"commission_rate" gorm:"type:decimal(5,2);default:0"`
	DealerCode     *string   `json:"dealer_code" gorm:"uniqueIndex"`
	APIKeyPrefix   string    `json:"-" gorm:"index"`
	APIKeyHash     string    `json:"-"`
	IsActive       bool      `json:"is_active" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (u *User) RoleName() string {
	return u.Role.Name
}
