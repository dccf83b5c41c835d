package models

import (
	"time"
)

type Package struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"not null"`
	Description  string    `json:"description"`
	Price        float64   `json:"price" gorm:"type:decimal(12,2);not null"`
	DurationDays int       `json:"duration_days" gorm:"not null"`
	MessageLimit int       `json:"message_limit"` // 0 = unlimited
	DeviceLimit  int       `json:"device_limit"`  // 0 = unlimited
	IsActive     bool      `json:"is_active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (p *Package) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionScheduled SubscriptionStatus = "SCHEDULED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionReplaced  SubscriptionStatus = "REPLACED"
)

// CustomerPackage is one subscription row. At most one row per user is active.
type CustomerPackage struct {
	ID                     uint               `json:"id" gorm:"primaryKey"`
	UserID                 uint               `json:"user_id" gorm:"not null;index"`
	PackageID              uint               `json:"package_id" gorm:"not null"`
	Package                Package            `json:"package" gorm:"foreignKey:PackageID"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	StartDate              *time.Time         `json:"start_date"`
	EndDate                *time.Time         `json:"end_date"`
	ScheduledStartDate     *time.Time         `json:"scheduled_start_date" gorm:"index"`
	PreviousSubscriptionID *uint              `json:"previous_subscription_id"`
	IsActive               bool               `json:"is_active"`
	MessagesUsed           int                `json:"messages_used"`
	BonusMessages          int                `json:"bonus_messages"`
	PaymentID              *uint              `json:"payment_id"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// MessageAllowance is the package limit plus voucher bonuses; 0 means unlimited.
func (c *CustomerPackage) MessageAllowance() int {
	if c.Package.MessageLimit == 0 {
		return 0
	}
	return c.Package.MessageLimit + c.BonusMessages
}
