package models

import (
	"time"
)

type VoucherType string

const (
	VoucherCredit     VoucherType = "credit"
	VoucherMessages   VoucherType = "messages"
	VoucherPercentage VoucherType = "percentage"
	VoucherPackage    VoucherType = "package"
)

type Voucher struct {
	ID          uint        `json:"id" gorm:"primaryKey"`
	Code        string      `json:"code" gorm:"uniqueIndex;not null"`
	Type        VoucherType `json:"type" gorm:"type:varchar(20);not null"`
	Value       float64     `json:"value" gorm:"type:decimal(12,2);not null"`
	Description string      `json:"description"`
	UsageLimit  int         `json:"usage_limit"` // 0 = unlimited
	UsageCount  int         `json:"usage_count"`
	ExpiresAt   *time.Time  `json:"expires_at"`
	IsActive    bool        `json:"is_active" gorm:"default:true"`
	CreatedBy   uint        `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (v *Voucher) Exhausted() bool {
	return v.UsageLimit > 0 && v.UsageCount >= v.UsageLimit
}

func (v *Voucher) ExpiredAt(now time.Time) bool {
	return v.ExpiresAt != nil && !v.ExpiresAt.After(now)
}

// VoucherUsage allows a single redemption per (voucher, user). Checkout reservations
// carry the pending payment they were made for.
type VoucherUsage struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	VoucherID uint      `json:"voucher_id" gorm:"not null;uniqueIndex:idx_voucher_user"`
	UserID    uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_voucher_user"`
	PaymentID *uint     `json:"payment_id,omitempty" gorm:"index"`
	UsedAt    time.Time `json:"used_at"`
}

func (VoucherUsage) TableName() string {
	return "voucher_usage"
}
