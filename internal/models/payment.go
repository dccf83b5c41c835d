package models

import (
	"time"
)

const (
	PaymentSuccess = "SUCCESS"
	PaymentFailed  = "FAILED"
	PaymentPending = "PENDING"
)

const (
	MethodGateway = "GATEWAY"
	MethodBizCoin = "BIZCOIN"
	MethodVoucher = "VOUCHER"
)

type PaymentTransaction struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	UserID            uint      `json:"user_id" gorm:"not null;index"`
	PackageID         uint      `json:"package_id"`
	Amount            float64   `json:"amount" gorm:"type:decimal(12,2);not null"`
	Discount          float64   `json:"discount" gorm:"type:decimal(12,2);default:0"`
	Status            string    `json:"status" gorm:"type:varchar(16);not null;index"`
	Method            string    `json:"method" gorm:"type:varchar(16);not null"`
	Reference         string    `json:"reference" gorm:"uniqueIndex;not null"`
	ProviderOrderID   string    `json:"provider_order_id" gorm:"index"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	VoucherID         *uint     `json:"voucher_id"`
	SubscriptionMode  string    `json:"subscription_mode"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (PaymentTransaction) TableName() string {
	return "transactions"
}

// All returns every model managed by migrations.
func All() []interface{} {
	return []interface{}{
		&Role{},
		&User{},
		&Permission{},
		&RolePermission{},
		&UserPermission{},
		&PermissionTemplate{},
		&Package{},
		&CustomerPackage{},
		&BizPointsTransaction{},
		&Voucher{},
		&VoucherUsage{},
		&WhatsAppInstance{},
		&SentMessage{},
		&PaymentTransaction{},
	}
}
