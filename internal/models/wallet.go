package models

import (
	"time"
)

type LedgerType string

const (
	LedgerCredit           LedgerType = "CREDIT"
	LedgerDebit            LedgerType = "DEBIT"
	LedgerCommissionEarned LedgerType = "COMMISSION_EARNED"
	LedgerPackagePurchase  LedgerType = "PACKAGE_PURCHASE"
	LedgerVoucherCredit    LedgerType = "VOUCHER_CREDIT"
)

// BizPointsTransaction is an append-only ledger row. Balance is the user's balance
// right after Amount (signed) was applied.
type BizPointsTransaction struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	UserID      uint       `json:"user_id" gorm:"not null;index;uniqueIndex:idx_ledger_reference"`
	Type        LedgerType `json:"type" gorm:"type:varchar(32);not null;uniqueIndex:idx_ledger_reference"`
	Amount      float64    `json:"amount" gorm:"type:decimal(12,2);not null"`
	Balance     float64    `json:"balance" gorm:"type:decimal(12,2);not null"`
	Description string     `json:"description"`
	Reference   string     `json:"reference" gorm:"not null;uniqueIndex:idx_ledger_reference"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (BizPointsTransaction) TableName() string {
	return "bizpoints_transactions"
}
