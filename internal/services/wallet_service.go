package services

import (
	"context"
	"fmt"
	"wa_business/internal/models"
	"wa_business/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerEntry describes one wallet movement. Amount is always positive; the direction
// comes from Credit or Debit.
type LedgerEntry struct {
	UserID      uint
	Amount      float64
	Type        models.LedgerType
	Description string
	Reference   string
}

type LedgerResult struct {
	Entry     *models.BizPointsTransaction
	Duplicate bool
}

type WalletService interface {
	// Credit and Debit run inside tx when it is non-nil, otherwise in their own transaction.
	Credit(ctx context.Context, tx *gorm.DB, entry LedgerEntry) (LedgerResult, error)
	Debit(ctx context.Context, tx *gorm.DB, entry LedgerEntry) (LedgerResult, error)
	Balance(ctx context.Context, userID uint) (float64, error)
	History(ctx context.Context, userID uint, limit int) ([]models.BizPointsTransaction, error)
	Adjust(ctx context.Context, userID uint, amount float64, reason string) (LedgerResult, error)
}

type walletService struct {
	db         *gorm.DB
	userRepo   repository.UserRepository
	walletRepo repository.WalletRepository
}

func NewWalletService(db *gorm.DB, userRepo repository.UserRepository, walletRepo repository.WalletRepository) WalletService {
	return &walletService{
		db:         db,
		userRepo:   userRepo,
		walletRepo: walletRepo,
	}
}

func (s *walletService) Credit(ctx context.Context, tx *gorm.DB, entry LedgerEntry) (LedgerResult, error) {
	if entry.Type == "" {
		entry.Type = models.LedgerCredit
	}
	return s.apply(ctx, tx, entry, 1)
}

func (s *walletService) Debit(ctx context.Context, tx *gorm.DB, entry LedgerEntry) (LedgerResult, error) {
	if entry.Type == "" {
		entry.Type = models.LedgerDebit
	}
	return s.apply(ctx, tx, entry, -1)
}

func (s *walletService) apply(ctx context.Context, tx *gorm.DB, entry LedgerEntry, sign float64) (LedgerResult, error) {
	entry.Amount = roundMoney(entry.Amount)
	if entry.Amount <= 0 {
		return LedgerResult{}, validationError("amount must be positive")
	}
	if entry.Reference == "" {
		entry.Reference = uuid.NewString()
	}

	if tx == nil {
		var result LedgerResult
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = s.applyTx(ctx, tx, entry, sign)
			return err
		})
		return result, err
	}
	return s.applyTx(ctx, tx, entry, sign)
}

func (s *walletService) applyTx(ctx context.Context, tx *gorm.DB, entry LedgerEntry, sign float64) (LedgerResult, error) {
	users := s.userRepo.WithTx(tx)
	ledger := s.walletRepo.WithTx(tx)

	user, err := users.LockByID(ctx, entry.UserID)
	if err != nil {
		return LedgerResult{}, notFound(err, "user")
	}

	existing, err := ledger.FindByReference(ctx, entry.UserID, entry.Type, entry.Reference)
	if err == nil {
		return LedgerResult{Entry: existing, Duplicate: true}, nil
	}
	if !isNotFound(err) {
		return LedgerResult{}, fmt.Errorf("failed to check ledger reference: %w", err)
	}

	balance := roundMoney(user.BizPoints + sign*entry.Amount)
	if balance < 0 {
		return LedgerResult{}, fmt.Errorf("%w: balance %.2f, required %.2f", ErrInsufficientBalance, user.BizPoints, entry.Amount)
	}

	row := &models.BizPointsTransaction{
		UserID:      entry.UserID,
		Type:        entry.Type,
		Amount:      sign * entry.Amount,
		Balance:     balance,
		Description: entry.Description,
		Reference:   entry.Reference,
	}
	if err := ledger.Append(ctx, row); err != nil {
		if isDuplicate(err) {
			return LedgerResult{}, conflictError("ledger reference %q already applied", entry.Reference)
		}
		return LedgerResult{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if err := ledger.SetBalance(ctx, entry.UserID, balance); err != nil {
		return LedgerResult{}, fmt.Errorf("failed to update balance: %w", err)
	}
	return LedgerResult{Entry: row}, nil
}

func (s *walletService) Balance(ctx context.Context, userID uint) (float64, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return 0, notFound(err, "user")
	}
	return user.BizPoints, nil
}

func (s *walletService) History(ctx context.Context, userID uint, limit int) ([]models.BizPointsTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.walletRepo.History(ctx, userID, limit)
}

// Adjust applies a signed manual correction.
func (s *walletService) Adjust(ctx context.Context, userID uint, amount float64, reason string) (LedgerResult, error) {
	if reason == "" {
		return LedgerResult{}, validationError("reason is required")
	}
	entry := LedgerEntry{UserID: userID, Description: reason}
	if amount < 0 {
		entry.Amount = -amount
		return s.Debit(ctx, nil, entry)
	}
	entry.Amount = amount
	return s.Credit(ctx, nil, entry)
}
