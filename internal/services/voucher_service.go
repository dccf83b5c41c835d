package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"wa_business/internal/models"
	"wa_business/internal/repository"

	"gorm.io/gorm"
)

type VoucherInput struct {
	Code        string             `json:"code"`
	Type        models.VoucherType `json:"type"`
	Value       float64            `json:"value"`
	Description string             `json:"description"`
	UsageLimit  int                `json:"usage_limit"`
	ExpiresAt   *time.Time         `json:"expires_at"`
}

type RedeemResult struct {
	Voucher      *models.Voucher         `json:"voucher"`
	Credited     float64                 `json:"credited,omitempty"`
	Balance      float64                 `json:"balance,omitempty"`
	Messages     int                     `json:"messages,omitempty"`
	Subscription *models.CustomerPackage `json:"subscription,omitempty"`
}

type VoucherService interface {
	Redeem(ctx context.Context, userID uint, code string) (*RedeemResult, error)
	// Quote validates a percentage voucher for checkout without consuming it.
	Quote(ctx context.Context, userID uint, code string, amount float64) (float64, *models.Voucher, error)
	// ReserveTx claims a percentage voucher for a pending checkout inside the caller's
	// transaction. The reservation holds whether or not the payment is later captured.
	ReserveTx(ctx context.Context, tx *gorm.DB, voucherID, userID uint, paymentID *uint) error
	Create(ctx context.Context, in VoucherInput, createdBy uint) (*models.Voucher, error)
	List(ctx context.Context) ([]models.Voucher, error)
	Deactivate(ctx context.Context, id uint) error
}

type voucherService struct {
	db            *gorm.DB
	voucherRepo   repository.VoucherRepository
	wallet        WalletService
	subscriptions SubscriptionService
	now           func() time.Time
}

func NewVoucherService(
	db *gorm.DB,
	voucherRepo repository.VoucherRepository,
	wallet WalletService,
	subscriptions SubscriptionService,
) VoucherService {
	return &voucherService{
		db:            db,
		voucherRepo:   voucherRepo,
		wallet:        wallet,
		subscriptions: subscriptions,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// usable checks state that does not depend on the redeeming user.
func (s *voucherService) usable(v *models.Voucher) error {
	if !v.IsActive || v.ExpiredAt(s.now()) || v.Exhausted() {
		return ErrVoucherInvalid
	}
	return nil
}

// claim records the (voucher, user) usage row and bumps the usage counter. The caller
// holds the voucher row lock.
func (s *voucherService) claim(ctx context.Context, repo repository.VoucherRepository, voucherID, userID uint, paymentID *uint) error {
	used, err := repo.HasUsage(ctx, voucherID, userID)
	if err != nil {
		return fmt.Errorf("failed to check voucher usage: %w", err)
	}
	if used {
		return ErrVoucherUsed
	}
	usage := &models.VoucherUsage{VoucherID: voucherID, UserID: userID, PaymentID: paymentID, UsedAt: s.now()}
	if err := repo.RecordUsage(ctx, usage); err != nil {
		if isDuplicate(err) {
			return ErrVoucherUsed
		}
		return fmt.Errorf("failed to record voucher usage: %w", err)
	}
	ok, err := repo.IncrementUsage(ctx, voucherID)
	if err != nil {
		return fmt.Errorf("failed to count voucher usage: %w", err)
	}
	if !ok {
		return ErrVoucherInvalid
	}
	return nil
}

func (s *voucherService) Redeem(ctx context.Context, userID uint, code string) (*RedeemResult, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, validationError("code is required")
	}

	result := &RedeemResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.voucherRepo.WithTx(tx)
		v, err := repo.LockByCode(ctx, code)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("voucher %w", ErrNotFound)
			}
			return err
		}
		if err := s.usable(v); err != nil {
			return err
		}
		if v.Type == models.VoucherPercentage {
			return validationError("percentage vouchers can only be applied at checkout")
		}
		if err := s.claim(ctx, repo, v.ID, userID, nil); err != nil {
			return err
		}
		v.UsageCount++
		result.Voucher = v

		switch v.Type {
		case models.VoucherCredit:
			entry, err := s.wallet.Credit(ctx, tx, LedgerEntry{
				UserID:      userID,
				Amount:      v.Value,
				Type:        models.LedgerVoucherCredit,
				Description: "Voucher " + v.Code,
				Reference:   fmt.Sprintf("voucher:%d", v.ID),
			})
			if err != nil {
				return err
			}
			result.Credited = entry.Entry.Amount
			result.Balance = entry.Entry.Balance
		case models.VoucherMessages:
			sub, err := s.subscriptions.AddBonusMessagesTx(ctx, tx, userID, int(v.Value))
			if err != nil {
				return err
			}
			result.Messages = int(v.Value)
			result.Subscription = sub
		case models.VoucherPackage:
			sub, err := s.subscriptions.PurchaseTx(ctx, tx, PurchaseRequest{
				UserID:    userID,
				PackageID: uint(v.Value),
				Mode:      PurchaseSchedule,
			})
			if err != nil {
				return err
			}
			result.Subscription = sub
		default:
			return validationError("unsupported voucher type %q", v.Type)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *voucherService) Quote(ctx context.Context, userID uint, code string, amount float64) (float64, *models.Voucher, error) {
	v, err := s.voucherRepo.GetByCode(ctx, normalizeCode(code))
	if err != nil {
		if isNotFound(err) {
			return 0, nil, fmt.Errorf("voucher %w", ErrNotFound)
		}
		return 0, nil, err
	}
	if err := s.usable(v); err != nil {
		return 0, nil, err
	}
	if v.Type != models.VoucherPercentage {
		return 0, nil, validationError("only percentage vouchers apply at checkout; redeem %s instead", v.Code)
	}
	used, err := s.voucherRepo.HasUsage(ctx, v.ID, userID)
	if err != nil {
		return 0, nil, err
	}
	if used {
		return 0, nil, ErrVoucherUsed
	}
	return roundMoney(amount * v.Value / 100), v, nil
}

func (s *voucherService) ReserveTx(ctx context.Context, tx *gorm.DB, voucherID, userID uint, paymentID *uint) error {
	repo := s.voucherRepo.WithTx(tx)
	v, err := repo.LockByID(ctx, voucherID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("voucher %w", ErrNotFound)
		}
		return err
	}
	if err := s.usable(v); err != nil {
		return err
	}
	if v.Type != models.VoucherPercentage {
		return validationError("only percentage vouchers apply at checkout")
	}
	return s.claim(ctx, repo, v.ID, userID, paymentID)
}

func (s *voucherService) Create(ctx context.Context, in VoucherInput, createdBy uint) (*models.Voucher, error) {
	in.Code = normalizeCode(in.Code)
	if in.Code == "" {
		return nil, validationError("code is required")
	}
	switch in.Type {
	case models.VoucherCredit, models.VoucherMessages, models.VoucherPackage:
	case models.VoucherPercentage:
		if in.Value > 100 {
			return nil, validationError("percentage cannot exceed 100")
		}
	default:
		return nil, validationError("type must be credit, messages, percentage or package")
	}
	if in.Value <= 0 {
		return nil, validationError("value must be positive")
	}
	if in.UsageLimit < 0 {
		return nil, validationError("usage_limit cannot be negative")
	}
	if in.ExpiresAt != nil {
		t := in.ExpiresAt.UTC()
		in.ExpiresAt = &t
	}

	v := &models.Voucher{
		Code:        in.Code,
		Type:        in.Type,
		Value:       in.Value,
		Description: in.Description,
		UsageLimit:  in.UsageLimit,
		ExpiresAt:   in.ExpiresAt,
		IsActive:    true,
		CreatedBy:   createdBy,
	}
	if err := s.voucherRepo.Create(ctx, v); err != nil {
		if isDuplicate(err) {
			return nil, conflictError("voucher %q already exists", in.Code)
		}
		return nil, fmt.Errorf("failed to create voucher: %w", err)
	}
	return v, nil
}

func (s *voucherService) List(ctx context.Context) ([]models.Voucher, error) {
	return s.voucherRepo.List(ctx)
}

func (s *voucherService) Deactivate(ctx context.Context, id uint) error {
	return notFound(s.voucherRepo.Deactivate(ctx, id), "voucher")
}
