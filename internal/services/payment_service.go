package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"wa_business/internal/logger"
	"wa_business/internal/models"
	"wa_business/internal/repository"
	"wa_business/pkg/razorpay"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentProvider is satisfied by *razorpay.Client.
type PaymentProvider interface {
	CreateOrder(ctx context.Context, amountPaise int64, receipt string, notes map[string]string) (*razorpay.Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
	KeyID() string
	MockMode() bool
}

type CheckoutRequest struct {
	UserID      uint
	PackageID   uint
	VoucherCode string
	Mode        PurchaseMode
}

type CheckoutOrder struct {
	Payment *models.PaymentTransaction `json:"payment"`
	Order   *razorpay.Order            `json:"order"`
	KeyID   string                     `json:"key_id"`
	Mock    bool                       `json:"mock"`
}

type PaymentConfirmation struct {
	UserID    uint
	OrderID   string
	PaymentID string
	Signature string
}

type PaymentResult struct {
	Payment         *models.PaymentTransaction `json:"payment"`
	Subscription    *models.CustomerPackage    `json:"subscription,omitempty"`
	Commissions     []CommissionCredit         `json:"commissions,omitempty"`
	CommissionError string                     `json:"commission_error,omitempty"`
}

type PaymentService interface {
	CreateOrder(ctx context.Context, req CheckoutRequest) (*CheckoutOrder, error)
	ConfirmGatewayPayment(ctx context.Context, in PaymentConfirmation) (*PaymentResult, error)
	PurchaseWithBizPoints(ctx context.Context, userID, packageID uint, mode PurchaseMode) (*PaymentResult, error)
	ListPayments(ctx context.Context, userID uint) ([]models.PaymentTransaction, error)
}

type paymentService struct {
	db            *gorm.DB
	paymentRepo   repository.PaymentRepository
	subRepo       repository.SubscriptionRepository
	provider      PaymentProvider
	wallet        WalletService
	subscriptions SubscriptionService
	vouchers      VoucherService
	commissions   CommissionService
	log           *zap.Logger
}

func NewPaymentService(
	db *gorm.DB,
	paymentRepo repository.PaymentRepository,
	subRepo repository.SubscriptionRepository,
	provider PaymentProvider,
	wallet WalletService,
	subscriptions SubscriptionService,
	vouchers VoucherService,
	commissions CommissionService,
	log *zap.Logger,
) PaymentService {
	return &paymentService{
		db:            db,
		paymentRepo:   paymentRepo,
		subRepo:       subRepo,
		provider:      provider,
		wallet:        wallet,
		subscriptions: subscriptions,
		vouchers:      vouchers,
		commissions:   commissions,
		log:           logger.OrNop(log),
	}
}

func newReference(prefix string) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

func (s *paymentService) CreateOrder(ctx context.Context, req CheckoutRequest) (*CheckoutOrder, error) {
	if req.Mode == "" {
		req.Mode = PurchaseSchedule
	}
	pkg, err := s.subRepo.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, notFound(err, "package")
	}
	if !pkg.IsActive {
		return nil, validationError("package %q is not available", pkg.Name)
	}

	payment := &models.PaymentTransaction{
		UserID:           req.UserID,
		PackageID:        pkg.ID,
		Amount:           pkg.Price,
		Status:           models.PaymentPending,
		Method:           models.MethodGateway,
		Reference:        newReference("PAY"),
		SubscriptionMode: string(req.Mode),
	}

	if req.VoucherCode != "" {
		discount, voucher, err := s.vouchers.Quote(ctx, req.UserID, req.VoucherCode, pkg.Price)
		if err != nil {
			return nil, err
		}
		payment.Discount = discount
		payment.Amount = roundMoney(pkg.Price - discount)
		payment.VoucherID = &voucher.ID
	}
	if payment.Amount <= 0 {
		return nil, validationError("nothing to pay; use a package voucher instead")
	}

	order, err := s.provider.CreateOrder(ctx, int64(math.Round(payment.Amount*100)), payment.Reference, map[string]string{
		"package": pkg.Name,
		"user_id": fmt.Sprint(req.UserID),
	})
	if err != nil {
		s.log.Error("payment order creation failed", zap.Uint("user_id", req.UserID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	payment.ProviderOrderID = order.ID

	// The voucher is reserved together with the pending payment; confirmation never claims it again.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.paymentRepo.WithTx(tx).Create(ctx, payment); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		if payment.VoucherID == nil {
			return nil
		}
		return s.vouchers.ReserveTx(ctx, tx, *payment.VoucherID, req.UserID, &payment.ID)
	})
	if err != nil {
		s.log.Warn("checkout abandoned after provider order",
			zap.String("order_id", order.ID),
			zap.Uint("user_id", req.UserID),
			zap.Error(err))
		return nil, err
	}
	return &CheckoutOrder{Payment: payment, Order: order, KeyID: s.provider.KeyID(), Mock: s.provider.MockMode()}, nil
}

// ConfirmGatewayPayment is idempotent per provider order: a second confirmation returns the
// recorded payment without purchasing again. A bad signature fails a pending payment and
// leaves any other status untouched.
func (s *paymentService) ConfirmGatewayPayment(ctx context.Context, in PaymentConfirmation) (*PaymentResult, error) {
	if in.OrderID == "" || in.PaymentID == "" {
		return nil, validationError("order_id and payment_id are required")
	}

	result := &PaymentResult{}
	alreadyConfirmed := false
	signatureOK := s.provider.VerifySignature(in.OrderID, in.PaymentID, in.Signature)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.paymentRepo.WithTx(tx)
		payment, err := payments.LockByProviderOrderID(ctx, in.OrderID)
		if err != nil {
			return notFound(err, "payment")
		}
		if payment.UserID != in.UserID {
			return fmt.Errorf("payment %w", ErrNotFound)
		}
		result.Payment = payment

		if !signatureOK {
			if payment.Status != models.PaymentPending {
				return nil
			}
			failed, err := payments.Transition(ctx, payment.ID, models.PaymentPending, map[string]interface{}{"status": models.PaymentFailed})
			if err != nil {
				return fmt.Errorf("failed to mark payment failed: %w", err)
			}
			if failed {
				payment.Status = models.PaymentFailed
			}
			return nil
		}
		if payment.Status == models.PaymentSuccess {
			alreadyConfirmed = true
			return nil
		}

		fields := map[string]interface{}{"status": models.PaymentSuccess, "provider_payment_id": in.PaymentID}
		if err := payments.UpdateFields(ctx, payment.ID, fields); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		payment.Status = models.PaymentSuccess
		payment.ProviderPaymentID = in.PaymentID

		mode, _ := ParsePurchaseMode(payment.SubscriptionMode)
		sub, err := s.subscriptions.PurchaseTx(ctx, tx, PurchaseRequest{
			UserID:    payment.UserID,
			PackageID: payment.PackageID,
			Mode:      mode,
			PaymentID: &payment.ID,
		})
		if err != nil {
			return err
		}
		result.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !signatureOK {
		s.log.Warn("payment signature rejected",
			zap.Uint("payment_id", result.Payment.ID),
			zap.String("status", result.Payment.Status))
		return nil, validationError("invalid payment signature")
	}
	if alreadyConfirmed {
		return result, nil
	}

	s.distribute(ctx, result)
	return result, nil
}

// PurchaseWithBizPoints debits the wallet and creates the subscription atomically.
func (s *paymentService) PurchaseWithBizPoints(ctx context.Context, userID, packageID uint, mode PurchaseMode) (*PaymentResult, error) {
	pkg, err := s.subRepo.GetPackage(ctx, packageID)
	if err != nil {
		return nil, notFound(err, "package")
	}
	if !pkg.IsActive {
		return nil, validationError("package %q is not available", pkg.Name)
	}

	result := &PaymentResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment := &models.PaymentTransaction{
			UserID:           userID,
			PackageID:        pkg.ID,
			Amount:           pkg.Price,
			Status:           models.PaymentSuccess,
			Method:           models.MethodBizCoin,
			Reference:        newReference("BIZ"),
			SubscriptionMode: string(mode),
		}
		if err := s.paymentRepo.WithTx(tx).Create(ctx, payment); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}

		if _, err := s.wallet.Debit(ctx, tx, LedgerEntry{
			UserID:      userID,
			Amount:      pkg.Price,
			Type:        models.LedgerPackagePurchase,
			Description: "Package " + pkg.Name,
			Reference:   payment.Reference,
		}); err != nil {
			return err
		}

		sub, err := s.subscriptions.PurchaseTx(ctx, tx, PurchaseRequest{
			UserID:    userID,
			PackageID: pkg.ID,
			Mode:      mode,
			PaymentID: &payment.ID,
		})
		if err != nil {
			return err
		}
		result.Payment = payment
		result.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.distribute(ctx, result)
	return result, nil
}

// distribute runs after the payment committed; a commission failure is logged and reported
// but does not undo the purchase.
func (s *paymentService) distribute(ctx context.Context, result *PaymentResult) {
	credits, err := s.commissions.Distribute(ctx, CommissionPayment{
		CustomerID: result.Payment.UserID,
		Amount:     result.Payment.Amount,
		Reference:  result.Payment.Reference,
	})
	if err != nil {
		s.log.Error("commission distribution failed",
			zap.String("reference", result.Payment.Reference),
			zap.Error(err))
		result.CommissionError = err.Error()
		return
	}
	result.Commissions = credits
}

func (s *paymentService) ListPayments(ctx context.Context, userID uint) ([]models.PaymentTransaction, error) {
	return s.paymentRepo.ListByUser(ctx, userID)
}
