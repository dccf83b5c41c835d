package services

import (
	"context"
	"fmt"
	"wa_business/internal/events"
	"wa_business/internal/logger"
	"wa_business/internal/models"
	"wa_business/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultCommissionRates are percentages used when a dealer has no rate of its own.
var DefaultCommissionRates = map[string]float64{
	models.RoleSubdealer: 10,
	models.RoleEmployee:  3,
	models.RoleAdmin:     2,
	models.RoleOwner:     1,
}

type CommissionPayment struct {
	CustomerID uint
	Amount     float64
	Reference  string
}

type CommissionCredit struct {
	DealerID  uint    `json:"dealer_id"`
	Level     int     `json:"level"`
	Rate      float64 `json:"rate"`
	Amount    float64 `json:"amount"`
	Balance   float64 `json:"balance"`
	Reference string  `json:"reference"`
	// Replayed marks a credit that an earlier distribution of the same payment already made.
	Replayed  bool    `json:"replayed,omitempty"`
}

type CommissionService interface {
	Distribute(ctx context.Context, payment CommissionPayment) ([]CommissionCredit, error)
	Earnings(ctx context.Context, dealerID uint, limit int) ([]models.BizPointsTransaction, error)
}

type commissionService struct {
	db         *gorm.DB
	userRepo   repository.UserRepository
	walletRepo repository.WalletRepository
	wallet     WalletService
	events     EventPublisher
	multiLevel bool
	log        *zap.Logger
}

func NewCommissionService(
	db *gorm.DB,
	userRepo repository.UserRepository,
	walletRepo repository.WalletRepository,
	wallet WalletService,
	publisher EventPublisher,
	multiLevel bool,
	log *zap.Logger,
) CommissionService {
	return &commissionService{
		db:         db,
		userRepo:   userRepo,
		walletRepo: walletRepo,
		wallet:     wallet,
		events:     orNopPublisher(publisher),
		multiLevel: multiLevel,
		log:        logger.OrNop(log),
	}
}

// CommissionRate returns the dealer's own rate, or the role default when unset.
func CommissionRate(dealer *models.User) float64 {
	if dealer.CommissionRate > 0 {
		return dealer.CommissionRate
	}
	return DefaultCommissionRates[dealer.Role.Name]
}

func CalculateCommission(amount, rate float64) float64 {
	return roundMoney(amount * rate / 100)
}

// Distribute credits the paying customer's dealer. With multi-level enabled it keeps
// walking parents, each at its own rate, until the chain ends or loops.
func (s *commissionService) Distribute(ctx context.Context, payment CommissionPayment) ([]CommissionCredit, error) {
	if payment.Amount <= 0 {
		return nil, validationError("payment amount must be positive")
	}
	if payment.Reference == "" {
		return nil, validationError("payment reference is required")
	}

	customer, err := s.userRepo.GetByID(ctx, payment.CustomerID)
	if err != nil {
		return nil, notFound(err, "customer")
	}
	if customer.Role.Name != models.RoleCustomer || customer.ParentID == nil {
		return nil, nil
	}

	var credits []CommissionCredit
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := s.userRepo.WithTx(tx)
		visited := map[uint]bool{customer.ID: true}
		parentID := customer.ParentID

		for level := 1; parentID != nil; level++ {
			if visited[*parentID] {
				s.log.Warn("dealer hierarchy cycle", zap.Uint("customer_id", customer.ID), zap.Uint("dealer_id", *parentID))
				break
			}
			visited[*parentID] = true

			dealer, err := users.GetByID(ctx, *parentID)
			if err != nil {
				if isNotFound(err) {
					break
				}
				return fmt.Errorf("failed to load dealer %d: %w", *parentID, err)
			}

			rate := CommissionRate(dealer)
			amount := CalculateCommission(payment.Amount, rate)
			if dealer.IsActive && amount > 0 {
				reference := payment.Reference
				if level > 1 {
					reference = fmt.Sprintf("%s:L%d", payment.Reference, level)
				}
				result, err := s.wallet.Credit(ctx, tx, LedgerEntry{
					UserID:      dealer.ID,
					Amount:      amount,
					Type:        models.LedgerCommissionEarned,
					Description: fmt.Sprintf("Commission %.2f%% on payment %.2f by %s", rate, payment.Amount, customer.Email),
					Reference:   reference,
				})
				if err != nil {
					return fmt.Errorf("failed to credit dealer %d: %w", dealer.ID, err)
				}
				credits = append(credits, CommissionCredit{
					DealerID:  dealer.ID,
					Level:     level,
					Rate:      rate,
					Amount:    result.Entry.Amount,
					Balance:   result.Entry.Balance,
					Reference: reference,
					Replayed:  result.Duplicate,
				})
			}

			if !s.multiLevel {
				break
			}
			parentID = dealer.ParentID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, c := range credits {
		if c.Replayed {
			continue
		}
		s.log.Info("Commission credited",
			zap.Uint("dealer_id", c.DealerID),
			zap.Float64("amount", c.Amount),
			zap.String("reference", c.Reference))
		s.events.Publish(events.TopicAdmin, "commission.credited", c.DealerID, c)
	}
	return credits, nil
}

func (s *commissionService) Earnings(ctx context.Context, dealerID uint, limit int) ([]models.BizPointsTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.walletRepo.HistoryByType(ctx, dealerID, models.LedgerCommissionEarned, limit)
}
