package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"wa_business/internal/events"
	"wa_business/internal/logger"
	"wa_business/internal/models"
	"wa_business/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PurchaseMode string

const (
	// PurchaseSchedule queues the new package to start when the current one ends.
	PurchaseSchedule PurchaseMode = "schedule"
	// PurchaseReplace ends the current package now and starts the new one.
	PurchaseReplace PurchaseMode = "replace"
)

func ParsePurchaseMode(s string) (PurchaseMode, error) {
	switch PurchaseMode(s) {
	case "", PurchaseSchedule:
		return PurchaseSchedule, nil
	case PurchaseReplace:
		return PurchaseReplace, nil
	}
	return "", validationError("mode must be %q or %q", PurchaseSchedule, PurchaseReplace)
}

type PurchaseRequest struct {
	UserID    uint
	PackageID uint
	Mode      PurchaseMode
	PaymentID *uint
}

type SweepResult struct {
	Processed int             `json:"processed"`
	Activated []uint          `json:"activated"`
	Skipped   []uint          `json:"skipped,omitempty"`
	Failed    map[uint]string `json:"failed,omitempty"`
}

var errAlreadyClaimed = errors.New("subscription already claimed")

func subscriptionEvent(id, userID uint) map[string]uint {
	return map[string]uint{"subscription_id": id, "user_id": userID}
}

type SubscriptionService interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*models.CustomerPackage, error)
	// PurchaseTx runs inside the caller's transaction.
	PurchaseTx(ctx context.Context, tx *gorm.DB, req PurchaseRequest) (*models.CustomerPackage, error)
	ActivateDue(ctx context.Context, now time.Time) SweepResult
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
	Cancel(ctx context.Context, userID, subscriptionID uint) error
	Active(ctx context.Context, userID uint) (*models.CustomerPackage, error)
	List(ctx context.Context, userID uint) ([]models.CustomerPackage, error)
	ListPackages(ctx context.Context) ([]models.Package, error)
	ConsumeMessage(ctx context.Context, userID uint) (*models.CustomerPackage, error)
	AddBonusMessagesTx(ctx context.Context, tx *gorm.DB, userID uint, n int) (*models.CustomerPackage, error)
}

type subscriptionService struct {
	db       *gorm.DB
	subRepo  repository.SubscriptionRepository
	userRepo repository.UserRepository
	events   EventPublisher
	log      *zap.Logger
	now      func() time.Time
}

func NewSubscriptionService(
	db *gorm.DB,
	subRepo repository.SubscriptionRepository,
	userRepo repository.UserRepository,
	publisher EventPublisher,
	log *zap.Logger,
) SubscriptionService {
	return &subscriptionService{
		db:       db,
		subRepo:  subRepo,
		userRepo: userRepo,
		events:   orNopPublisher(publisher),
		log:      logger.OrNop(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *subscriptionService) Purchase(ctx context.Context, req PurchaseRequest) (*models.CustomerPackage, error) {
	var sub *models.CustomerPackage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.PurchaseTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) PurchaseTx(ctx context.Context, tx *gorm.DB, req PurchaseRequest) (*models.CustomerPackage, error) {
	if req.Mode == "" {
		req.Mode = PurchaseSchedule
	}
	subs := s.subRepo.WithTx(tx)

	pkg, err := subs.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, notFound(err, "package")
	}
	if !pkg.IsActive {
		return nil, validationError("package %q is not available", pkg.Name)
	}

	// Serializes concurrent purchases for the same user.
	if _, err := s.userRepo.WithTx(tx).LockByID(ctx, req.UserID); err != nil {
		return nil, notFound(err, "user")
	}

	now := s.now()
	active, err := subs.GetActive(ctx, req.UserID)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to load active subscription: %w", err)
	}

	sub := &models.CustomerPackage{
		UserID:    req.UserID,
		PackageID: pkg.ID,
		PaymentID: req.PaymentID,
	}

	switch {
	case active == nil:
		end := now.Add(pkg.Duration())
		sub.Status = models.SubscriptionActive
		sub.IsActive = true
		sub.StartDate = &now
		sub.EndDate = &end

	case req.Mode == PurchaseReplace:
		if _, err := subs.GetScheduled(ctx, req.UserID); err == nil {
			return nil, conflictError("cancel the scheduled subscription before replacing the active one")
		} else if !isNotFound(err) {
			return nil, err
		}
		ok, err := subs.Transition(ctx, active.ID, models.SubscriptionActive, map[string]interface{}{
			"status":    models.SubscriptionReplaced,
			"is_active": false,
			"end_date":  now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to replace subscription %d: %w", active.ID, err)
		}
		if !ok {
			return nil, conflictError("active subscription changed concurrently")
		}
		end := now.Add(pkg.Duration())
		previous := active.ID
		sub.Status = models.SubscriptionActive
		sub.IsActive = true
		sub.StartDate = &now
		sub.EndDate = &end
		sub.PreviousSubscriptionID = &previous

	default:
		if _, err := subs.GetScheduled(ctx, req.UserID); err == nil {
			return nil, conflictError("a scheduled subscription already exists")
		} else if !isNotFound(err) {
			return nil, err
		}
		start := now
		if active.EndDate != nil && active.EndDate.After(now) {
			start = active.EndDate.UTC()
		}
		end := start.Add(pkg.Duration())
		previous := active.ID
		sub.Status = models.SubscriptionScheduled
		sub.ScheduledStartDate = &start
		sub.EndDate = &end
		sub.PreviousSubscriptionID = &previous
	}

	if err := subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	sub.Package = *pkg
	return sub, nil
}

// ActivateDue promotes due SCHEDULED rows, each in its own transaction. A failing row is
// recorded and the sweep moves on.
func (s *subscriptionService) ActivateDue(ctx context.Context, now time.Time) SweepResult {
	result := SweepResult{Failed: make(map[uint]string)}
	now = now.UTC()

	due, err := s.subRepo.DueScheduled(ctx, now)
	if err != nil {
		s.log.Error("failed to load due subscriptions", zap.Error(err))
		result.Failed[0] = err.Error()
		return result
	}

	for i := range due {
		row := due[i]
		result.Processed++

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.activate(ctx, tx, &row, now)
		})
		switch {
		case err == nil:
			result.Activated = append(result.Activated, row.ID)
			s.log.Info("Subscription activated", zap.Uint("subscription_id", row.ID), zap.Uint("user_id", row.UserID))
			s.events.Publish(events.TopicAdmin, "subscription.activated", row.UserID, subscriptionEvent(row.ID, row.UserID))
		case errors.Is(err, errAlreadyClaimed):
			result.Skipped = append(result.Skipped, row.ID)
		default:
			result.Failed[row.ID] = err.Error()
			s.log.Error("failed to activate subscription", zap.Uint("subscription_id", row.ID), zap.Error(err))
		}
	}
	return result
}

func (s *subscriptionService) activate(ctx context.Context, tx *gorm.DB, row *models.CustomerPackage, now time.Time) error {
	subs := s.subRepo.WithTx(tx)

	pkg, err := subs.GetPackage(ctx, row.PackageID)
	if err != nil {
		return notFound(err, "package")
	}

	ok, err := subs.Transition(ctx, row.ID, models.SubscriptionScheduled, map[string]interface{}{
		"status":     models.SubscriptionActive,
		"is_active":  true,
		"start_date": now,
		"end_date":   now.Add(pkg.Duration()),
	})
	if err != nil {
		return err
	}
	if !ok {
		return errAlreadyClaimed
	}

	if row.PreviousSubscriptionID != nil {
		if _, err := subs.Transition(ctx, *row.PreviousSubscriptionID, models.SubscriptionActive, map[string]interface{}{
			"status":    models.SubscriptionExpired,
			"is_active": false,
		}); err != nil {
			return fmt.Errorf("failed to expire previous subscription: %w", err)
		}
	}

	n, err := subs.DeactivateOthers(ctx, row.UserID, row.ID)
	if err != nil {
		return fmt.Errorf("failed to deactivate stale subscriptions: %w", err)
	}
	if n > 0 {
		s.log.Warn("expired extra active subscriptions", zap.Uint("user_id", row.UserID), zap.Int64("count", n))
	}
	return nil
}

// ExpireOverdue ends ACTIVE rows past their end date unless a successor is already due.
func (s *subscriptionService) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	overdue, err := s.subRepo.Overdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load overdue subscriptions: %w", err)
	}

	expired := 0
	for _, row := range overdue {
		if next, err := s.subRepo.GetScheduled(ctx, row.UserID); err == nil &&
			next.ScheduledStartDate != nil && !next.ScheduledStartDate.After(now) {
			continue
		}
		ok, err := s.subRepo.Transition(ctx, row.ID, models.SubscriptionActive, map[string]interface{}{
			"status":    models.SubscriptionExpired,
			"is_active": false,
		})
		if err != nil {
			s.log.Error("failed to expire subscription", zap.Uint("subscription_id", row.ID), zap.Error(err))
			continue
		}
		if ok {
			expired++
			s.events.Publish(events.TopicAdmin, "subscription.expired", row.UserID, subscriptionEvent(row.ID, row.UserID))
		}
	}
	return expired, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, userID, subscriptionID uint) error {
	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		if isNotFound(err) {
			return ErrCannotCancel
		}
		return err
	}
	if sub.UserID != userID || sub.Status != models.SubscriptionScheduled {
		return ErrCannotCancel
	}

	ok, err := s.subRepo.Transition(ctx, sub.ID, models.SubscriptionScheduled, map[string]interface{}{
		"status": models.SubscriptionCancelled,
	})
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if !ok {
		return ErrCannotCancel
	}
	return nil
}

func (s *subscriptionService) Active(ctx context.Context, userID uint) (*models.CustomerPackage, error) {
	sub, err := s.subRepo.GetActive(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	if sub.EndDate != nil && !sub.EndDate.After(s.now()) {
		return nil, ErrNoActiveSubscription
	}
	return sub, nil
}

func (s *subscriptionService) List(ctx context.Context, userID uint) ([]models.CustomerPackage, error) {
	return s.subRepo.ListByUser(ctx, userID)
}

func (s *subscriptionService) ListPackages(ctx context.Context) ([]models.Package, error) {
	return s.subRepo.ListPackages(ctx, true)
}

// ConsumeMessage charges one message against the active subscription.
func (s *subscriptionService) ConsumeMessage(ctx context.Context, userID uint) (*models.CustomerPackage, error) {
	sub, err := s.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	ok, err := s.subRepo.IncrementMessages(ctx, sub.ID, sub.MessageAllowance())
	if err != nil {
		return nil, fmt.Errorf("failed to count message: %w", err)
	}
	if !ok {
		return nil, ErrMessageLimit
	}
	sub.MessagesUsed++
	return sub, nil
}

func (s *subscriptionService) AddBonusMessagesTx(ctx context.Context, tx *gorm.DB, userID uint, n int) (*models.CustomerPackage, error) {
	subs := s.subRepo.WithTx(tx)
	sub, err := subs.GetActive(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	if err := subs.AddBonusMessages(ctx, sub.ID, n); err != nil {
		return nil, fmt.Errorf("failed to add bonus messages: %w", err)
	}
	sub.BonusMessages += n
	return sub, nil
}
