package scheduler

import (
	"context"
	"fmt"
	"time"
	"wa_business/internal/logger"
	"wa_business/internal/services"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLockKey = "subscription-sweep"

// Locker keeps two server instances from sweeping at the same time. *redis.Client satisfies it.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

type Scheduler struct {
	cron          *cron.Cron
	spec          string
	subscriptions services.SubscriptionService
	locker        Locker
	log           *zap.Logger
	now           func() time.Time
}

// NewScheduler builds the subscription sweeper. locker may be nil for a single instance.
func NewScheduler(spec string, subscriptions services.SubscriptionService, locker Locker, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		spec:          spec,
		subscriptions: subscriptions,
		locker:        locker,
		log:           logger.OrNop(log),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.runSweep); err != nil {
		return fmt.Errorf("failed to add subscription sweep job: %w", err)
	}
	s.cron.Start()
	s.log.Info("Cron scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Cron scheduler stopped")
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	s.Sweep(ctx)
}

// Sweep activates due scheduled subscriptions, then expires overdue ones. It returns nil
// when another instance holds the lock.
func (s *Scheduler) Sweep(ctx context.Context) *SweepReport {
	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, sweepLockKey, 10*time.Minute)
		if err != nil {
			s.log.Warn("sweep lock unavailable, running unlocked", zap.Error(err))
		} else if !ok {
			s.log.Debug("sweep already running elsewhere")
			return nil
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), sweepLockKey); err != nil {
					s.log.Warn("failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	now := s.now()
	report := &SweepReport{Activation: s.subscriptions.ActivateDue(ctx, now)}
	for id, msg := range report.Activation.Failed {
		s.log.Error("Subscription activation failed", zap.Uint("subscription_id", id), zap.String("error", msg))
	}

	expired, err := s.subscriptions.ExpireOverdue(ctx, now)
	if err != nil {
		s.log.Error("Subscription expiry failed", zap.Error(err))
		report.ExpireError = err.Error()
	}
	report.Expired = expired

	if report.Activation.Processed > 0 || expired > 0 {
		s.log.Info("Subscription sweep finished",
			zap.Int("activated", len(report.Activation.Activated)),
			zap.Int("failed", len(report.Activation.Failed)),
			zap.Int("expired", expired))
	}
	return report
}

type SweepReport struct {
	Activation  services.SweepResult `json:"activation"`
	Expired     int                  `json:"expired"`
	ExpireError string               `json:"expire_error,omitempty"`
}
