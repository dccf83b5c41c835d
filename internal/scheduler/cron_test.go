package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"wa_business/internal/models"
	"wa_business/internal/repository"
	"wa_business/internal/services"
	"wa_business/internal/testutil"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	failWith error
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return false, l.failWith
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.released = append(l.released, key)
	return nil
}

type sweepFixture struct {
	subscriptions services.SubscriptionService
	queued        *models.CustomerPackage
	lapsed        *models.CustomerPackage
}

// newSweepFixture gives one user an active plan with a queued successor and another
// user a single active plan.
func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.NewDB(t)
	subs := services.NewSubscriptionService(db, repository.NewSubscriptionRepository(db), repository.NewUserRepository(db), nil, nil)
	starter := testutil.Package(t, db, "Starter")
	renewing := testutil.CreateUser(t, db, "renew@example.com", models.RoleCustomer, testutil.UserOpts{})
	lapsing := testutil.CreateUser(t, db, "lapse@example.com", models.RoleCustomer, testutil.UserOpts{})

	if _, err := subs.Purchase(ctx, services.PurchaseRequest{UserID: renewing.ID, PackageID: starter.ID}); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	queued, err := subs.Purchase(ctx, services.PurchaseRequest{UserID: renewing.ID, PackageID: starter.ID, Mode: services.PurchaseSchedule})
	if err != nil {
		t.Fatalf("scheduled purchase: %v", err)
	}
	lapsed, err := subs.Purchase(ctx, services.PurchaseRequest{UserID: lapsing.ID, PackageID: starter.ID})
	if err != nil {
		t.Fatalf("lapsing purchase: %v", err)
	}
	return &sweepFixture{subscriptions: subs, queued: queued, lapsed: lapsed}
}

func TestSweepActivatesAndExpires(t *testing.T) {
	f := newSweepFixture(t)
	locker := newFakeLocker()
	s := NewScheduler("@every 1m", f.subscriptions, locker, nil)
	s.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }

	report := s.Sweep(context.Background())
	if report == nil {
		t.Fatal("sweep should run when the lock is free")
	}
	if len(report.Activation.Activated) != 1 || report.Activation.Activated[0] != f.queued.ID {
		t.Fatalf("expected the queued row to activate, got %+v", report.Activation)
	}
	if report.Expired != 1 || report.ExpireError != "" {
		t.Fatalf("expected one expiry, got %+v", report)
	}
	if len(locker.released) != 1 || locker.released[0] != sweepLockKey {
		t.Fatalf("lock should be released once, got %v", locker.released)
	}

	// Nothing is left to do on the next run.
	report = s.Sweep(context.Background())
	if report.Activation.Processed != 0 || report.Expired != 0 {
		t.Fatalf("second sweep should be a no-op, got %+v", report)
	}
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	f := newSweepFixture(t)
	locker := newFakeLocker()
	locker.held[sweepLockKey] = true
	s := NewScheduler("@every 1m", f.subscriptions, locker, nil)
	s.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }

	if report := s.Sweep(context.Background()); report != nil {
		t.Fatalf("sweep must not run while another instance holds the lock, got %+v", report)
	}
	if len(locker.released) != 0 {
		t.Fatal("a lock we did not take must not be released")
	}
	if _, err := f.subscriptions.Active(context.Background(), f.lapsed.UserID); err != nil {
		t.Fatalf("subscription should still be active: %v", err)
	}
}

func TestSweepRunsUnlockedWhenLockerFails(t *testing.T) {
	f := newSweepFixture(t)
	locker := newFakeLocker()
	locker.failWith = errors.New("redis down")
	s := NewScheduler("@every 1m", f.subscriptions, locker, nil)
	s.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }

	report := s.Sweep(context.Background())
	if report == nil || report.Expired != 1 {
		t.Fatalf("sweep should run without the lock, got %+v", report)
	}
	if len(locker.released) != 0 {
		t.Fatal("no lock was taken, so none should be released")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := NewScheduler("not a cron spec", nil, nil, nil)
	if err := s.Start(); err == nil {
		t.Fatal("expected an error for an invalid cron spec")
	}
}

func TestStartAndStop(t *testing.T) {
	s := NewScheduler("@every 1h", nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
