package services

import (
	"context"
	"sync"
	"testing"
	"time"
	"wa_business/internal/models"
	"wa_business/internal/repository"
	"wa_business/internal/testutil"

	"gorm.io/gorm"
)

type publishedEvent struct {
	Topic  string
	Type   string
	UserID uint
	Data   interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(topic, eventType string, userID uint, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Type: eventType, UserID: userID, Data: data})
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	db *gorm.DB

	userRepo    repository.UserRepository
	permRepo    repository.PermissionRepository
	walletRepo  repository.WalletRepository
	subRepo     repository.SubscriptionRepository
	voucherRepo repository.VoucherRepository
	paymentRepo repository.PaymentRepository
	deviceRepo  repository.DeviceRepository

	wallet        WalletService
	commissions   CommissionService
	subscriptions SubscriptionService
	vouchers      VoucherService
	events        *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	env := &testEnv{
		db:          db,
		userRepo:    repository.NewUserRepository(db),
		permRepo:    repository.NewPermissionRepository(db),
		walletRepo:  repository.NewWalletRepository(db),
		subRepo:     repository.NewSubscriptionRepository(db),
		voucherRepo: repository.NewVoucherRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
		deviceRepo:  repository.NewDeviceRepository(db),
		events:      &recordingPublisher{},
	}
	env.wallet = NewWalletService(db, env.userRepo, env.walletRepo)
	env.commissions = NewCommissionService(db, env.userRepo, env.walletRepo, env.wallet, env.events, false, nil)
	env.subscriptions = NewSubscriptionService(db, env.subRepo, env.userRepo, env.events, nil)
	env.vouchers = NewVoucherService(db, env.voucherRepo, env.wallet, env.subscriptions)
	return env
}

func (e *testEnv) user(t *testing.T, id uint) *models.User {
	t.Helper()
	u, err := e.userRepo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load user %d: %v", id, err)
	}
	return u
}

func (e *testEnv) subscription(t *testing.T, id uint) *models.CustomerPackage {
	t.Helper()
	sub, err := e.subRepo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load subscription %d: %v", id, err)
	}
	return sub
}

func (e *testEnv) countActive(t *testing.T, userID uint) int64 {
	t.Helper()
	var n int64
	err := e.db.Model(&models.CustomerPackage{}).Where("user_id = ? AND is_active = ?", userID, true).Count(&n).Error
	if err != nil {
		t.Fatalf("count active subscriptions: %v", err)
	}
	return n
}

func uintPtr(v uint) *uint { return &v }

func timePtr(t time.Time) *time.Time { return &t }
