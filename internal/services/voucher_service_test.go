package services

import (
	"context"
	"errors"
	"testing"
	"time"
	"wa_business/internal/models"
	"wa_business/internal/testutil"

	"gorm.io/gorm"
)

func createVoucher(t *testing.T, env *testEnv, in VoucherInput) *models.Voucher {
	t.Helper()
	v, err := env.vouchers.Create(context.Background(), in, 1)
	if err != nil {
		t.Fatalf("create voucher %s: %v", in.Code, err)
	}
	return v
}

func TestRedeemCreditVoucherOncePerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})
	v := createVoucher(t, env, VoucherInput{Code: "welcome50", Type: models.VoucherCredit, Value: 50})
	if v.Code != "WELCOME50" {
		t.Fatalf("code should be normalized, got %q", v.Code)
	}

	res, err := env.vouchers.Redeem(ctx, customer.ID, " welcome50 ")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.Credited != 50 || res.Balance != 50 {
		t.Fatalf("unexpected redeem result %+v", res)
	}

	if _, err := env.vouchers.Redeem(ctx, customer.ID, "WELCOME50"); !errors.Is(err, ErrVoucherUsed) {
		t.Fatalf("second redeem: expected ErrVoucherUsed, got %v", err)
	}
	if got := env.user(t, customer.ID).BizPoints; got != 50 {
		t.Fatalf("balance = %v, want 50", got)
	}
	stored, _ := env.voucherRepo.GetByID(ctx, v.ID)
	if stored.UsageCount != 1 {
		t.Fatalf("usage count = %d, want 1", stored.UsageCount)
	}
}

func TestVoucherUsageIsUniquePerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})
	v := createVoucher(t, env, VoucherInput{Code: "ONCE", Type: models.VoucherCredit, Value: 5})

	usage := func() *models.VoucherUsage {
		return &models.VoucherUsage{VoucherID: v.ID, UserID: customer.ID, UsedAt: time.Now().UTC()}
	}
	if err := env.voucherRepo.RecordUsage(ctx, usage()); err != nil {
		t.Fatalf("first usage: %v", err)
	}
	if err := env.voucherRepo.RecordUsage(ctx, usage()); !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("second usage should hit the unique index, got %v", err)
	}
}

func TestRedeemRejectsUnusableVouchers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := testutil.CreateUser(t, env.db, "a@example.com", models.RoleCustomer, testutil.UserOpts{})
	second := testutil.CreateUser(t, env.db, "b@example.com", models.RoleCustomer, testutil.UserOpts{})

	createVoucher(t, env, VoucherInput{Code: "SINGLE", Type: models.VoucherCredit, Value: 5, UsageLimit: 1})
	createVoucher(t, env, VoucherInput{Code: "OLD", Type: models.VoucherCredit, Value: 5, ExpiresAt: timePtr(time.Now().Add(-time.Hour))})
	off := createVoucher(t, env, VoucherInput{Code: "OFF", Type: models.VoucherCredit, Value: 5})
	createVoucher(t, env, VoucherInput{Code: "PCT20", Type: models.VoucherPercentage, Value: 20})
	if err := env.vouchers.Deactivate(ctx, off.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	if _, err := env.vouchers.Redeem(ctx, first.ID, "SINGLE"); err != nil {
		t.Fatalf("first redeem of SINGLE: %v", err)
	}

	cases := []struct {
		code string
		want error
	}{
		{"SINGLE", ErrVoucherInvalid},
		{"OLD", ErrVoucherInvalid},
		{"OFF", ErrVoucherInvalid},
		{"PCT20", ErrValidation},
		{"NOPE", ErrNotFound},
		{"", ErrValidation},
	}
	for _, tc := range cases {
		if _, err := env.vouchers.Redeem(ctx, second.ID, tc.code); !errors.Is(err, tc.want) {
			t.Errorf("Redeem(%q): expected %v, got %v", tc.code, tc.want, err)
		}
	}
	if got := env.user(t, second.ID).BizPoints; got != 0 {
		t.Fatalf("rejected redemptions must not credit, balance %v", got)
	}
}

func TestRedeemMessagesVoucherNeedsActiveSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})
	v := createVoucher(t, env, VoucherInput{Code: "MSG100", Type: models.VoucherMessages, Value: 100})

	if _, err := env.vouchers.Redeem(ctx, customer.ID, "MSG100"); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
	if used, _ := env.voucherRepo.HasUsage(ctx, v.ID, customer.ID); used {
		t.Fatal("failed redemption must roll back the usage row")
	}

	starter := testutil.Package(t, env.db, "Starter")
	if _, err := env.subscriptions.Purchase(ctx, PurchaseRequest{UserID: customer.ID, PackageID: starter.ID}); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	res, err := env.vouchers.Redeem(ctx, customer.ID, "MSG100")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.Messages != 100 || res.Subscription.BonusMessages != 100 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := env.subscription(t, res.Subscription.ID); got.MessageAllowance() != starter.MessageLimit+100 {
		t.Fatalf("allowance = %d, want %d", got.MessageAllowance(), starter.MessageLimit+100)
	}
}

func TestRedeemPackageVoucher(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})
	business := testutil.Package(t, env.db, "Business")
	createVoucher(t, env, VoucherInput{Code: "FREEBIZ", Type: models.VoucherPackage, Value: float64(business.ID)})

	res, err := env.vouchers.Redeem(ctx, customer.ID, "FREEBIZ")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.Subscription == nil || res.Subscription.PackageID != business.ID || res.Subscription.Status != models.SubscriptionActive {
		t.Fatalf("unexpected subscription %+v", res.Subscription)
	}
}

func TestQuotePercentageVoucher(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})
	createVoucher(t, env, VoucherInput{Code: "PCT20", Type: models.VoucherPercentage, Value: 20})
	createVoucher(t, env, VoucherInput{Code: "CASH", Type: models.VoucherCredit, Value: 20})

	discount, v, err := env.vouchers.Quote(ctx, customer.ID, "pct20", 499)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if discount != 99.8 || v.Code != "PCT20" {
		t.Fatalf("discount = %v on %s, want 99.8", discount, v.Code)
	}
	if _, _, err := env.vouchers.Quote(ctx, customer.ID, "CASH", 499); !errors.Is(err, ErrValidation) {
		t.Fatalf("credit voucher at checkout: expected ErrValidation, got %v", err)
	}

	if err := env.vouchers.ReserveTx(ctx, env.db, v.ID, customer.ID, nil); err != nil {
		t.Fatalf("ReserveTx: %v", err)
	}
	if _, _, err := env.vouchers.Quote(ctx, customer.ID, "PCT20", 499); !errors.Is(err, ErrVoucherUsed) {
		t.Fatalf("quote after use: expected ErrVoucherUsed, got %v", err)
	}
}

func TestReserveRechecksUsageLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := testutil.CreateUser(t, env.db, "a@example.com", models.RoleCustomer, testutil.UserOpts{})
	second := testutil.CreateUser(t, env.db, "b@example.com", models.RoleCustomer, testutil.UserOpts{})
	v := createVoucher(t, env, VoucherInput{Code: "ONCE", Type: models.VoucherPercentage, Value: 10, UsageLimit: 1})
	cash := createVoucher(t, env, VoucherInput{Code: "CASH", Type: models.VoucherCredit, Value: 10})

	// Both checkouts were quoted before either reserved.
	for _, u := range []*models.User{first, second} {
		if _, _, err := env.vouchers.Quote(ctx, u.ID, "ONCE", 499); err != nil {
			t.Fatalf("Quote for %s: %v", u.Email, err)
		}
	}
	if err := env.vouchers.ReserveTx(ctx, env.db, v.ID, first.ID, nil); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if err := env.vouchers.ReserveTx(ctx, env.db, v.ID, second.ID, nil); !errors.Is(err, ErrVoucherInvalid) {
		t.Fatalf("second reservation: expected ErrVoucherInvalid, got %v", err)
	}
	if used, _ := env.voucherRepo.HasUsage(ctx, v.ID, second.ID); used {
		t.Fatal("a rejected reservation must not leave a usage row")
	}
	stored, err := env.voucherRepo.GetByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.UsageCount != 1 {
		t.Fatalf("usage_count = %d, want 1", stored.UsageCount)
	}

	// The counter itself refuses to pass the limit.
	if ok, err := env.voucherRepo.IncrementUsage(ctx, v.ID); err != nil || ok {
		t.Fatalf("IncrementUsage at the limit = %v, %v", ok, err)
	}

	if err := env.vouchers.ReserveTx(ctx, env.db, cash.ID, first.ID, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("credit voucher reservation: expected ErrValidation, got %v", err)
	}
}

func TestCreateVoucherValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createVoucher(t, env, VoucherInput{Code: "DUP", Type: models.VoucherCredit, Value: 1})

	cases := []struct {
		name string
		in   VoucherInput
		want error
	}{
		{"missing code", VoucherInput{Type: models.VoucherCredit, Value: 1}, ErrValidation},
		{"unknown type", VoucherInput{Code: "X1", Type: "gift", Value: 1}, ErrValidation},
		{"zero value", VoucherInput{Code: "X2", Type: models.VoucherCredit}, ErrValidation},
		{"percent over 100", VoucherInput{Code: "X3", Type: models.VoucherPercentage, Value: 150}, ErrValidation},
		{"negative limit", VoucherInput{Code: "X4", Type: models.VoucherCredit, Value: 1, UsageLimit: -1}, ErrValidation},
		{"duplicate", VoucherInput{Code: "dup", Type: models.VoucherCredit, Value: 1}, ErrConflict},
	}
	for _, tc := range cases {
		if _, err := env.vouchers.Create(ctx, tc.in, 1); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}
