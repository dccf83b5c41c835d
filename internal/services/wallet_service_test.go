package services

import (
	"context"
	"errors"
	"testing"
	"wa_business/internal/models"
	"wa_business/internal/testutil"
)

func TestWalletRunningBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})

	if _, err := env.wallet.Credit(ctx, nil, LedgerEntry{UserID: u.ID, Amount: 100, Reference: "topup-1"}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	res, err := env.wallet.Debit(ctx, nil, LedgerEntry{UserID: u.ID, Amount: 30.25, Reference: "spend-1"})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if res.Entry.Amount != -30.25 || res.Entry.Balance != 69.75 {
		t.Fatalf("unexpected debit row amount=%v balance=%v", res.Entry.Amount, res.Entry.Balance)
	}

	balance, err := env.wallet.Balance(ctx, u.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 69.75 {
		t.Fatalf("balance = %v, want 69.75", balance)
	}

	history, err := env.wallet.History(ctx, u.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(history))
	}
	var sum float64
	for _, row := range history {
		sum += row.Amount
	}
	if roundMoney(sum) != balance {
		t.Fatalf("ledger sum %v does not match balance %v", sum, balance)
	}
}

func TestWalletRejectsOverdraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{BizPoints: 10})

	_, err := env.wallet.Debit(ctx, nil, LedgerEntry{UserID: u.ID, Amount: 10.01})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := env.user(t, u.ID).BizPoints; got != 10 {
		t.Fatalf("balance changed to %v", got)
	}
	history, _ := env.wallet.History(ctx, u.ID, 10)
	if len(history) != 0 {
		t.Fatalf("failed debit must not leave a ledger row, got %d", len(history))
	}
}

func TestWalletReferenceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})

	entry := LedgerEntry{UserID: u.ID, Amount: 25, Type: models.LedgerVoucherCredit, Reference: "voucher:1"}
	first, err := env.wallet.Credit(ctx, nil, entry)
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	second, err := env.wallet.Credit(ctx, nil, entry)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if first.Duplicate || !second.Duplicate {
		t.Fatalf("duplicate flags: first=%v second=%v", first.Duplicate, second.Duplicate)
	}
	if second.Entry.ID != first.Entry.ID {
		t.Fatal("duplicate should return the original row")
	}
	if got := env.user(t, u.ID).BizPoints; got != 25 {
		t.Fatalf("balance = %v, want 25", got)
	}
}

func TestWalletAdjust(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{BizPoints: 50})

	if _, err := env.wallet.Adjust(ctx, u.ID, 20, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing reason: expected ErrValidation, got %v", err)
	}
	if _, err := env.wallet.Adjust(ctx, u.ID, 0, "noop"); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero amount: expected ErrValidation, got %v", err)
	}
	res, err := env.wallet.Adjust(ctx, u.ID, -20, "refund reversal")
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if res.Entry.Type != models.LedgerDebit || res.Entry.Balance != 30 {
		t.Fatalf("unexpected adjustment row %+v", res.Entry)
	}
	if _, err := env.wallet.Adjust(ctx, 9999, 5, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: expected ErrNotFound, got %v", err)
	}
}
