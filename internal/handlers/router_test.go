package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"wa_business/internal/events"
	"wa_business/internal/models"
	"wa_business/internal/repository"
	"wa_business/internal/scheduler"
	"wa_business/internal/services"
	"wa_business/internal/testutil"
	"wa_business/pkg/auth"
	"wa_business/pkg/razorpay"
	"wa_business/pkg/whatsapp"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const testWebhookSecret = "hook-secret"

type fakeSweeper struct {
	report *scheduler.SweepReport
	calls  int
}

func (s *fakeSweeper) Sweep(ctx context.Context) *scheduler.SweepReport {
	s.calls++
	return s.report
}

type testServer struct {
	db      *gorm.DB
	router  *gin.Engine
	tokens  *auth.TokenManager
	users   services.UserService
	sweeper *fakeSweeper
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)

	userRepo := repository.NewUserRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	users := services.NewUserService(userRepo)
	permissions := services.NewPermissionService(db, repository.NewPermissionRepository(db), userRepo, nil, time.Minute, nil)
	wallet := services.NewWalletService(db, userRepo, walletRepo)
	commissions := services.NewCommissionService(db, userRepo, walletRepo, wallet, nil, false, nil)
	subscriptions := services.NewSubscriptionService(db, subRepo, userRepo, nil, nil)
	vouchers := services.NewVoucherService(db, repository.NewVoucherRepository(db), wallet, subscriptions)
	provider := razorpay.NewClient(razorpay.Config{KeyID: "rzp_test_xxx", KeySecret: "xxx", Currency: "INR"})
	payments := services.NewPaymentService(db, repository.NewPaymentRepository(db), subRepo, provider, wallet, subscriptions, vouchers, commissions, nil)
	hub := events.NewHub(nil)
	wa := services.NewWhatsAppService(whatsapp.NewRegistry(nil, "http://127.0.0.1:1"), repository.NewDeviceRepository(db), subscriptions, hub, nil)

	s := &testServer{
		db:      db,
		tokens:  auth.NewTokenManager("test-secret", time.Hour),
		users:   users,
		sweeper: &fakeSweeper{report: &scheduler.SweepReport{Expired: 2}},
	}
	s.router = NewRouter(gin.New(), Dependencies{
		Users:         users,
		Permissions:   permissions,
		Wallet:        wallet,
		Commissions:   commissions,
		Subscriptions: subscriptions,
		Vouchers:      vouchers,
		Payments:      payments,
		WhatsApp:      wa,
		Tokens:        s.tokens,
		Hub:           hub,
		Sweeper:       s.sweeper,
		WebhookSecret: testWebhookSecret,
		KeepAlive:     time.Second,
	})
	return s
}

func (s *testServer) tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := s.tokens.GenerateToken(user.ID, user.Role.Name)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "new@example.com", "name": "New", "password": "password1",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var registered struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	decode(t, resp, &registered)
	if registered.Token == "" || registered.User.Email != "new@example.com" {
		t.Fatalf("unexpected register response %s", resp.Body.String())
	}

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "new@example.com", "password": "password1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.Code)
	}

	resp = s.do(t, http.MethodGet, "/api/auth/me", registered.Token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", resp.Code)
	}
	var me struct {
		Permissions []string `json:"permissions"`
		Owner       bool     `json:"owner"`
	}
	decode(t, resp, &me)
	if me.Owner {
		t.Fatal("a customer is not the owner")
	}
	found := false
	for _, p := range me.Permissions {
		if p == "packages.purchase" {
			found = true
		}
	}
	if !found {
		t.Fatalf("customer should hold packages.purchase, got %v", me.Permissions)
	}
}

func TestAuthFailures(t *testing.T) {
	s := newTestServer(t)
	user := testutil.CreateUser(t, s.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{Password: "password1"})
	token := s.tokenFor(t, user)

	cases := []struct {
		name    string
		method  string
		path    string
		token   string
		body    interface{}
		headers []string
		want    int
	}{
		{"wrong password", http.MethodPost, "/api/auth/login", "", map[string]string{"email": "c@example.com", "password": "nope-nope"}, nil, http.StatusUnauthorized},
		{"missing login fields", http.MethodPost, "/api/auth/login", "", map[string]string{"email": "c@example.com"}, nil, http.StatusBadRequest},
		{"no token", http.MethodGet, "/api/auth/me", "", nil, nil, http.StatusUnauthorized},
		{"bad scheme", http.MethodGet, "/api/auth/me", "", nil, []string{"Authorization", "Token " + token}, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/auth/me", "not-a-jwt", nil, nil, http.StatusUnauthorized},
		{"query token", http.MethodGet, "/api/auth/me?token=" + token, "", nil, nil, http.StatusOK},
		{"no api key", http.MethodGet, "/api/v1/devices", "", nil, nil, http.StatusUnauthorized},
		{"bad api key", http.MethodGet, "/api/v1/devices", "", nil, []string{"X-API-Key", "wab_0000000000000000"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp := s.do(t, tc.method, tc.path, tc.token, tc.body, tc.headers...)
		if resp.Code != tc.want {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.want, resp.Code, resp.Body.String())
		}
	}

	if err := s.db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if resp := s.do(t, http.MethodGet, "/api/auth/me", token, nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("deactivated user: expected 401, got %d", resp.Code)
	}
}

func TestPermissionGate(t *testing.T) {
	s := newTestServer(t)
	customer := testutil.CreateUser(t, s.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})
	admin := testutil.CreateUser(t, s.db, "admin@example.com", models.RoleAdmin, testutil.UserOpts{})

	resp := s.do(t, http.MethodPost, "/api/admin/subscriptions/sweep", s.tokenFor(t, customer), nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("customer sweep: expected 403, got %d", resp.Code)
	}
	var denied map[string]string
	decode(t, resp, &denied)
	if denied["permission"] != "subscriptions.manage" {
		t.Fatalf("denial should name the permission, got %v", denied)
	}
	if s.sweeper.calls != 0 {
		t.Fatal("sweeper must not run for a denied request")
	}

	resp = s.do(t, http.MethodPost, "/api/admin/subscriptions/sweep", s.tokenFor(t, admin), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("admin sweep: expected 200, got %d", resp.Code)
	}
	var report scheduler.SweepReport
	decode(t, resp, &report)
	if report.Expired != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	s.sweeper.report = nil
	if resp := s.do(t, http.MethodPost, "/api/admin/subscriptions/sweep", s.tokenFor(t, admin), nil); resp.Code != http.StatusConflict {
		t.Fatalf("locked sweep: expected 409, got %d", resp.Code)
	}
}

func TestPurchaseWithBizPointsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rich := testutil.CreateUser(t, s.db, "rich@example.com", models.RoleCustomer, testutil.UserOpts{BizPoints: 1000})
	poor := testutil.CreateUser(t, s.db, "poor@example.com", models.RoleCustomer, testutil.UserOpts{})
	starter := testutil.Package(t, s.db, "Starter")
	body := map[string]interface{}{"package_id": starter.ID}

	if resp := s.do(t, http.MethodPost, "/api/customer/subscriptions/purchase", s.tokenFor(t, rich), body); resp.Code != http.StatusCreated {
		t.Fatalf("purchase: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := s.do(t, http.MethodPost, "/api/customer/subscriptions/purchase", s.tokenFor(t, poor), body); resp.Code != http.StatusConflict {
		t.Fatalf("short balance: expected 409, got %d", resp.Code)
	}
	bad := map[string]interface{}{"package_id": starter.ID, "mode": "sideways"}
	if resp := s.do(t, http.MethodPost, "/api/customer/subscriptions/purchase", s.tokenFor(t, rich), bad); resp.Code != http.StatusBadRequest {
		t.Fatalf("bad mode: expected 400, got %d", resp.Code)
	}
	if resp := s.do(t, http.MethodPost, "/api/customer/subscriptions/999/cancel", s.tokenFor(t, rich), nil); resp.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown: expected 404, got %d", resp.Code)
	}
}

func TestAPIKeyAccess(t *testing.T) {
	s := newTestServer(t)
	customer := testutil.CreateUser(t, s.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})

	resp := s.do(t, http.MethodPost, "/api/customer/api-key", s.tokenFor(t, customer), nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("api key: expected 201, got %d", resp.Code)
	}
	var issued map[string]string
	decode(t, resp, &issued)

	resp = s.do(t, http.MethodGet, "/api/v1/devices", "", nil, "X-API-Key", issued["api_key"])
	if resp.Code != http.StatusOK {
		t.Fatalf("v1 devices: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestWebhookRequiresSecret(t *testing.T) {
	s := newTestServer(t)
	update := map[string]string{"messageId": "wamid-1", "status": "delivered"}

	if resp := s.do(t, http.MethodPost, "/api/webhooks/whatsapp-status", "", update); resp.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: expected 401, got %d", resp.Code)
	}
	if resp := s.do(t, http.MethodPost, "/api/webhooks/whatsapp-status", "", update, "X-Webhook-Secret", "wrong"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: expected 401, got %d", resp.Code)
	}
	resp := s.do(t, http.MethodPost, "/api/webhooks/whatsapp-status", "", update, "X-Webhook-Secret", testWebhookSecret)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown message: expected 404, got %d", resp.Code)
	}
}

func TestRespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad input", services.ErrValidation), http.StatusBadRequest},
		{services.ErrVoucherInvalid, http.StatusBadRequest},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{services.ErrSystemPermission, http.StatusForbidden},
		{services.ErrNoActiveSubscription, http.StatusForbidden},
		{services.ErrMessageLimit, http.StatusForbidden},
		{services.ErrDeviceLimit, http.StatusForbidden},
		{fmt.Errorf("device %w", services.ErrNotFound), http.StatusNotFound},
		{services.ErrCannotCancel, http.StatusNotFound},
		{services.ErrInsufficientBalance, http.StatusConflict},
		{services.ErrVoucherUsed, http.StatusConflict},
		{fmt.Errorf("%w: timeout", services.ErrGatewayUnavailable), http.StatusServiceUnavailable},
		{services.ErrPaymentUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		resp := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(resp)
		respondError(c, tc.err)
		if resp.Code != tc.want {
			t.Errorf("respondError(%v) = %d, want %d", tc.err, resp.Code, tc.want)
		}
	}

	resp := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(resp)
	respondError(c, fmt.Errorf("disk on fire"))
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "Internal server error" {
		t.Fatalf("internal errors must not leak, got %v", body)
	}
}
