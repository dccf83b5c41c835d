package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"wa_business/internal/models"
	"wa_business/internal/redis"
	"wa_business/internal/testutil"
)

type fakePermissionCache struct {
	mu      sync.Mutex
	sets    map[uint]map[string]bool
	ttls    map[uint]time.Duration
	deletes int
}

func newFakePermissionCache() *fakePermissionCache {
	return &fakePermissionCache{sets: map[uint]map[string]bool{}, ttls: map[uint]time.Duration{}}
}

func (c *fakePermissionCache) GetPermissionSet(_ context.Context, userID uint) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[userID]
	if !ok {
		return nil, redis.ErrCacheMiss
	}
	return set, nil
}

func (c *fakePermissionCache) SetPermissionSet(_ context.Context, userID uint, set map[string]bool, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[userID] = set
	c.ttls[userID] = ttl
	return nil
}

func (c *fakePermissionCache) DeletePermissionSets(_ context.Context, userIDs ...uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.sets, id)
	}
	c.deletes++
	return nil
}

func newPermissionService(env *testEnv, cache PermissionCache) *permissionService {
	return NewPermissionService(env.db, env.permRepo, env.userRepo, cache, 5*time.Minute, nil).(*permissionService)
}

func TestRoleGrantsAndDenyByDefault(t *testing.T) {
	env := newTestEnv(t)
	svc := newPermissionService(env, nil)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})

	cases := map[string]bool{
		"packages.purchase": true,
		"messages.send":     true,
		"users.create":      false,
		"wallet.adjust":     false,
		"nothing.defined":   false,
	}
	for name, want := range cases {
		got, err := svc.HasPermission(ctx, customer.ID, name)
		if err != nil {
			t.Fatalf("HasPermission(%s): %v", name, err)
		}
		if got != want {
			t.Errorf("HasPermission(%s) = %v, want %v", name, got, want)
		}
	}
}

func TestOwnerHoldsEveryPermission(t *testing.T) {
	env := newTestEnv(t)
	svc := newPermissionService(env, nil)
	owner := testutil.CreateUser(t, env.db, "owner@example.com", models.RoleOwner, testutil.UserOpts{})

	for _, name := range []string{"users.delete", "made.up"} {
		ok, err := svc.HasPermission(context.Background(), owner.ID, name)
		if err != nil || !ok {
			t.Fatalf("owner should hold %s, got %v, %v", name, ok, err)
		}
	}
}

func TestUserOverridePrecedenceAndExpiry(t *testing.T) {
	env := newTestEnv(t)
	svc := newPermissionService(env, nil)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})

	// Deny beats the role grant.
	if _, err := svc.GrantUserPermission(ctx, UserPermissionInput{
		UserID: customer.ID, PermissionName: "packages.purchase", Granted: false, Reason: "chargeback",
	}); err != nil {
		t.Fatalf("deny override: %v", err)
	}
	// Grant beats a missing role grant until it expires.
	if _, err := svc.GrantUserPermission(ctx, UserPermissionInput{
		UserID: customer.ID, PermissionName: "users.read", Granted: true, ExpiresAt: timePtr(time.Now().Add(time.Hour)),
	}); err != nil {
		t.Fatalf("grant override: %v", err)
	}

	set, err := svc.EffectivePermissions(ctx, customer.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if set.Has("packages.purchase") {
		t.Error("deny override should remove packages.purchase")
	}
	if !set.Has("users.read") {
		t.Error("grant override should add users.read")
	}
	if !set.Has("messages.send") {
		t.Error("unrelated role grants must survive")
	}

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	set, err = svc.EffectivePermissions(ctx, customer.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions after expiry: %v", err)
	}
	if set.Has("users.read") {
		t.Error("expired override must be ignored")
	}
	if set.Has("packages.purchase") {
		t.Error("non-expiring deny must still apply")
	}
}

func TestGrantRejectsPastExpiry(t *testing.T) {
	env := newTestEnv(t)
	svc := newPermissionService(env, nil)
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})

	_, err := svc.GrantUserPermission(context.Background(), UserPermissionInput{
		UserID: customer.ID, PermissionName: "users.read", Granted: true, ExpiresAt: timePtr(time.Now().Add(-time.Minute)),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestInactiveAndUnknownUsers(t *testing.T) {
	env := newTestEnv(t)
	svc := newPermissionService(env, nil)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})
	if err := env.userRepo.UpdateFields(ctx, customer.ID, map[string]interface{}{"is_active": false}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	set, err := svc.EffectivePermissions(ctx, customer.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("inactive user should have no permissions, got %v", set.Names())
	}

	if _, err := svc.HasPermission(ctx, 9999, "packages.read"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for unknown user, got %v", err)
	}
}

func TestSystemPermissionsAreProtected(t *testing.T) {
	env := newTestEnv(t)
	svc := newPermissionService(env, nil)
	ctx := context.Background()

	seeded, err := env.permRepo.GetByName(ctx, "users.read")
	if err != nil {
		t.Fatalf("load seeded permission: %v", err)
	}
	if _, err := svc.UpdatePermission(ctx, seeded.ID, PermissionInput{Name: "users.view"}); !errors.Is(err, ErrSystemPermission) {
		t.Fatalf("update system permission: expected ErrSystemPermission, got %v", err)
	}
	if err := svc.DeletePermission(ctx, seeded.ID); !errors.Is(err, ErrSystemPermission) {
		t.Fatalf("delete system permission: expected ErrSystemPermission, got %v", err)
	}

	custom, err := svc.CreatePermission(ctx, PermissionInput{Name: "Reports.Export", Description: "CSV export"})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if custom.Name != "reports.export" || custom.Resource != "reports" || custom.Action != "export" || custom.IsSystem {
		t.Fatalf("unexpected permission %+v", custom)
	}
	if _, err := svc.CreatePermission(ctx, PermissionInput{Name: "reports.export"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate, got %v", err)
	}
	if _, err := svc.CreatePermission(ctx, PermissionInput{Name: "not a name"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation on bad name, got %v", err)
	}
	if _, err := svc.UpdatePermission(ctx, custom.ID, PermissionInput{Name: "reports.download"}); err != nil {
		t.Fatalf("UpdatePermission: %v", err)
	}
	if err := svc.DeletePermission(ctx, custom.ID); err != nil {
		t.Fatalf("DeletePermission: %v", err)
	}
}

func TestPermissionCacheInvalidation(t *testing.T) {
	env := newTestEnv(t)
	cache := newFakePermissionCache()
	svc := newPermissionService(env, cache)
	ctx := context.Background()
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})

	if ok, _ := svc.HasPermission(ctx, customer.ID, "dealers.read"); ok {
		t.Fatal("customer should not read dealers by default")
	}
	if _, cached := cache.sets[customer.ID]; !cached {
		t.Fatal("permission set should be cached after first evaluation")
	}

	if err := svc.SetRolePermission(ctx, models.RoleCustomer, "dealers.read", true); err != nil {
		t.Fatalf("SetRolePermission: %v", err)
	}
	if _, cached := cache.sets[customer.ID]; cached {
		t.Fatal("role change should invalidate members' cached sets")
	}
	if ok, _ := svc.HasPermission(ctx, customer.ID, "dealers.read"); !ok {
		t.Fatal("role grant should apply after invalidation")
	}

	if _, err := svc.GrantUserPermission(ctx, UserPermissionInput{
		UserID: customer.ID, PermissionName: "users.read", Granted: true, ExpiresAt: timePtr(time.Now().Add(time.Minute)),
	}); err != nil {
		t.Fatalf("GrantUserPermission: %v", err)
	}
	if ok, _ := svc.HasPermission(ctx, customer.ID, "users.read"); !ok {
		t.Fatal("override should apply after invalidation")
	}
	if ttl := cache.ttls[customer.ID]; ttl <= 0 || ttl > time.Minute {
		t.Fatalf("cache TTL should be capped by the override expiry, got %v", ttl)
	}

	if err := svc.SetRolePermission(ctx, models.RoleOwner, "users.read", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("owner role grants must be immutable, got %v", err)
	}
}

func TestPermissionTemplates(t *testing.T) {
	env := newTestEnv(t)
	svc := newPermissionService(env, nil)
	ctx := context.Background()
	admin := testutil.CreateUser(t, env.db, "admin@example.com", models.RoleAdmin, testutil.UserOpts{})
	customer := testutil.CreateUser(t, env.db, "c@example.com", models.RoleCustomer, testutil.UserOpts{})

	tmpl, err := svc.CreateTemplate(ctx, "support", "Support staff", []string{"users.read", "dealers.read"}, admin.ID)
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, "support", "", []string{"users.read"}, admin.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate template, got %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, "broken", "", []string{"missing.perm"}, admin.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}

	applied, err := svc.ApplyTemplate(ctx, tmpl.ID, customer.ID, nil, admin.ID)
	if err != nil {
		t.Fatalf("ApplyTemplate: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 permissions applied, got %d", applied)
	}
	for _, name := range []string{"users.read", "dealers.read"} {
		if ok, _ := svc.HasPermission(ctx, customer.ID, name); !ok {
			t.Errorf("template should grant %s", name)
		}
	}

	// Reapplying upserts instead of duplicating.
	if _, err := svc.ApplyTemplate(ctx, tmpl.ID, customer.ID, nil, admin.ID); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	ups, err := svc.ListUserPermissions(ctx, customer.ID)
	if err != nil {
		t.Fatalf("ListUserPermissions: %v", err)
	}
	if len(ups) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(ups))
	}

	if err := svc.RevokeUserPermission(ctx, ups[0].ID); err != nil {
		t.Fatalf("RevokeUserPermission: %v", err)
	}
	if err := svc.DeleteTemplate(ctx, tmpl.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if err := svc.DeleteTemplate(ctx, tmpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
