package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"wa_business/internal/logger"
	"wa_business/internal/models"
	"wa_business/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ownerWildcard = "*"

var permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// PermissionSet is the compiled view of one user's permissions.
type PermissionSet map[string]bool

func (s PermissionSet) Has(name string) bool {
	return s[ownerWildcard] || s[name]
}

// Names lists granted permissions, excluding the owner wildcard.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name, granted := range s {
		if granted && name != ownerWildcard {
			names = append(names, name)
		}
	}
	return names
}

type PermissionCache interface {
	GetPermissionSet(ctx context.Context, userID uint) (map[string]bool, error)
	SetPermissionSet(ctx context.Context, userID uint, set map[string]bool, ttl time.Duration) error
	DeletePermissionSets(ctx context.Context, userIDs ...uint) error
}

type PermissionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
}

type UserPermissionInput struct {
	UserID         uint       `json:"user_id"`
	PermissionName string     `json:"permission"`
	Granted        bool       `json:"granted"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Reason         string     `json:"reason"`
	GrantedBy      uint       `json:"-"`
}

type PermissionService interface {
	HasPermission(ctx context.Context, userID uint, name string) (bool, error)
	EffectivePermissions(ctx context.Context, userID uint) (PermissionSet, error)

	ListPermissions(ctx context.Context) ([]models.Permission, error)
	CreatePermission(ctx context.Context, in PermissionInput) (*models.Permission, error)
	UpdatePermission(ctx context.Context, id uint, in PermissionInput) (*models.Permission, error)
	DeletePermission(ctx context.Context, id uint) error

	ListRolePermissions(ctx context.Context, roleName string) ([]models.RolePermission, error)
	SetRolePermission(ctx context.Context, roleName, permissionName string, granted bool) error

	ListUserPermissions(ctx context.Context, userID uint) ([]models.UserPermission, error)
	GrantUserPermission(ctx context.Context, in UserPermissionInput) (*models.UserPermission, error)
	RevokeUserPermission(ctx context.Context, id uint) error

	CreateTemplate(ctx context.Context, name, description string, permissionNames []string, createdBy uint) (*models.PermissionTemplate, error)
	ListTemplates(ctx context.Context) ([]models.PermissionTemplate, error)
	DeleteTemplate(ctx context.Context, id uint) error
	ApplyTemplate(ctx context.Context, templateID, userID uint, expiresAt *time.Time, grantedBy uint) (int, error)
}

type permissionService struct {
	db       *gorm.DB
	permRepo repository.PermissionRepository
	userRepo repository.UserRepository
	cache    PermissionCache
	cacheTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewPermissionService wires the evaluator. cache may be nil.
func NewPermissionService(
	db *gorm.DB,
	permRepo repository.PermissionRepository,
	userRepo repository.UserRepository,
	cache PermissionCache,
	cacheTTL time.Duration,
	log *zap.Logger,
) PermissionService {
	return &permissionService{
		db:       db,
		permRepo: permRepo,
		userRepo: userRepo,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      logger.OrNop(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *permissionService) HasPermission(ctx context.Context, userID uint, name string) (bool, error) {
	set, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

func (s *permissionService) EffectivePermissions(ctx context.Context, userID uint) (PermissionSet, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetPermissionSet(ctx, userID); err == nil {
			return PermissionSet(cached), nil
		}
	}

	set, ttl, err := s.compile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && ttl > 0 {
		if err := s.cache.SetPermissionSet(ctx, userID, set, ttl); err != nil {
			s.log.Warn("failed to cache permission set", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return set, nil
}

// compile resolves role grants, then lets unexpired user overrides win. The returned TTL
// never outlives the earliest override expiry.
func (s *permissionService) compile(ctx context.Context, userID uint) (PermissionSet, time.Duration, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnauthenticated, notFound(err, "user"))
	}

	set := make(PermissionSet)
	if !user.IsActive {
		return set, s.cacheTTL, nil
	}
	if user.Role.Name == models.RoleOwner {
		set[ownerWildcard] = true
		return set, s.cacheTTL, nil
	}

	roleGrants, err := s.permRepo.RoleGrants(ctx, user.RoleID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load role grants: %w", err)
	}
	for _, g := range roleGrants {
		set[g.Name] = g.Granted
	}

	now := s.now()
	overrides, err := s.permRepo.ActiveUserOverrides(ctx, userID, now)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load user overrides: %w", err)
	}
	for _, o := range overrides {
		set[o.Name] = o.Granted
	}

	ttl := s.cacheTTL
	ups, err := s.permRepo.ListUserPermissions(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load user overrides: %w", err)
	}
	for _, up := range ups {
		if up.ExpiresAt != nil && up.ExpiresAt.After(now) {
			if until := up.ExpiresAt.Sub(now); until < ttl {
				ttl = until
			}
		}
	}

	for name, granted := range set {
		if !granted {
			delete(set, name)
		}
	}
	return set, ttl, nil
}

func (s *permissionService) invalidate(ctx context.Context, userIDs ...uint) {
	if s.cache == nil || len(userIDs) == 0 {
		return
	}
	if err := s.cache.DeletePermissionSets(ctx, userIDs...); err != nil {
		s.log.Warn("failed to invalidate permission cache", zap.Uints("user_ids", userIDs), zap.Error(err))
	}
}

func (s *permissionService) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	users, err := s.userRepo.GetAll(ctx)
	if err != nil {
		s.log.Warn("failed to list users for cache invalidation", zap.Error(err))
		return
	}
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	s.invalidate(ctx, ids...)
}

func (s *permissionService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	return s.permRepo.List(ctx)
}

func normalizePermissionInput(in *PermissionInput) error {
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	if !permissionNamePattern.MatchString(in.Name) {
		return validationError("permission name must be dotted lowercase, e.g. users.read")
	}
	idx := strings.LastIndex(in.Name, ".")
	if in.Resource == "" {
		in.Resource = in.Name[:idx]
	}
	if in.Action == "" {
		in.Action = in.Name[idx+1:]
	}
	if in.Category == "" {
		in.Category = in.Resource
	}
	return nil
}

// CreatePermission never creates system permissions.
func (s *permissionService) CreatePermission(ctx context.Context, in PermissionInput) (*models.Permission, error) {
	if err := normalizePermissionInput(&in); err != nil {
		return nil, err
	}
	if _, err := s.permRepo.GetByName(ctx, in.Name); err == nil {
		return nil, conflictError("permission %q already exists", in.Name)
	} else if !isNotFound(err) {
		return nil, err
	}

	permission := &models.Permission{
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Resource:    in.Resource,
		Action:      in.Action,
	}
	if err := s.permRepo.Create(ctx, permission); err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return permission, nil
}

func (s *permissionService) UpdatePermission(ctx context.Context, id uint, in PermissionInput) (*models.Permission, error) {
	permission, err := s.permRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "permission")
	}
	if permission.IsSystem {
		return nil, ErrSystemPermission
	}
	if err := normalizePermissionInput(&in); err != nil {
		return nil, err
	}
	if in.Name != permission.Name {
		if _, err := s.permRepo.GetByName(ctx, in.Name); err == nil {
			return nil, conflictError("permission %q already exists", in.Name)
		} else if !isNotFound(err) {
			return nil, err
		}
	}

	renamed := in.Name != permission.Name
	permission.Name = in.Name
	permission.Description = in.Description
	permission.Category = in.Category
	permission.Resource = in.Resource
	permission.Action = in.Action
	if err := s.permRepo.Update(ctx, permission); err != nil {
		return nil, fmt.Errorf("failed to update permission: %w", err)
	}
	if renamed {
		s.invalidateAll(ctx)
	}
	return permission, nil
}

func (s *permissionService) DeletePermission(ctx context.Context, id uint) error {
	permission, err := s.permRepo.GetByID(ctx, id)
	if err != nil {
		return notFound(err, "permission")
	}
	if permission.IsSystem {
		return ErrSystemPermission
	}
	if err := s.permRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	s.invalidateAll(ctx)
	return nil
}

func (s *permissionService) ListRolePermissions(ctx context.Context, roleName string) ([]models.RolePermission, error) {
	role, err := s.userRepo.GetRoleByName(ctx, strings.ToUpper(roleName))
	if err != nil {
		return nil, notFound(err, "role")
	}
	return s.permRepo.ListRolePermissions(ctx, role.ID)
}

func (s *permissionService) SetRolePermission(ctx context.Context, roleName, permissionName string, granted bool) error {
	role, err := s.userRepo.GetRoleByName(ctx, strings.ToUpper(roleName))
	if err != nil {
		return notFound(err, "role")
	}
	if role.Name == models.RoleOwner {
		return validationError("the owner role always holds every permission")
	}
	permission, err := s.permRepo.GetByName(ctx, permissionName)
	if err != nil {
		return notFound(err, "permission")
	}

	rp := &models.RolePermission{RoleID: role.ID, PermissionID: permission.ID, Granted: granted}
	if err := s.permRepo.UpsertRolePermission(ctx, rp); err != nil {
		return fmt.Errorf("failed to set role permission: %w", err)
	}

	ids, err := s.userRepo.GetIDsByRole(ctx, role.ID)
	if err != nil {
		s.log.Warn("failed to list role members for cache invalidation", zap.String("role", role.Name), zap.Error(err))
		return nil
	}
	s.invalidate(ctx, ids...)
	return nil
}

func (s *permissionService) ListUserPermissions(ctx context.Context, userID uint) ([]models.UserPermission, error) {
	return s.permRepo.ListUserPermissions(ctx, userID)
}

func (s *permissionService) GrantUserPermission(ctx context.Context, in UserPermissionInput) (*models.UserPermission, error) {
	if in.UserID == 0 {
		return nil, validationError("user_id is required")
	}
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(s.now()) {
			return nil, validationError("expires_at must be in the future")
		}
		t := in.ExpiresAt.UTC()
		in.ExpiresAt = &t
	}
	if _, err := s.userRepo.GetByID(ctx, in.UserID); err != nil {
		return nil, notFound(err, "user")
	}
	permission, err := s.permRepo.GetByName(ctx, in.PermissionName)
	if err != nil {
		return nil, notFound(err, "permission")
	}

	up := &models.UserPermission{
		UserID:       in.UserID,
		PermissionID: permission.ID,
		Granted:      in.Granted,
		ExpiresAt:    in.ExpiresAt,
		Reason:       in.Reason,
	}
	if in.GrantedBy != 0 {
		by := in.GrantedBy
		up.GrantedBy = &by
	}
	if err := s.permRepo.UpsertUserPermission(ctx, up); err != nil {
		return nil, fmt.Errorf("failed to grant user permission: %w", err)
	}
	up.Permission = *permission
	s.invalidate(ctx, in.UserID)
	return up, nil
}

func (s *permissionService) RevokeUserPermission(ctx context.Context, id uint) error {
	up, err := s.permRepo.GetUserPermission(ctx, id)
	if err != nil {
		return notFound(err, "user permission")
	}
	if err := s.permRepo.DeleteUserPermission(ctx, id); err != nil {
		return fmt.Errorf("failed to revoke user permission: %w", err)
	}
	s.invalidate(ctx, up.UserID)
	return nil
}

func (s *permissionService) CreateTemplate(ctx context.Context, name, description string, permissionNames []string, createdBy uint) (*models.PermissionTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("template name is required")
	}
	if len(permissionNames) == 0 {
		return nil, validationError("template needs at least one permission")
	}

	template := &models.PermissionTemplate{Name: name, Description: description, CreatedBy: createdBy}
	for _, pn := range permissionNames {
		permission, err := s.permRepo.GetByName(ctx, pn)
		if err != nil {
			return nil, notFound(err, fmt.Sprintf("permission %q", pn))
		}
		template.Permissions = append(template.Permissions, *permission)
	}

	if err := s.permRepo.CreateTemplate(ctx, template); err != nil {
		if isDuplicate(err) {
			return nil, conflictError("template %q already exists", name)
		}
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return template, nil
}

func (s *permissionService) ListTemplates(ctx context.Context) ([]models.PermissionTemplate, error) {
	return s.permRepo.ListTemplates(ctx)
}

func (s *permissionService) DeleteTemplate(ctx context.Context, id uint) error {
	return notFound(s.permRepo.DeleteTemplate(ctx, id), "template")
}

// ApplyTemplate grants every permission of the template to the user as direct overrides.
func (s *permissionService) ApplyTemplate(ctx context.Context, templateID, userID uint, expiresAt *time.Time, grantedBy uint) (int, error) {
	template, err := s.permRepo.GetTemplate(ctx, templateID)
	if err != nil {
		return 0, notFound(err, "template")
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return 0, notFound(err, "user")
	}
	if expiresAt != nil {
		if !expiresAt.After(s.now()) {
			return 0, validationError("expires_at must be in the future")
		}
		t := expiresAt.UTC()
		expiresAt = &t
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.permRepo.WithTx(tx)
		for _, p := range template.Permissions {
			up := &models.UserPermission{
				UserID:       userID,
				PermissionID: p.ID,
				Granted:      true,
				ExpiresAt:    expiresAt,
				Reason:       "template: " + template.Name,
			}
			if grantedBy != 0 {
				by := grantedBy
				up.GrantedBy = &by
			}
			if err := repo.UpsertUserPermission(ctx, up); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to apply template: %w", err)
	}
	s.invalidate(ctx, userID)
	return len(template.Permissions), nil
}
