package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"wa_business/internal/models"
	"wa_business/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix    = "wab_"
	apiKeyLookupLen = 12
	minPasswordLen  = 8
)

type RegisterInput struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Password   string `json:"password"`
	Phone      string `json:"phone"`
	DealerCode string `json:"dealer_code"`
}

type CreateUserInput struct {
	Email          string  `json:"email"`
	Name           string  `json:"name"`
	Password       string  `json:"password"`
	Phone          string  `json:"phone"`
	Role           string  `json:"role"`
	CommissionRate float64 `json:"commission_rate"`
}

type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	CreateUser(ctx context.Context, creator *models.User, in CreateUserInput) (*models.User, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
	ListUsers(ctx context.Context, actor *models.User) ([]models.User, error)
	ListChildren(ctx context.Context, parentID uint) ([]models.User, error)
	UpdateProfile(ctx context.Context, id uint, name, phone string) (*models.User, error)
	SetActive(ctx context.Context, actor *models.User, id uint, active bool) error
	SetCommissionRate(ctx context.Context, actor *models.User, id uint, rate float64) error
	GenerateAPIKey(ctx context.Context, userID uint) (string, error)
	// EnsureOwner creates the OWNER account unless the email is already registered.
	EnsureOwner(ctx context.Context, email, name, password string) (*models.User, bool, error)
	AuthenticateAPIKey(ctx context.Context, key string) (*models.User, error)
}

type userService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) UserService {
	return &userService{userRepo: userRepo}
}

func hashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hashed), nil
}

func newDealerCode() string {
	return "D" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func validateAccount(email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", validationError("invalid email address")
	}
	if len(password) < minPasswordLen {
		return "", validationError("password must be at least %d characters", minPasswordLen)
	}
	return email, nil
}

func (s *userService) ensureEmailFree(ctx context.Context, email string) error {
	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return conflictError("email %s is already registered", email)
	} else if !isNotFound(err) {
		return err
	}
	return nil
}

// Register signs up a customer, attached to a dealer when a dealer code is given.
func (s *userService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email, err := validateAccount(in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	role, err := s.userRepo.GetRoleByName(ctx, models.RoleCustomer)
	if err != nil {
		return nil, fmt.Errorf("customer role missing: %w", err)
	}

	user := &models.User{
		Email:    email,
		Name:     strings.TrimSpace(in.Name),
		Phone:    in.Phone,
		RoleID:   role.ID,
		IsActive: true,
	}
	if code := strings.TrimSpace(in.DealerCode); code != "" {
		dealer, err := s.userRepo.GetByDealerCode(ctx, strings.ToUpper(code))
		if err != nil {
			if isNotFound(err) {
				return nil, validationError("unknown dealer code")
			}
			return nil, err
		}
		user.ParentID = &dealer.ID
	}

	if user.PasswordHash, err = hashSecret(in.Password); err != nil {
		return nil, err
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Role = *role
	return user, nil
}

func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", ErrUnauthenticated)
	}
	return user, nil
}

// CreateUser creates a child account; the creator must outrank the new role.
func (s *userService) CreateUser(ctx context.Context, creator *models.User, in CreateUserInput) (*models.User, error) {
	email, err := validateAccount(in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	role, err := s.userRepo.GetRoleByName(ctx, strings.ToUpper(in.Role))
	if err != nil {
		if isNotFound(err) {
			return nil, validationError("unknown role %q", in.Role)
		}
		return nil, err
	}
	if creator.Role.Level >= role.Level {
		return nil, fmt.Errorf("%w: cannot create a %s account", ErrForbidden, role.Name)
	}
	if in.CommissionRate < 0 || in.CommissionRate > 100 {
		return nil, validationError("commission_rate must be between 0 and 100")
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	parentID := creator.ID
	user := &models.User{
		Email:          email,
		Name:           strings.TrimSpace(in.Name),
		Phone:          in.Phone,
		RoleID:         role.ID,
		ParentID:       &parentID,
		CommissionRate: in.CommissionRate,
		IsActive:       true,
	}
	if role.Name != models.RoleCustomer {
		code := newDealerCode()
		user.DealerCode = &code
	}
	if user.PasswordHash, err = hashSecret(in.Password); err != nil {
		return nil, err
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if isDuplicate(err) {
			return nil, conflictError("email %s is already registered", email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Role = *role
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

// ListUsers returns everyone for OWNER and ADMIN, direct children otherwise.
func (s *userService) ListUsers(ctx context.Context, actor *models.User) ([]models.User, error) {
	switch actor.Role.Name {
	case models.RoleOwner, models.RoleAdmin:
		return s.userRepo.GetAll(ctx)
	}
	return s.userRepo.GetChildren(ctx, actor.ID)
}

func (s *userService) ListChildren(ctx context.Context, parentID uint) ([]models.User, error) {
	return s.userRepo.GetChildren(ctx, parentID)
}

func (s *userService) UpdateProfile(ctx context.Context, id uint, name, phone string) (*models.User, error) {
	fields := map[string]interface{}{}
	if name = strings.TrimSpace(name); name != "" {
		fields["name"] = name
	}
	if phone = strings.TrimSpace(phone); phone != "" {
		fields["phone"] = phone
	}
	if len(fields) == 0 {
		return nil, validationError("nothing to update")
	}
	if err := s.userRepo.UpdateFields(ctx, id, fields); err != nil {
		return nil, notFound(err, "user")
	}
	return s.GetUser(ctx, id)
}

// manageable loads the target and checks the actor may modify it.
func (s *userService) manageable(ctx context.Context, actor *models.User, id uint) (*models.User, error) {
	if actor.ID == id {
		return nil, fmt.Errorf("%w: cannot modify your own account", ErrForbidden)
	}
	target, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role.Name == models.RoleOwner {
		return target, nil
	}
	if actor.Role.Level >= target.Role.Level {
		return nil, ErrForbidden
	}
	if actor.Role.Name != models.RoleAdmin && (target.ParentID == nil || *target.ParentID != actor.ID) {
		return nil, ErrForbidden
	}
	return target, nil
}

func (s *userService) SetActive(ctx context.Context, actor *models.User, id uint, active bool) error {
	if _, err := s.manageable(ctx, actor, id); err != nil {
		return err
	}
	return notFound(s.userRepo.UpdateFields(ctx, id, map[string]interface{}{"is_active": active}), "user")
}

func (s *userService) SetCommissionRate(ctx context.Context, actor *models.User, id uint, rate float64) error {
	if rate < 0 || rate > 100 {
		return validationError("commission_rate must be between 0 and 100")
	}
	target, err := s.manageable(ctx, actor, id)
	if err != nil {
		return err
	}
	if target.Role.Name == models.RoleCustomer {
		return validationError("customers do not earn commission")
	}
	return notFound(s.userRepo.UpdateFields(ctx, id, map[string]interface{}{"commission_rate": roundMoney(rate)}), "user")
}

// GenerateAPIKey replaces the user's key. Only the bcrypt hash is stored; the prefix is
// kept in clear for lookup.
func (s *userService) GenerateAPIKey(ctx context.Context, userID uint) (string, error) {
	key := apiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	hash, err := hashSecret(key)
	if err != nil {
		return "", err
	}
	err = s.userRepo.UpdateFields(ctx, userID, map[string]interface{}{
		"api_key_prefix": key[:apiKeyLookupLen],
		"api_key_hash":   hash,
	})
	if err != nil {
		return "", notFound(err, "user")
	}
	return key, nil
}

func (s *userService) AuthenticateAPIKey(ctx context.Context, key string) (*models.User, error) {
	if !strings.HasPrefix(key, apiKeyPrefix) || len(key) <= apiKeyLookupLen {
		return nil, ErrUnauthenticated
	}
	candidates, err := s.userRepo.GetByAPIKeyPrefix(ctx, key[:apiKeyLookupLen])
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		user := &candidates[i]
		if bcrypt.CompareHashAndPassword([]byte(user.APIKeyHash), []byte(key)) == nil {
			if !user.IsActive {
				return nil, ErrUnauthenticated
			}
			return user, nil
		}
	}
	return nil, ErrUnauthenticated
}

func (s *userService) EnsureOwner(ctx context.Context, email, name, password string) (*models.User, bool, error) {
	email, err := validateAccount(email, password)
	if err != nil {
		return nil, false, err
	}
	if existing, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return existing, false, nil
	} else if !isNotFound(err) {
		return nil, false, err
	}

	role, err := s.userRepo.GetRoleByName(ctx, models.RoleOwner)
	if err != nil {
		return nil, false, fmt.Errorf("owner role missing: %w", err)
	}
	code := newDealerCode()
	owner := &models.User{
		Email:      email,
		Name:       name,
		RoleID:     role.ID,
		DealerCode: &code,
		IsActive:   true,
	}
	if owner.PasswordHash, err = hashSecret(password); err != nil {
		return nil, false, err
	}
	if err := s.userRepo.Create(ctx, owner); err != nil {
		return nil, false, fmt.Errorf("failed to create owner: %w", err)
	}
	owner.Role = *role
	return owner, true, nil
}
