// Package testutil provides a migrated in-memory database for package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"wa_business/internal/migrations"
	"wa_business/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private sqlite database seeded with roles, system permissions and packages.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(uuid.NewString(), "-", ""))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migrations.RunMigrations(db, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// UserOpts customizes CreateUser.
type UserOpts struct {
	ParentID       *uint
	CommissionRate float64
	BizPoints      float64
	Password       string
}

// CreateUser inserts an active user with the given role.
func CreateUser(t *testing.T, db *gorm.DB, email, roleName string, opts UserOpts) *models.User {
	t.Helper()

	var role models.Role
	if err := db.Where("name = ?", roleName).First(&role).Error; err != nil {
		t.Fatalf("load role %s: %v", roleName, err)
	}

	user := &models.User{
		Email:          email,
		Name:           email,
		RoleID:         role.ID,
		ParentID:       opts.ParentID,
		CommissionRate: opts.CommissionRate,
		BizPoints:      opts.BizPoints,
		IsActive:       true,
	}
	if opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		user.PasswordHash = string(hash)
	}
	if err := db.Omit("Role").Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	user.Role = role
	return user
}

// Package returns a seeded package by name.
func Package(t *testing.T, db *gorm.DB, name string) *models.Package {
	t.Helper()
	var pkg models.Package
	if err := db.Where("name = ?", name).First(&pkg).Error; err != nil {
		t.Fatalf("load package %s: %v", name, err)
	}
	return &pkg
}
