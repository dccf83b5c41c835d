package migrations

import (
	"fmt"
	"wa_business/internal/database"
	"wa_business/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type permissionSeed struct {
	Name        string
	Category    string
	Description string
}

var defaultPermissions = []permissionSeed{
	{"users.read", "users", "View users in scope"},
	{"users.create", "users", "Create users"},
	{"users.update", "users", "Edit users and toggle activation"},
	{"users.delete", "users", "Delete users"},
	{"permissions.read", "permissions", "View permissions"},
	{"permissions.manage", "permissions", "Create, edit and assign permissions"},
	{"roles.manage", "permissions", "Change default role grants"},
	{"dealers.read", "dealers", "View dealer hierarchy"},
	{"dealers.manage", "dealers", "Change dealer commission rates"},
	{"wallet.read", "wallet", "View own BizPoints wallet"},
	{"wallet.adjust", "wallet", "Credit or debit any wallet"},
	{"vouchers.read", "vouchers", "View vouchers"},
	{"vouchers.manage", "vouchers", "Create and deactivate vouchers"},
	{"vouchers.redeem", "vouchers", "Redeem a voucher"},
	{"packages.read", "packages", "View packages"},
	{"packages.purchase", "packages", "Purchase packages"},
	{"subscriptions.read", "subscriptions", "View subscriptions"},
	{"subscriptions.manage", "subscriptions", "Run subscription sweeps"},
	{"devices.read", "whatsapp", "View WhatsApp devices"},
	{"devices.manage", "whatsapp", "Connect and disconnect WhatsApp devices"},
	{"messages.send", "whatsapp", "Send WhatsApp messages"},
	{"servers.read", "whatsapp", "View gateway server health"},
	{"notifications.read", "admin", "Receive admin notification stream"},
}

var defaultRoleGrants = map[string][]string{
	models.RoleAdmin: nil, // every permission
	models.RoleSubdealer: {
		"users.read", "users.create", "dealers.read", "wallet.read",
		"packages.read", "subscriptions.read", "vouchers.redeem",
	},
	models.RoleEmployee: {
		"users.read", "dealers.read", "wallet.read", "packages.read",
	},
	models.RoleCustomer: {
		"wallet.read", "vouchers.redeem", "packages.read", "packages.purchase",
		"subscriptions.read", "devices.read", "devices.manage", "messages.send",
	},
}

var defaultPackages = []models.Package{
	{Name: "Starter", Description: "1 device, 1000 messages", Price: 499, DurationDays: 30, MessageLimit: 1000, DeviceLimit: 1},
	{Name: "Business", Description: "3 devices, 10000 messages", Price: 1499, DurationDays: 30, MessageLimit: 10000, DeviceLimit: 3},
	{Name: "Enterprise", Description: "Unlimited devices and messages", Price: 4999, DurationDays: 30},
}

// RunMigrations migrates the schema and seeds roles, system permissions and packages.
func RunMigrations(db *gorm.DB, log *zap.Logger) error {
	log.Info("Running database migrations")

	if err := database.AutoMigrate(db); err != nil {
		return err
	}

	if err := SeedDefaults(db); err != nil {
		return fmt.Errorf("failed to seed default data: %w", err)
	}

	log.Info("Database migrations completed")
	return nil
}

// SeedDefaults is idempotent.
func SeedDefaults(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		roles := make(map[string]models.Role, len(models.DefaultRoles))
		for _, r := range models.DefaultRoles {
			role := r
			if err := tx.Where(models.Role{Name: role.Name}).Attrs(role).FirstOrCreate(&role).Error; err != nil {
				return fmt.Errorf("seed role %s: %w", r.Name, err)
			}
			roles[role.Name] = role
		}

		perms := make(map[string]models.Permission, len(defaultPermissions))
		for _, seed := range defaultPermissions {
			resource, action := splitPermissionName(seed.Name)
			perm := models.Permission{
				Name:        seed.Name,
				Category:    seed.Category,
				Description: seed.Description,
				Resource:    resource,
				Action:      action,
				IsSystem:    true,
			}
			if err := tx.Where(models.Permission{Name: seed.Name}).Attrs(perm).FirstOrCreate(&perm).Error; err != nil {
				return fmt.Errorf("seed permission %s: %w", seed.Name, err)
			}
			perms[perm.Name] = perm
		}

		for roleName, names := range defaultRoleGrants {
			if names == nil {
				for name := range perms {
					names = append(names, name)
				}
			}
			for _, name := range names {
				grant := models.RolePermission{RoleID: roles[roleName].ID, PermissionID: perms[name].ID, Granted: true}
				err := tx.Where(models.RolePermission{RoleID: grant.RoleID, PermissionID: grant.PermissionID}).
					Attrs(grant).FirstOrCreate(&grant).Error
				if err != nil {
					return fmt.Errorf("seed grant %s/%s: %w", roleName, name, err)
				}
			}
		}

		for _, p := range defaultPackages {
			pkg := p
			pkg.IsActive = true
			if err := tx.Where(models.Package{Name: pkg.Name}).Attrs(pkg).FirstOrCreate(&pkg).Error; err != nil {
				return fmt.Errorf("seed package %s: %w", p.Name, err)
			}
		}
		return nil
	})
}

func splitPermissionName(name string) (string, string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}
