package handlers

import (
	"time"
	"wa_business/internal/events"
	"wa_business/internal/services"
	"wa_business/pkg/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Dependencies struct {
	Users         services.UserService
	Permissions   services.PermissionService
	Wallet        services.WalletService
	Commissions   services.CommissionService
	Subscriptions services.SubscriptionService
	Vouchers      services.VoucherService
	Payments      services.PaymentService
	WhatsApp      services.WhatsAppService
	Tokens        *auth.TokenManager
	Hub           *events.Hub
	Sweeper       Sweeper
	WebhookSecret string
	KeepAlive     time.Duration
	Log           *zap.Logger
}

func NewRouter(router *gin.Engine, deps Dependencies) *gin.Engine {
	mw := NewMiddleware(deps.Tokens, deps.Users, deps.Permissions, deps.Log)
	authHandler := NewAuthHandler(deps.Users, deps.Permissions, deps.Tokens)
	permissionHandler := NewPermissionHandler(deps.Permissions)
	adminHandler := NewAdminHandler(deps.Users, deps.Wallet, deps.Commissions, deps.Vouchers, deps.Sweeper)
	customerHandler := NewCustomerHandler(deps.Subscriptions, deps.Payments, deps.Wallet, deps.Vouchers)
	whatsappHandler := NewWhatsAppHandler(deps.WhatsApp)
	streamHandler := NewStreamHandler(deps.Hub, deps.KeepAlive)
	need := mw.RequirePermission

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/webhooks/whatsapp-status", RequireWebhookSecret(deps.WebhookSecret), whatsappHandler.HandleStatusWebhook)

	session := api.Group("", mw.RequireAuth())
	{
		session.GET("/auth/me", authHandler.Me)
		session.PATCH("/auth/me", authHandler.UpdateProfile)

		session.GET("/permissions", need("permissions.read"), permissionHandler.List)
		session.GET("/permissions/check", permissionHandler.Check)
		session.POST("/permissions", need("permissions.manage"), permissionHandler.Create)
		session.PUT("/permissions/:id", need("permissions.manage"), permissionHandler.Update)
		session.DELETE("/permissions/:id", need("permissions.manage"), permissionHandler.Delete)

		session.GET("/permission-templates", need("permissions.read"), permissionHandler.ListTemplates)
		session.POST("/permission-templates", need("permissions.manage"), permissionHandler.CreateTemplate)
		session.DELETE("/permission-templates/:id", need("permissions.manage"), permissionHandler.DeleteTemplate)
		session.POST("/permission-templates/:id/apply", need("permissions.manage"), permissionHandler.ApplyTemplate)

		session.GET("/user-permissions", need("permissions.read"), permissionHandler.ListUserPermissions)
		session.POST("/user-permissions", need("permissions.manage"), permissionHandler.GrantUserPermission)
		session.DELETE("/user-permissions/:id", need("permissions.manage"), permissionHandler.RevokeUserPermission)

		session.GET("/dealers", need("dealers.read"), adminHandler.ListDealerChildren)
		session.GET("/dealers/commissions", need("dealers.read"), adminHandler.ListCommissions)

		session.GET("/whatsapp-servers", need("servers.read"), whatsappHandler.ServerHealth)
	}

	admin := session.Group("/admin")
	{
		admin.GET("/roles/:role/permissions", need("permissions.read"), permissionHandler.ListRolePermissions)
		admin.PUT("/roles/:role/permissions", need("roles.manage"), permissionHandler.SetRolePermission)

		admin.GET("/users", need("users.read"), adminHandler.ListUsers)
		admin.POST("/users", need("users.create"), adminHandler.CreateUser)
		admin.PATCH("/users/:id/status", need("users.update"), adminHandler.SetUserStatus)
		admin.PATCH("/users/:id/commission-rate", need("dealers.manage"), adminHandler.SetCommissionRate)

		admin.POST("/wallet/adjust", need("wallet.adjust"), adminHandler.AdjustWallet)

		admin.GET("/vouchers", need("vouchers.read"), adminHandler.ListVouchers)
		admin.POST("/vouchers", need("vouchers.manage"), adminHandler.CreateVoucher)
		admin.DELETE("/vouchers/:id", need("vouchers.manage"), adminHandler.DeactivateVoucher)

		admin.POST("/subscriptions/sweep", need("subscriptions.manage"), adminHandler.RunSweep)
		admin.GET("/notifications/stream", need("notifications.read"), streamHandler.AdminNotifications)
	}

	customer := session.Group("/customer")
	{
		customer.GET("/packages", need("packages.read"), customerHandler.ListPackages)
		customer.GET("/subscriptions", need("subscriptions.read"), customerHandler.ListSubscriptions)
		customer.POST("/subscriptions/purchase", need("packages.purchase"), customerHandler.PurchaseWithBizPoints)
		customer.POST("/subscriptions/:id/cancel", need("packages.purchase"), customerHandler.CancelSubscription)

		customer.GET("/payments", need("packages.read"), customerHandler.ListPayments)
		customer.POST("/payments/order", need("packages.purchase"), customerHandler.CreatePaymentOrder)
		customer.POST("/payments/verify", need("packages.purchase"), customerHandler.VerifyPayment)

		customer.GET("/wallet", need("wallet.read"), customerHandler.Wallet)
		customer.GET("/wallet/transactions", need("wallet.read"), customerHandler.WalletTransactions)
		customer.POST("/vouchers/redeem", need("vouchers.redeem"), customerHandler.RedeemVoucher)

		customer.GET("/devices", need("devices.read"), whatsappHandler.ListDevices)
		customer.POST("/devices", need("devices.manage"), whatsappHandler.ConnectDevice)
		customer.GET("/devices/:id/status", need("devices.read"), whatsappHandler.DeviceStatus)
		customer.GET("/devices/:id/qr", need("devices.manage"), whatsappHandler.DeviceQR)
		customer.DELETE("/devices/:id", need("devices.manage"), whatsappHandler.DisconnectDevice)

		customer.GET("/messages", need("devices.read"), whatsappHandler.ListMessages)
		customer.POST("/messages/send", need("messages.send"), whatsappHandler.SendMessage)
		customer.GET("/whatsapp/events", need("devices.read"), streamHandler.WhatsAppEvents)
		customer.POST("/api-key", need("messages.send"), authHandler.GenerateAPIKey)
	}

	v1 := api.Group("/v1", mw.RequireAPIKey())
	{
		v1.GET("/devices", need("devices.read"), whatsappHandler.ListDevices)
		v1.POST("/messages/send", need("messages.send"), whatsappHandler.SendMessage)
	}

	return router
}
