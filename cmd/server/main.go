package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"wa_business/internal/config"
	"wa_business/internal/database"
	"wa_business/internal/events"
	"wa_business/internal/handlers"
	"wa_business/internal/logger"
	"wa_business/internal/migrations"
	"wa_business/internal/redis"
	"wa_business/internal/repository"
	"wa_business/internal/scheduler"
	"wa_business/internal/services"
	"wa_business/pkg/auth"
	"wa_business/pkg/razorpay"
	"wa_business/pkg/whatsapp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	zapLogger, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer zapLogger.Sync()

	if err := cfg.Validate(); err != nil {
		zapLogger.Fatal("Invalid production configuration", zap.Error(err))
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseURL, cfg.IsProduction(), zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := migrations.RunMigrations(db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Initialize Redis
	redisClient, err := redis.Initialize(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// External gateways
	registry, err := whatsapp.LoadRegistry(cfg.WhatsAppServersFile, cfg.WhatsAppDefaultURL)
	if err != nil {
		zapLogger.Fatal("Failed to load WhatsApp servers", zap.Error(err))
	}
	rzpConfig, err := razorpay.LoadConfig(cfg.RazorpayConfigFile, cfg.RazorpayKeysFile)
	if err != nil {
		zapLogger.Fatal("Failed to load Razorpay config", zap.Error(err))
	}
	rzpClient := razorpay.NewClient(rzpConfig)
	if rzpClient.MockMode() {
		if cfg.IsProduction() {
			zapLogger.Fatal("Razorpay credentials are placeholders, mock payments are not allowed in production")
		}
		zapLogger.Warn("Razorpay credentials are placeholders, payments run in mock mode")
	}

	hub := events.NewHub(zapLogger.Named("events"))

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	permissionRepo := repository.NewPermissionRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	voucherRepo := repository.NewVoucherRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	// Initialize services
	userService := services.NewUserService(userRepo)
	permissionService := services.NewPermissionService(db, permissionRepo, userRepo, redisClient,
		time.Duration(cfg.PermissionCacheTTL)*time.Second, zapLogger.Named("permissions"))
	walletService := services.NewWalletService(db, userRepo, walletRepo)
	commissionService := services.NewCommissionService(db, userRepo, walletRepo, walletService, hub,
		cfg.CommissionMultiLevel, zapLogger.Named("commission"))
	subscriptionService := services.NewSubscriptionService(db, subscriptionRepo, userRepo, hub, zapLogger.Named("subscriptions"))
	voucherService := services.NewVoucherService(db, voucherRepo, walletService, subscriptionService)
	paymentService := services.NewPaymentService(db, paymentRepo, subscriptionRepo, rzpClient, walletService,
		subscriptionService, voucherService, commissionService, zapLogger.Named("payments"))
	whatsappService := services.NewWhatsAppService(registry, deviceRepo, subscriptionService, hub, zapLogger.Named("whatsapp"))

	sweeper := scheduler.NewScheduler(cfg.SubscriptionSweepSpec, subscriptionService, redisClient, zapLogger.Named("scheduler"))
	if err := sweeper.Start(); err != nil {
		zapLogger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sweeper.Stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(gin.Default(), handlers.Dependencies{
		Users:         userService,
		Permissions:   permissionService,
		Wallet:        walletService,
		Commissions:   commissionService,
		Subscriptions: subscriptionService,
		Vouchers:      voucherService,
		Payments:      paymentService,
		WhatsApp:      whatsappService,
		Tokens:        auth.NewTokenManager(cfg.JWTSecret, time.Duration(cfg.SessionTimeout)*time.Second),
		Hub:           hub,
		Sweeper:       sweeper,
		WebhookSecret: cfg.WhatsappWebhookSecret,
		Log:           zapLogger,
	})

	// Cancelled on shutdown so open event streams return.
	baseCtx, stopStreams := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		zapLogger.Info("Server starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server")
	stopStreams()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
}
