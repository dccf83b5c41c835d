package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"wa_business/internal/config"
	"wa_business/internal/database"
	"wa_business/internal/logger"
	"wa_business/internal/migrations"
	"wa_business/internal/repository"
	"wa_business/internal/services"
)

func main() {
	fmt.Println("Initializing database...")

	// Load configuration
	cfg := config.Load()

	zapLogger, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer zapLogger.Sync()

	db, err := database.Initialize(cfg.DatabaseURL, cfg.IsProduction(), zapLogger)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close(db)

	// Roles, system permissions, default grants and packages
	if err := migrations.RunMigrations(db, zapLogger); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	email := getEnv("OWNER_EMAIL", "owner@example.com")
	password := os.Getenv("OWNER_PASSWORD")
	if password == "" {
		log.Fatal("OWNER_PASSWORD must be set to create the owner account")
	}

	fmt.Println("Creating owner account...")
	userService := services.NewUserService(repository.NewUserRepository(db))
	owner, created, err := userService.EnsureOwner(context.Background(), email, getEnv("OWNER_NAME", "Owner"), password)
	if err != nil {
		log.Fatal("Failed to create owner:", err)
	}
	if created {
		fmt.Printf("Owner created: %s (dealer code %s)\n", owner.Email, *owner.DealerCode)
	} else {
		fmt.Printf("Owner %s already exists\n", owner.Email)
	}

	fmt.Println("Database initialization completed successfully!")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
