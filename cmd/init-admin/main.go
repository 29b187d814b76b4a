package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/auth"
	"credit_gateway/internal/config"
	"credit_gateway/internal/models"
	"credit_gateway/internal/storage"
)

func main() {
	fmt.Println("Credit Gateway - Bootstrap Admin Initialization")

	// Load configuration (primarily for database connection)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Get bootstrap credentials from environment
	email := os.Getenv("ADMIN_BOOTSTRAP_EMAIL")
	password := os.Getenv("ADMIN_BOOTSTRAP_PASSWORD")

	if email == "" || password == "" {
		fmt.Fprintf(os.Stderr, "ERROR: ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD must be set\n")
		os.Exit(1)
	}

	if !isValidEmail(email) {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid email format: %s\n", email)
		os.Exit(1)
	}

	if len(password) < 8 {
		fmt.Fprintf(os.Stderr, "ERROR: Password must be at least 8 characters long\n")
		os.Exit(1)
	}

	// Connect to database
	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		AgentCacheSize:  10, // Minimal cache for init tool
		AgentCacheTTL:   5 * time.Minute,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Database connection established")

	repo := storage.NewUserRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Check if a user with this email already exists
	existing, err := repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to check for existing user: %v\n", err)
		os.Exit(1)
	}
	if existing != nil {
		fmt.Printf("INFO: User with email %s already exists (role: %s)\n", email, existing.Role)
		fmt.Println("Exiting successfully (no action taken)")
		os.Exit(0)
	}

	fmt.Println("Hashing password...")
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Creating bootstrap admin user: %s\n", email)
	name := "Administrator"
	adminUser := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         &name,
		Role:         models.RoleAdmin,
	}

	if err := repo.Create(ctx, adminUser); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create admin user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SUCCESS: Bootstrap admin user created")
	fmt.Printf("Email: %s\n", adminUser.Email)
	fmt.Printf("ID: %s\n", adminUser.ID)
	fmt.Println("\nYou can now log in with these credentials.")
	fmt.Println("For security, remove ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD from your environment.")
}

// isValidEmail performs a basic email validation
func isValidEmail(email string) bool {
	if len(email) < 3 {
		return false
	}
	at := strings.Count(email, "@")
	if at != 1 {
		return false
	}
	idx := strings.Index(email, "@")
	return idx > 0 && idx < len(email)-1
}
