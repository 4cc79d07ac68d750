package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"careerpath/internal/auth"
	"careerpath/internal/config"
	"careerpath/internal/db"
	apperrors "careerpath/internal/errors"
	"careerpath/internal/logging"
	"careerpath/internal/model"
	"careerpath/internal/repository"
	"careerpath/internal/service"
)

// AdminAccount is the account created by the seeder.
type AdminAccount struct {
	Username string
	Email    string
	Password string
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info("starting seed script")

	admin, err := adminFromEnv()
	if err != nil {
		logger.Error("seed admin", slog.Any("error", err))
		os.Exit(1)
	}

	// Connect to database
	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := db.Migrate(gormDB, false); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

	userRepo := repository.NewUserRepository(gormDB)
	jwtService := auth.NewJWTService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
	authService := service.NewAuthService(userRepo, jwtService, auth.NewBcryptHasher(cfg.BcryptCost), logger, nil)

	created, err := seedAdmin(context.Background(), authService, admin)
	if err != nil {
		logger.Error("seed admin", slog.Any("error", err))
		os.Exit(1)
	}
	if created {
		logger.Info("admin account created", slog.String("email", admin.Email))
	} else {
		logger.Info("admin account already exists", slog.String("email", admin.Email))
	}
}

func adminFromEnv() (AdminAccount, error) {
	admin := AdminAccount{
		Username: os.Getenv("SEED_ADMIN_USERNAME"),
		Email:    os.Getenv("SEED_ADMIN_EMAIL"),
		Password: os.Getenv("SEED_ADMIN_PASSWORD"),
	}
	if admin.Username == "" {
		admin.Username = "admin"
	}
	if admin.Email == "" || admin.Password == "" {
		return AdminAccount{}, fmt.Errorf("SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD are required")
	}
	return admin, nil
}

// seedAdmin signs the admin up and reports whether a new account was created.
// An existing username or email is not an error.
func seedAdmin(ctx context.Context, svc service.AuthService, admin AdminAccount) (bool, error) {
	_, err := svc.Signup(ctx, service.SignupInput{
		Username: admin.Username,
		Email:    admin.Email,
		Password: admin.Password,
		Role:     model.RoleAdmin,
	})
	if errors.Is(err, apperrors.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
