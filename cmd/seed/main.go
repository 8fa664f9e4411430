// seed inserts development accounts: one admin and one student on a 14-day trial.
// Idempotent: an account whose email already exists is left untouched. Refuses to run in production.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	accessdomain "study-planner/backend/internal/access/domain"
	accessrepo "study-planner/backend/internal/access/repository"
	"study-planner/backend/internal/config"
	"study-planner/backend/internal/db"
	"study-planner/backend/internal/logger"
	"study-planner/backend/internal/security"
	userdomain "study-planner/backend/internal/user/domain"
	userrepo "study-planner/backend/internal/user/repository"
)

const trialDays = 14

type account struct {
	email    string
	name     string
	role     userdomain.Role
	password string
}

func main() {
	adminPassword := flag.String("admin-password", "admin-passw0rd", "password for admin@example.com")
	studentPassword := flag.String("student-password", "student-passw0rd", "password for student@example.com")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}
	log, err := logger.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()
	if cfg.IsProduction() {
		log.Fatal("seed refuses to run with APP_ENV=production")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	subs := accessrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost, cfg.HashWorkers)

	accounts := []account{
		{email: "admin@example.com", name: "Admin", role: userdomain.RoleAdmin, password: *adminPassword},
		{email: "student@example.com", name: "Student", role: userdomain.RoleStudent, password: *studentPassword},
	}
	for _, a := range accounts {
		if err := userdomain.ValidatePassword(a.password); err != nil {
			log.Fatal("invalid seed password", zap.String("email", a.email), zap.Error(err))
		}
		existing, err := users.GetByEmail(ctx, a.email)
		if err != nil {
			log.Fatal("lookup user", zap.String("email", a.email), zap.Error(err))
		}
		if existing != nil {
			log.Info("user exists, skipping", zap.String("email", a.email))
			continue
		}
		hash, err := hasher.Hash(ctx, []byte(a.password))
		if err != nil {
			log.Fatal("hash password", zap.Error(err))
		}
		now := time.Now().UTC()
		u := &userdomain.User{
			ID:                  uuid.NewString(),
			Email:               a.email,
			Name:                a.name,
			Role:                a.role,
			PasswordHash:        hash,
			OnboardingCompleted: true,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatal("create user", zap.String("email", a.email), zap.Error(err))
		}
		if a.role == userdomain.RoleStudent {
			trialEnds := now.Add(trialDays * 24 * time.Hour)
			if err := subs.Upsert(ctx, &accessdomain.Subscription{
				UserID:      u.ID,
				Status:      accessdomain.StatusTrial,
				TrialEndsAt: &trialEnds,
				UpdatedAt:   now,
			}); err != nil {
				log.Fatal("create subscription", zap.String("email", a.email), zap.Error(err))
			}
		}
		log.Info("seeded user", zap.String("email", a.email), zap.String("role", string(a.role)))
	}
}
