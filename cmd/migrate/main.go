// migrate applies the embedded schema migrations: go run ./cmd/migrate -direction up|down|status.
package main

import (
	"flag"

	"go.uber.org/zap"

	"study-planner/backend/internal/config"
	"study-planner/backend/internal/db/migrate"
	"study-planner/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down or status")
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

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	if *direction == "status" {
		version, dirty, err := migrate.Status(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("migration status", zap.Error(err))
		}
		log.Info("migration status", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return
	}
	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		log.Fatal("migrate", zap.String("direction", *direction), zap.Error(err))
	}
	log.Info("migrations applied", zap.String("direction", *direction))
}
