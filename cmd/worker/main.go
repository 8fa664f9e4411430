// Worker consumes security events from Kafka and pushes them to Loki.
// Requires KAFKA_BROKERS and LOKI_URL; SECURITY_EVENTS_TOPIC and KAFKA_GROUP_ID have defaults.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"study-planner/backend/internal/config"
	"study-planner/backend/internal/logger"
	"study-planner/backend/internal/telemetry/consumer"
	"study-planner/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}
	log, err := logger.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("worker")

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		log.Fatal("LOKI_URL is required")
	}

	reader := consumer.NewKafkaReader(brokers, cfg.SecurityEventsTopic, cfg.KafkaGroupID)
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("consuming security events",
		zap.String("topic", cfg.SecurityEventsTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("loki_url", cfg.LokiURL),
	)
	if err := consumer.New(reader, loki.NewClient(cfg.LokiURL), log).Run(ctx); err != nil {
		log.Error("worker stopped", zap.Error(err))
		return
	}
	log.Info("worker stopped")
}
