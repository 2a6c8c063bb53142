package main

import (
	"context"
	"os/signal"
	"syscall"

	"webfiresale/internal/config"
	"webfiresale/internal/logging"
	"webfiresale/internal/model"
	"webfiresale/internal/queue"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 订单确认 worker：消费 Kafka 下单事件，把订单推进到 confirmed。
func main() {
	log := logging.New("marketplace-worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBPath+"?_busy_timeout=5000"), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("db open")
	}
	if err := db.AutoMigrate(&model.Order{}); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, db, log)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("worker start")
	consumer.Run(ctx)
	log.Info().Msg("worker stopped")
}
