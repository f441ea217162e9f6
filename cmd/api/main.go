package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sidepot/bet"
	"sidepot/config"
	"sidepot/db"
	"sidepot/ledger"
	"sidepot/logging"
	"sidepot/match"
	"sidepot/metrics"
	"sidepot/outbox"
	"sidepot/settle"
	"sidepot/streak"
	"sidepot/wager"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	betRepo := bet.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool, cfg.StartingBalance)
	streakRepo := streak.NewRepository(pool)

	betService := bet.NewService(pool, betRepo, ledgerRepo)
	coordinator := settle.NewCoordinator(pool, betRepo, ledgerRepo, streakRepo)
	matcher := match.NewMatcher(betRepo, coordinator, logger)
	service := wager.NewService(betService, coordinator, matcher, ledgerRepo, streakRepo)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	kafkaWriter := outbox.NewKafkaWriter(cfg.KafkaBrokers)
	defer kafkaWriter.Close()

	dispatcher := outbox.NewDispatcher(
		outbox.NewRepository(pool),
		[]outbox.Publisher{
			outbox.NewKafkaPublisher(kafkaWriter),
			outbox.NewRedisBroadcaster(redisClient, cfg.BroadcastChannel),
		},
		cfg.OutboxInterval,
		cfg.OutboxBatchSize,
		logger,
	)
	go dispatcher.Run(ctx)

	metricsSrv := metrics.StartServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	logger.Info("wagering core ready",
		zap.Bool("service", service != nil),
		zap.String("metrics_port", cfg.MetricsPort),
		zap.String("broadcast_channel", cfg.BroadcastChannel))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
