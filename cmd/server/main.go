package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sharetips/internal/config"
	"sharetips/internal/handler"
	"sharetips/internal/infrastructure/cache"
	"sharetips/internal/infrastructure/database"
	"sharetips/internal/infrastructure/lock"
	"sharetips/internal/infrastructure/mq"
	"sharetips/internal/job"
	"sharetips/internal/service"
	"sharetips/pkg/clock"
	"sharetips/pkg/idgen"
	"sharetips/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sharetips: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.AppEnv, cfg.AppName, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := idgen.Init(cfg.Business.SnowflakeNodeID); err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database, cfg.AppEnv)
	if err != nil {
		return err
	}

	locker, err := newLocker(cfg)
	if err != nil {
		return err
	}

	producer, err := mq.NewKafkaProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	clk := clock.Real()
	svc, err := service.New(db, locker, clk, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Ledger.EnsureSystemWallets(ctx); err != nil {
		return fmt.Errorf("create system wallets: %w", err)
	}

	consumer, err := mq.NewConsumer(&cfg.Kafka, []string{cfg.Kafka.Topic.PaymentConfirmed}, svc.Payment.HandleMessage)
	if err != nil {
		return err
	}
	defer consumer.Close()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.SetupRouter(svc, cfg.AppEnv),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	expiryJob := job.NewSubscriptionExpiryJob(svc.Subscription, cfg.Business.ExpirySweepInterval)
	outboxSender := job.NewOutboxSender(db, producer, cfg.Business.OutboxMaxRetryCount)
	recoveryJob := job.NewPaymentRecoveryJob(db, svc.Payment, clk)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		expiryJob.Start(gctx)
		return nil
	})
	g.Go(func() error {
		outboxSender.Start(gctx)
		return nil
	})
	g.Go(func() error {
		recoveryJob.Start(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("stopped with error", zap.Error(err))
		return err
	}
	zap.L().Info("stopped")
	return nil
}

func newLocker(cfg *config.Config) (lock.Locker, error) {
	if cfg.Lock.Backend == "local" {
		return lock.NewLocalLocker(), nil
	}
	rdb, err := cache.NewRedis(&cfg.Redis)
	if err != nil {
		return nil, err
	}
	return lock.NewRedisLocker(rdb, cfg.Lock.TTL, cfg.Lock.RetryInterval), nil
}
