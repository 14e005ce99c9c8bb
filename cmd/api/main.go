package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/config"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/gateway"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/handler"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/issuance"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/lock"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/notifier"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/outbox"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/repository"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/saga"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/service"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/stats"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/validator"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/worker"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/redisclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	initLogger(cfg)

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	rdb, err := redisclient.New(ctx, redisclient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// Repositories.
	balanceRepo := repository.NewBalanceRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	productRepo := repository.NewProductRepository(pool)
	inventoryRepo := repository.NewInventoryRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	deliveryRepo := repository.NewDeliveryRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	statsRepo := repository.NewStatisticsRepository(pool)
	dedupRepo := repository.NewDedupRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	events := outbox.NewWriter(outboxRepo)

	// Concurrency primitives.
	userLocks := lock.NewUserLocks()
	locker := lock.NewManager(rdb, cfg.Lock.TTL, cfg.Lock.WaitTimeout)
	gw := gateway.NewHTTPClient(cfg.Payment.GatewayBaseURL, cfg.Payment.GatewayTimeout)

	// Services.
	pointSvc := service.NewPointService(pool, balanceRepo, userLocks, locker,
		cfg.Point.MaxBalance, cfg.Point.DailyUseLimit)
	orderSvc := service.NewOrderService(pool, orderRepo, couponRepo, productRepo, paymentRepo, events)
	paymentSvc := service.NewPaymentService(pool, orderRepo, orderSvc, balanceRepo, paymentRepo,
		events, gw, userLocks, locker, cfg.Point.DailyUseLimit)
	couponSvc := service.NewCouponService(pool, couponRepo, events)
	inventorySvc := service.NewInventoryService(pool, inventoryRepo, dedupRepo, events)
	fulfillmentSvc := service.NewFulfillmentService(pool, deliveryRepo, cartRepo)

	// Coupon issuance and statistics pipelines.
	engine := issuance.NewEngine(rdb, pool, couponRepo)
	drainer := issuance.NewDrainer(rdb, pool, couponRepo, events, locker, cfg.Coupon.DrainBatchSize)
	collector := stats.NewCollector(rdb)
	folder := stats.NewFolder(rdb, pool, statsRepo, cfg.Stats.ChunkSize)
	popular := stats.NewPopular(rdb, statsRepo)
	hub := notifier.NewHub(rdb)

	// Outbox dispatch: handlers in priority order per event type.
	registry, err := outbox.NewRegistry(
		saga.NewOrderHandler(orderSvc),
		saga.NewPaymentHandler(paymentSvc, orderSvc),
		saga.NewInventoryHandler(inventorySvc),
		saga.NewCouponHandler(couponSvc),
		saga.NewPointHandler(pointSvc),
		saga.NewFulfillmentHandler(fulfillmentSvc),
		saga.NewStatsHandler(collector),
		saga.NewNotifyHandler(hub),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build handler registry")
	}
	dispatcher := outbox.NewDispatcher(outboxRepo, registry, cfg.Outbox.BatchSize, cfg.Outbox.MaxRetry)
	monitor := outbox.NewDLQMonitor(outboxRepo, cfg.Outbox.DLQAlertThreshold, nil)

	// HTTP surface.
	app := fiber.New(fiber.Config{
		AppName:      "ecommerce-backend",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())

	validate := validator.New()
	pointHandler := handler.NewPointHandler(pointSvc, validate)
	orderHandler := handler.NewOrderHandler(orderSvc, validate)
	paymentHandler := handler.NewPaymentHandler(paymentSvc, validate)
	couponHandler := handler.NewCouponHandler(engine)
	productHandler := handler.NewProductHandler(popular, collector)
	sseHandler := handler.NewSSEHandler(hub)
	adminHandler := handler.NewAdminHandler(outboxRepo, monitor)
	healthHandler := handler.NewHealthHandler(pool, redisPinger{rdb})

	app.Get("/health", healthHandler.Check)

	v1 := app.Group("/api/v1")
	v1.Get("/users/me/balance", pointHandler.MyBalance)
	v1.Get("/points/:userId", pointHandler.GetBalance)
	v1.Post("/points/:userId/charge", pointHandler.Charge)
	v1.Post("/points/:userId/deduct", pointHandler.Deduct)
	v1.Get("/points/:userId/histories", pointHandler.Histories)
	v1.Post("/orders", orderHandler.Create)
	v1.Get("/orders/:id", orderHandler.Get)
	v1.Post("/orders/:id/cancel", orderHandler.Cancel)
	v1.Post("/payments", paymentHandler.Process)
	v1.Post("/coupons/:id/issue", couponHandler.Issue)
	v1.Get("/products/popular", productHandler.Popular)
	v1.Post("/products/:id/view", productHandler.RecordView)
	v1.Post("/products/:id/wish", productHandler.RecordWish)
	v1.Get("/products/:id/stats", productHandler.RealtimeStats)
	v1.Post("/admin/dlq/:id/resolve", adminHandler.ResolveDLQ)
	v1.Get("/admin/dlq/report", adminHandler.DLQReport)
	app.Get("/api/sse/subscribe/:userId", sseHandler.Subscribe)

	// Background loops.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go func() {
		if err := hub.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error().Err(err).Msg("notifier hub stopped")
		}
	}()

	scheduler := worker.NewScheduler(
		worker.Job{Name: "outbox-dispatcher", Interval: cfg.Outbox.PollInterval,
			Run: dispatcher.RunCycle},
		worker.Job{Name: "dlq-threshold", Interval: cfg.Outbox.DLQCheckInterval,
			Run: monitor.CheckThreshold},
		worker.Job{Name: "dlq-report", Interval: cfg.Outbox.DLQReportInterval,
			Run: func(ctx context.Context) error {
				_, err := monitor.Report(ctx)
				return err
			}},
		worker.Job{Name: "coupon-drain", Interval: cfg.Coupon.DrainInterval,
			Run: func(ctx context.Context) error {
				_, err := drainer.DrainAll(ctx)
				return err
			}},
		worker.Job{Name: "stats-fold", Interval: cfg.Stats.FoldInterval,
			Run: func(ctx context.Context) error {
				if _, err := folder.FoldOnce(ctx); err != nil {
					return err
				}
				return popular.Warm(ctx)
			}},
		worker.Job{Name: "outbox-cleanup", Interval: cfg.Outbox.CleanupInterval,
			Run: func(ctx context.Context) error {
				n, err := outboxRepo.DeleteProcessedBefore(ctx, time.Now().Add(-cfg.Outbox.Retention))
				if n > 0 {
					log.Info().Int64("deleted", n).Msg("processed outbox rows purged")
				}
				return err
			}},
		worker.Job{Name: "order-expiry", Interval: cfg.Order.ExpiryInterval,
			Run: func(ctx context.Context) error {
				n, err := orderSvc.ExpireStale(ctx, cfg.Order.PaymentWindow, cfg.Order.ExpiryBatch)
				if n > 0 {
					log.Info().Int("expired", n).Msg("stale orders expired")
				}
				return err
			}},
	)
	scheduler.Start(workerCtx)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	stopWorkers()
	scheduler.Wait()

	pool.Close()
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis client")
	}
	log.Info().Msg("server stopped")
}

// redisPinger adapts the go-redis client to the health handler's Pinger.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// initLogger configures zerolog from configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
