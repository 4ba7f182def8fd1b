package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/dominusnolan/court-booking/internal/config"
	"github.com/dominusnolan/court-booking/internal/database"
	"github.com/dominusnolan/court-booking/internal/handler"
	"github.com/dominusnolan/court-booking/internal/middleware"
	"github.com/dominusnolan/court-booking/internal/queue"
	"github.com/dominusnolan/court-booking/internal/repository"
	"github.com/dominusnolan/court-booking/internal/router"
	"github.com/dominusnolan/court-booking/internal/service"
	"github.com/dominusnolan/court-booking/internal/sweeper"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warn: .env not loaded: %v", err)
	}
	cfg := config.Load()

	sched, err := config.LoadSchedule()
	if err != nil {
		log.Fatalf("schedule: %v", err)
	}
	store := config.NewScheduleStore(sched)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}
	checks := map[string]func(context.Context) error{}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	ledger, db := openLedger(ctx, cfg, rdb)
	if db != nil {
		defer db.Close()
		checks["mysql"] = db.PingContext
	}

	var events service.Publisher = queue.LogPublisher{}
	if cfg.RabbitURL != "" {
		pub, err := queue.NewPublisher(cfg.RabbitURL, queue.DefaultBookingExchange)
		if err != nil {
			log.Printf("warn: broker unavailable, booking events are logged only: %v", err)
		} else {
			defer pub.Close()
			events = pub
		}
	}

	booking := service.NewBookingService(ledger, store, events, cfg.HoldTTL, nil)
	avail := service.NewAvailabilityService(ledger, store, cfg.ShowPending, nil)

	if cfg.RabbitURL != "" {
		consumer := &queue.OrderConsumer{URL: cfg.RabbitURL, Handler: booking, Retryable: service.IsRetryable}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("order-consumer: stopped: %v", err)
			}
		}()
	}
	go sweeper.New(booking, cfg.SweepInterval).Start(ctx)

	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb)
	var orders *handler.OrderWebhookHandler
	if cfg.WebhookSecret != "" {
		orders = &handler.OrderWebhookHandler{Svc: booking, Secret: cfg.WebhookSecret}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.RequestID(), echomw.Logger(), echomw.Recover())
	router.RegisterRoutes(e, router.Deps{
		JWTSecret:     cfg.JWTSecret,
		Availability:  &handler.AvailabilityHandler{Svc: avail},
		Schedule:      &handler.ScheduleHandler{Availability: avail, Store: store, Cache: cache},
		Slots:         &handler.SlotHandler{Svc: booking},
		Orders:        orders,
		Readiness:     &handler.ReadinessHandler{Checks: checks},
		Cache:         cache,
		SelectLimiter: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	})

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s, ledger=%s, hold_ttl=%s)", addr, cfg.Env, cfg.LedgerBackend, cfg.HoldTTL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// openLedger builds the ledger selected by LEDGER_BACKEND.  The returned
// *sql.DB is non-nil only for the mysql backend.
func openLedger(ctx context.Context, cfg config.Config, rdb *redis.Client) (repository.Ledger, *sql.DB) {
	switch cfg.LedgerBackend {
	case config.BackendRedis:
		if rdb == nil {
			log.Fatalf("ledger: redis backend selected but redis is unreachable")
		}
		return repository.NewRedisLedger(rdb, cfg.LedgerPrefix, nil), nil
	case config.BackendMySQL:
		db, err := database.Open(database.Options{
			User: cfg.DBUser,
			Pass: cfg.DBPass,
			Host: cfg.DBHost,
			Port: cfg.DBPort,
			Name: cfg.DBName,
		})
		if err != nil {
			log.Fatalf("ledger: %v", err)
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("ledger: %v", err)
		}
		return repository.NewMySQLLedger(db, nil), db
	case config.BackendMemory:
		log.Printf("ledger: in-memory backend, holds do not survive restarts and are not shared between instances")
		return repository.NewMemoryLedger(nil), nil
	}
	log.Fatalf("ledger: unknown backend %q", cfg.LedgerBackend)
	return nil, nil
}
