package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/eaglebank/ledger/internal/command"
	"github.com/eaglebank/ledger/internal/config"
	"github.com/eaglebank/ledger/internal/handler"
	"github.com/eaglebank/ledger/internal/notify"
	"github.com/eaglebank/ledger/internal/policy"
	"github.com/eaglebank/ledger/internal/query"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/logger"
	"github.com/eaglebank/ledger/shared/middleware"
	redisClient "github.com/eaglebank/ledger/shared/redis"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logg.Sync()

	if cfg.JWTSecret == "" {
		logg.Fatal("JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database connection (write store)
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logg.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logg.Fatal("failed to ping database", zap.Error(err))
	}
	if err := repository.Migrate(db); err != nil {
		logg.Fatal("failed to migrate database", zap.Error(err))
	}

	// Redis connection (read model store + event streaming)
	redis, err := redisClient.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logg.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	// --- CQRS wiring ---
	store := repository.NewPostgresStore(db, repository.WithTxRetries(cfg.TxRetries))
	publisher := events.NewPublisher(redis.Client, int64(cfg.StreamMaxLen))
	access := policy.New(store)

	accountViews := repository.NewAccountReadRepository(store, redis.Client, logg)
	transactionViews := repository.NewTransactionReadRepository(store, redis.Client, logg)

	accountSvc := command.NewAccountCommandService(store, access, accountViews, publisher, logg)
	movementSvc := command.NewMovementCommandService(store, access, accountViews, transactionViews, publisher, logg)
	querySvc := query.NewLedgerQueryService(access, accountViews, transactionViews)

	notifier := notify.NewNotifier(accountViews, logg)
	consumer := notify.NewConsumer(redis.Client, cfg.NotifyConsumer, notifier, logg)
	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error("notification consumer stopped", zap.Error(err))
		}
	}()

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(logg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", middleware.AuthMiddleware([]byte(cfg.JWTSecret)))
	handler.RegisterRoutes(v1,
		handler.NewAccountHandler(accountSvc, querySvc, logg),
		handler.NewTransactionHandler(movementSvc, querySvc, logg),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logg.Info("ledger service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server shutdown failed", zap.Error(err))
	}
}
