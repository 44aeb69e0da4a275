package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"bar-orders/internal/config"
	"bar-orders/internal/events"
	"bar-orders/internal/logger"
	"bar-orders/internal/order"
	"bar-orders/internal/order/db"
	orderkafka "bar-orders/internal/order/kafka"
	"bar-orders/internal/order/order_api"
	orderredis "bar-orders/internal/order/redis"
	"bar-orders/internal/payment/linepay"
	"bar-orders/internal/payment/stripegw"
)

func main() {
	_ = godotenv.Load()

	log := logger.NewLogger()
	defer log.Close()

	cfg := config.Load()
	ctx := context.Background()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Database.AutoMigrate {
		if err := db.MigrateUp(bunDB, cfg.Database.MigrationsDir); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("migrations failed: %v", err))
		}
	}
	log.Info("DATABASE", "connected and migrated")

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("failed to connect to Redis: %v", err))
	}
	defer redisClient.Close()
	log.Info("REDIS", "connected to "+cfg.Redis.Addr)

	// --- Kafka ---
	producer := &orderkafka.Producer{}
	if cfg.Kafka.Enabled {
		producer = orderkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("KAFKA", fmt.Sprintf("producing to %s on topic %s", cfg.Kafka.Brokers, cfg.Kafka.Topic))
	} else {
		log.Warn("KAFKA", "disabled, order events will not be published")
	}
	defer producer.Close()

	// --- Payment gateway ---
	gateway, err := buildGateway(cfg, log)
	if err != nil {
		log.Fatal("PAYMENT", fmt.Sprintf("gateway init failed: %v", err))
	}
	log.Info("PAYMENT", "using gateway "+gateway.Name())

	// --- Service wiring ---
	service := order.NewService(
		db.New(bunDB),
		events.NewReader(bunDB),
		gateway,
		orderredis.NewRedis(redisClient, cfg.Redis.LockTTL),
		producer,
		log,
		order.Options{
			Currency:       cfg.Payment.Currency,
			GatewayTimeout: cfg.Payment.GatewayTimeout,
			PendingTTL:     cfg.Payment.PendingTTL,
			ConfirmURL:     cfg.LinePay.ConfirmURL,
			CancelURL:      cfg.LinePay.CancelURL,
		},
	)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go service.StartExpirySweeper(sweepCtx, cfg.Payment.SweepInterval)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	handler := order_api.NewHandler(service, log)
	handler.Routes(r)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", "order engine listening on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("http server error: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "shutdown signal received")

	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("SERVER", fmt.Sprintf("forced shutdown: %v", err))
	}
	log.Info("SERVER", "exited gracefully")
}

func buildGateway(cfg *config.Config, log *logger.Logger) (order.Gateway, error) {
	switch cfg.Payment.Gateway {
	case "stripe":
		return stripegw.New(cfg.Stripe, log)
	default:
		return linepay.New(cfg.LinePay, log)
	}
}
