package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lumina/internal/config"
	"lumina/internal/events"
	httpapi "lumina/internal/http"
	"lumina/internal/ledger"
	"lumina/internal/repository"
	"lumina/internal/service"

	_ "lumina/docs"
)

// @title Lumina Checkout API
// @version 1.0
// @description Catalog, cart and order lifecycle with reserved stock.
// @BasePath /api/v1
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// storage: Postgres when a DSN is configured, in-memory otherwise
	var (
		products repository.ProductRepository
		orders   repository.OrderRepository
	)
	if cfg.PostgresDSN != "" {
		pool, err := repository.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		store := repository.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate schema")
		}
		products = store
		orders = repository.NewPostgresOrders(store)
		log.Info().Msg("using postgres storage")
	} else {
		store := repository.NewMemoryStore()
		products = store
		orders = repository.NewMemoryOrders(store)
		log.Info().Msg("using in-memory storage")
	}

	// ledger: Redis when an address is configured
	var led ledger.Ledger
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		led = ledger.NewRedisLedger(rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis ledger")
	} else {
		led = ledger.NewMemoryLedger()
		log.Info().Msg("using in-memory ledger")
	}

	// events: Kafka when brokers are configured
	var pub events.Publisher = events.NopPublisher{}
	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.ServiceName, 1024)
		kafkaPub.Start(ctx)
		pub = kafkaPub
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("kafka publisher started")
	}

	productsSvc := service.NewProductService(products, led)
	cartsSvc := service.NewCartService(products, led)
	ordersSvc := service.NewOrderService(products, orders, led, pub, cfg.ReservationTTL)

	sweeper := service.NewSweeper(ordersSvc, cfg.SweepInterval)
	go sweeper.Run(ctx)

	srv := httpapi.NewServer(productsSvc, cartsSvc, ordersSvc)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Engine(),
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	cancel()
	if kafkaPub != nil {
		kafkaPub.WaitClosed()
	}
}
