package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warebase/stockledger/internal/adapter/catalog"
	"github.com/warebase/stockledger/internal/adapter/handler"
	"github.com/warebase/stockledger/internal/adapter/publish"
	"github.com/warebase/stockledger/internal/adapter/storage"
	"github.com/warebase/stockledger/internal/config"
	"github.com/warebase/stockledger/internal/core/service"
	"github.com/warebase/stockledger/internal/observability"
	"github.com/warebase/stockledger/internal/port"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("setup tracing", zap.Error(err))
	}

	// Ledger store
	var store port.LedgerRepository
	var db *sql.DB
	if cfg.StoreBackend == "mysql" {
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("open mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("ping mysql", zap.Error(err))
		}
		logger.Info("connected to mysql")
		store = storage.NewMySQLAdapter(db)
	} else {
		logger.Info("using in-memory store")
		store = storage.NewMemoryAdapter()
	}

	// Idempotency cache
	var cache port.CacheRepository
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		logger.Info("connected to redis")
		cache = storage.NewRedisAdapter(rdb)
	} else {
		logger.Warn("no redis configured, duplicate submissions are not fenced")
	}

	// Event publisher
	var publisher port.EventPublisher
	if cfg.KafkaBroker != "" {
		publisher = publish.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		logger.Info("publishing events to kafka",
			zap.String("broker", cfg.KafkaBroker),
			zap.String("topic", cfg.KafkaTopic),
		)
	} else {
		publisher = publish.NewLogPublisher(logger)
	}

	// Services
	cat := catalog.NewMemoryCatalog()
	ledger := service.NewLedgerService(store, cache, logger, cfg.DispatchQueueSize)
	availability := service.NewAvailabilityService(cat, store, logger)
	alerts := service.NewAlertService(cat, store, logger)

	// Start dispatch workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.DispatchWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			dispatchLoop(id, ledger.Dispatch(), publisher, alerts, logger)
		}(i)
	}
	logger.Info("started dispatch workers", zap.Int("count", cfg.DispatchWorkers))

	// Start gRPC health server
	healthSrv := handler.NewHealthGRPC()
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("addr", cfg.GRPCAddr))
		if err := healthSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", zap.Error(err))
		}
	}()

	// Start HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(ledger, availability, alerts, cat).Register(mux)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	healthSrv.Shutdown()
	logger.Info("grpc server stopped")

	// Close the dispatch queue and wait for workers to drain it
	ledger.Close()
	wg.Wait()
	logger.Info("dispatch workers stopped")

	if err := publisher.Close(); err != nil {
		logger.Error("close publisher", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("shutdown tracing", zap.Error(err))
	}
	logger.Info("stopped")
}

func dispatchLoop(id int, queue <-chan service.AdmittedChange, publisher port.EventPublisher, alerts *service.AlertService, logger *zap.Logger) {
	for change := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := publisher.Publish(ctx, change.Event); err != nil {
			logger.Error("publish failed",
				zap.Int("worker", id),
				zap.String("uid", change.Event.UID),
				zap.Error(err),
			)
		}
		if _, err := alerts.CheckThreshold(ctx, change.Event, change.Quantity); err != nil {
			logger.Error("threshold check failed",
				zap.Int("worker", id),
				zap.String("key", change.Event.Key.String()),
				zap.Error(err),
			)
		}

		cancel()
	}
}
