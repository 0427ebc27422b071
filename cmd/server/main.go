package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rl1809/flash-sale/internal/adapter/handler"
	"github.com/rl1809/flash-sale/internal/adapter/messaging"
	"github.com/rl1809/flash-sale/internal/adapter/storage"
	"github.com/rl1809/flash-sale/internal/config"
	"github.com/rl1809/flash-sale/internal/core/service"
	"github.com/rl1809/flash-sale/internal/logger"
	"github.com/rl1809/flash-sale/internal/metrics"
	"github.com/rl1809/flash-sale/internal/port"
	"github.com/rl1809/flash-sale/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.ServiceName, cfg.Log.Level)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(ctx, cfg.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return fmt.Errorf("connect mysql: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		return err
	}
	log.Info("Connected to MySQL")

	// promos share the pool with the ledger
	gormDB, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: db}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open gorm: %w", err)
	}
	catalog := storage.NewGormPromoCatalog(gormDB)
	if err := catalog.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate promos: %w", err)
	}

	// Initialize Redis
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	log.Info("Connected to Redis", zap.Strings("addrs", cfg.Redis.Addrs))

	publisher, subscriber, closeChannel, checks, err := openChannel(cfg.Channel, log)
	if err != nil {
		return err
	}
	defer closeChannel()

	mysqlAdapter := storage.NewMySQLAdapter(db)
	tier := service.NewStockTier(storage.NewRedisAdapter(rdb))
	ledger := service.NewStockLedger(mysqlAdapter)
	materializer := service.NewMaterializer(mysqlAdapter, ledger, log, m)
	gate := service.NewPromoGate(tier, catalog, cfg.Promo.CacheTTL, log)

	orderService := service.NewOrderService(tier, gate, ledger, materializer, publisher, mysqlAdapter, service.Options{
		MaxAmount:       cfg.Order.MaxAmount,
		RequestTTL:      cfg.Order.RequestTTL,
		PublishAttempts: cfg.Settlement.PublishAttempts,
		PublishBackoff:  cfg.Settlement.PublishBackoff,
	}, log, m)

	for itemID, quantity := range cfg.Seed.Items {
		available, err := orderService.InitStock(ctx, itemID, quantity)
		if err != nil {
			return fmt.Errorf("init stock %s: %w", itemID, err)
		}
		log.Info("Initialized stock", zap.String("item_id", itemID), zap.Int64("available", available))
	}

	pool := service.NewSettlementWorkerPool(subscriber, materializer, cfg.Settlement.Workers, cfg.Settlement.RetryBackoff, log)
	reconciler := service.NewReconciler(orderService, ledger, tier, service.ReconcilerConfig{
		Interval:        cfg.Reconcile.Interval,
		ReservedTimeout: cfg.Reconcile.ReservedTimeout,
		BatchSize:       cfg.Reconcile.BatchSize,
	}, log, m)

	checks = append(checks,
		handler.HealthCheck{Name: "mysql", Check: db.PingContext},
		handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	healthServer := handler.NewGRPCHandler(orderService, log).Register(grpcServer, checks...)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}

	// Initialize HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(orderService, log, checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// workers outlive the servers so in-flight reservations still settle
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Addr))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error { return pool.Run(workerCtx) })
	g.Go(func() error { return reconciler.Run(workerCtx) })

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown failed", zap.Error(err))
		}
		log.Info("HTTP server stopped")

		healthServer.Shutdown()
		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")

		stopWorkers()
		return nil
	})

	err = g.Wait()
	log.Info("Workers stopped")
	return err
}

// openChannel builds the settlement publisher and subscriber for the
// configured driver.
func openChannel(cfg config.ChannelConfig, log *zap.Logger) (port.SettlementPublisher, port.SettlementSubscriber, func() error, []handler.HealthCheck, error) {
	switch cfg.Driver {
	case "kafka":
		pub := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sub := messaging.NewKafkaSubscriber(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Readers, log)
		log.Info("Settlement channel: kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
		closeFn := func() error { return errors.Join(pub.Close(), sub.Close()) }
		return pub, sub, closeFn, nil, nil

	case "rabbitmq":
		ch, err := messaging.NewRabbitMQChannel(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, cfg.RabbitMQ.Prefetch, log)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		log.Info("Settlement channel: rabbitmq", zap.String("queue", cfg.RabbitMQ.Queue))
		check := handler.HealthCheck{Name: "rabbitmq", Check: func(context.Context) error {
			if !ch.Healthy() {
				return errors.New("connection closed")
			}
			return nil
		}}
		return ch, ch, ch.Close, []handler.HealthCheck{check}, nil

	default:
		ch := messaging.NewMemoryChannel(cfg.Memory.QueueSize)
		log.Info("Settlement channel: memory", zap.Int("queue_size", cfg.Memory.QueueSize))
		return ch, ch, ch.Close, nil, nil
	}
}
