package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"order-fulfillment/config"
	"order-fulfillment/internal/api"
	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/clients"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/outbox"
	"order-fulfillment/internal/redisclient"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"
	"order-fulfillment/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// component is what one role contributes to the process
type component struct {
	routes     []api.RouteRegistrar
	checks     map[string]api.ReadinessCheck
	background []func(ctx context.Context)
	closers    []func() error
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.ServiceName()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting service",
		zap.String("role", cfg.Server.Role),
		zap.String("version", cfg.Server.Version))

	tp, err := util.InitTracer(cfg.ServiceName(), cfg.Server.Version, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if tp == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	events, closeEvents := newEventPublisher(cfg)
	defer closeEvents()

	var comp *component
	switch cfg.Server.Role {
	case config.RoleInventory:
		comp = inventoryComponent(cfg, events)
	case config.RolePayment:
		comp = paymentComponent(cfg, events)
	case config.RoleOrder:
		comp, err = orderComponent(cfg, events)
		if err != nil {
			logger.Fatal("Failed to initialize order service", zap.Error(err))
		}
	default:
		logger.Fatal("Unknown service role", zap.String("role", cfg.Server.Role))
	}
	defer comp.close()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var wg sync.WaitGroup
	for _, run := range comp.background {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(workerCtx)
		}(run)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(cfg.ServiceName(), cfg.Server.Version, comp.checks)
	router := api.NewRouter(handler, comp.routes...)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	wg.Wait()

	logger.Info("Server exited")
}

func newEventPublisher(cfg *config.Config) (service.EventPublisher, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		util.GetLogger().Info("No Kafka brokers configured, events are dropped")
		return broker.NopPublisher{}, func() {}
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	util.GetLogger().Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return broker.NewEventPublisher(producer), func() {
		if err := producer.Close(); err != nil {
			util.GetLogger().Warn("Error closing Kafka producer", zap.Error(err))
		}
	}
}

func inventoryComponent(cfg *config.Config, events service.EventPublisher) *component {
	ledger := service.NewInventoryLedger(events, cfg.Business.ReservationTTL)
	sweeper := worker.NewReservationSweeper(ledger, cfg.Business.SweepInterval)

	return &component{
		routes:     []api.RouteRegistrar{api.NewInventoryHandler(ledger)},
		background: []func(context.Context){sweeper.Start},
	}
}

func paymentComponent(cfg *config.Config, events service.EventPublisher) *component {
	payments := service.NewPaymentService(events, cfg.Business.DefaultCurrency)

	return &component{
		routes: []api.RouteRegistrar{api.NewPaymentHandler(payments)},
	}
}

func orderComponent(cfg *config.Config, events service.EventPublisher) (*component, error) {
	logger := util.GetLogger()
	comp := &component{checks: map[string]api.ReadinessCheck{}}

	var repo service.OrderRepository = store.NewMemoryOrders()
	if cfg.Database.URL != "" {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(context.Background()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database connected")
		repo = db
		comp.checks["postgres"] = db.Ping
		comp.closers = append(comp.closers, db.Close)
	}

	var locker service.Locker = store.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			comp.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connected")
		locker = redisClient
		comp.checks["redis"] = redisClient.Ping
		comp.closers = append(comp.closers, redisClient.Close)
	}

	timeout := cfg.Services.UpstreamTimeout
	catalog := clients.NewCatalogClient(cfg.Services.CatalogURL, timeout)
	inventory := clients.NewInventoryClient(cfg.Services.InventoryURL, timeout)
	payments := clients.NewPaymentClient(cfg.Services.PaymentURL, timeout)

	pending := outbox.NewMemoryStore(time.Second, 5*time.Minute)
	saga := service.NewSagaOrchestrator(inventory, payments, pending)
	orders := service.NewOrderService(repo, catalog, inventory, payments, saga, locker, events, service.OrderOptions{
		Currency:       cfg.Business.DefaultCurrency,
		PaymentMethod:  models.PaymentMethod(cfg.Business.DefaultPaymentMethod),
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
		ReservationTTL: cfg.Business.ReservationTTL,
	})

	relay := outbox.NewRelay(pending, saga, cfg.Business.OutboxInterval)
	sweeper := worker.NewOrderSweeper(orders, cfg.Business.SweepInterval)
	comp.background = append(comp.background, relay.Run, sweeper.Start)

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		orderWorker := worker.NewOrderWorker(consumer, orders)
		comp.background = append(comp.background, func(ctx context.Context) {
			if err := orderWorker.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Order worker error", zap.Error(err))
			}
		})
		comp.closers = append(comp.closers, orderWorker.Stop)
	}

	comp.routes = []api.RouteRegistrar{api.NewOrderHandler(orders, saga)}
	return comp, nil
}

func (c *component) close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			util.GetLogger().Warn("Error closing resource", zap.Error(err))
		}
	}
}
