package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sugu-checkout/config"
	"sugu-checkout/internal/api"
	"sugu-checkout/internal/broker"
	"sugu-checkout/internal/cardgateway"
	"sugu-checkout/internal/redisclient"
	"sugu-checkout/internal/security"
	"sugu-checkout/internal/service"
	"sugu-checkout/internal/store"
	"sugu-checkout/internal/util"
	"sugu-checkout/internal/wallet"
	"sugu-checkout/internal/worker"
	"sugu-checkout/migrations"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer("sugu-checkout", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.RunMigrations(ctx, migrations.Files); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)

	dispatcher := broker.NewDispatcher()
	dispatcher.Register("log", broker.LogListener(logger))
	dispatcher.Register("kafka", eventPublisher.Publish)

	walletClient := wallet.NewClient(cfg.Wallet)
	cardClient := cardgateway.NewClient(cfg.Card, nil)

	registry := service.NewPaymentMethodRegistry(
		service.NewCardBackend(cardClient, cfg.Card),
		service.NewWalletBackend(walletClient, cfg.Wallet),
		service.NewCashOnDeliveryBackend(),
	)
	logger.Info("Payment methods",
		zap.Bool("wallet_ready", walletClient.Ready()),
		zap.Bool("card_ready", cardClient.Ready()))

	// A nil *cardgateway.Client inside the interface would not compare equal to nil.
	var cardGateway service.CardGateway
	if cardClient.Ready() {
		cardGateway = cardClient
	}

	inventoryClient := service.NewInventoryClient(db, redisClient)
	if err := inventoryClient.SyncInventory(ctx); err != nil {
		logger.Error("Failed to sync inventory to Redis", zap.Error(err))
	}

	carts := service.NewCartService(db)
	drafts := service.NewStaleDraftReporter(db)
	services := api.Services{
		Carts:     carts,
		Addresses: service.NewAddressService(db),
		Checkout:  service.NewCheckoutOrchestrator(db, carts, registry, inventoryClient, dispatcher, cfg.Storefront.Currency),
		Payments:  service.NewPaymentService(db, registry, inventoryClient, cardGateway, dispatcher),
		Orders:    service.NewOrderService(db, inventoryClient, dispatcher),
		Registry:  registry,
		Drafts:    drafts,
		Health: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	draftWorker := worker.NewStaleDraftWorker(drafts, redisClient, dispatcher, cfg.Draft)
	go func() {
		if err := draftWorker.Start(workerCtx); err != nil {
			logger.Error("Stale draft worker error", zap.Error(err))
		}
	}()

	monitor := security.NewLoginFailureMonitor(redisClient, dispatcher, cfg.LoginFailure)
	authConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAuth, cfg.Kafka.AuthConsumerGroup)
	authWorker := worker.NewAuthEventWorker(authConsumer, monitor)
	go func() {
		if err := authWorker.Start(workerCtx); err != nil {
			logger.Error("Auth event worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, security.NewFilter(redisClient, cfg.Security), cfg)
	handler.SetupRoutes(router)

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
	if err := authWorker.Stop(); err != nil {
		logger.Warn("Error stopping auth worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
