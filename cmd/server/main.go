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

	"shop-service/config"
	"shop-service/internal/api"
	"shop-service/internal/broker"
	"shop-service/internal/redisclient"
	"shop-service/internal/service"
	"shop-service/internal/settings"
	"shop-service/internal/store"
	"shop-service/internal/util"
	"shop-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shop service")

	tp, err := util.InitTracer("shop-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicShop)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	promotionService := service.NewPromotionService(db)
	checkoutService := service.NewCheckoutService(db, redisClient, eventPublisher, promotionService, cfg.Business.PromoStrict)
	depositService := service.NewDepositService(db, eventPublisher, time.Duration(cfg.Business.DepositTTLMinutes)*time.Minute)
	catalogService := service.NewCatalogService(db, redisClient)

	settingsCache := settings.NewCache(db)

	ctx := context.Background()
	if err := settingsCache.Reload(ctx); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}
	if err := catalogService.SyncStockToRedis(ctx); err != nil {
		log.Printf("Failed to sync stock to Redis: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup)
	paymentWorker := worker.NewPaymentWorker(paymentConsumer, depositService)
	go func() {
		if err := paymentWorker.Start(workerCtx); err != nil {
			log.Printf("Payment worker error: %v", err)
		}
	}()

	sweeper := worker.NewDepositSweeper(depositService, redisClient, time.Duration(cfg.Business.SweepIntervalSeconds)*time.Second)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil {
			log.Printf("Deposit sweeper error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(checkoutService, catalogService, depositService, promotionService, settingsCache)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	paymentWorker.Stop()

	log.Println("Server exited")
}
