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

	"github.com/gin-gonic/gin"

	"pizzeria-service/config"
	"pizzeria-service/internal/api"
	"pizzeria-service/internal/broker"
	"pizzeria-service/internal/redisclient"
	"pizzeria-service/internal/service"
	"pizzeria-service/internal/store"
	"pizzeria-service/internal/util"
	"pizzeria-service/internal/worker"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pizzeria service")

	tp, err := util.InitTracer("pizzeria-service", cfg.Observ.JaegerEndpoint)
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

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	refundService := service.NewRefundService(db, eventPublisher, cfg.Business.DeliveryWindow)
	orderService := service.NewOrderService(db, refundService, eventPublisher, cfg.Business.PointsPerPizza)
	catalogClient := service.NewCatalogClient(db, redisClient, cfg.Business.MenuCacheTTL)

	ctx := context.Background()
	if err := catalogClient.WarmMenuCache(ctx); err != nil {
		log.Printf("Failed to warm menu cache: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweepWorker := worker.NewSweepWorker(refundService, redisClient, cfg.Business.SweepInterval)
	sweepWorker.Start(workerCtx)

	courierConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCourier, cfg.Kafka.ConsumerGroup)
	courierWorker := worker.NewCourierWorker(courierConsumer, orderService, db)
	go func() {
		if err := courierWorker.Start(workerCtx); err != nil {
			log.Printf("Courier worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, catalogClient)
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
	sweepWorker.Stop()
	courierWorker.Stop()

	log.Println("Server exited")
}
