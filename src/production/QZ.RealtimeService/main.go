package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	container "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Container"
	realtime "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Realtime"
	"gitlab.com/quizduino/qz.realtime_server/src/production/QZ.RealtimeService/controllers"
	"gitlab.com/quizduino/qz.realtime_server/src/production/QZ.RealtimeService/health"
	implementation "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Repository/Implementation"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewRealtimeContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting Realtime Coordination Service")

	config := ctr.GetConfig()

	// Connect to the question/usage store
	mongoClient, err := ctr.GetMongo()
	if err != nil {
		logger.FatalWithError(err, "Failed to connect to MongoDB")
	}
	db := mongoClient.Database(config.Mongo.Database)

	// Create repositories
	questionRepo := implementation.NewMongoQuestionRepository(db.Collection(config.Mongo.QuestionsCollection))
	usageRepo := implementation.NewMongoUsageRepository(db.Collection(config.Mongo.UsageCollection))

	// Build the coordination core
	registry := realtime.NewRegistry(logger)
	rooms := realtime.NewRoomTable(logger)
	delivery := realtime.NewDelivery(registry, logger)
	verdicts := realtime.NewVerdictResolver(questionRepo, usageRepo, config.Realtime.VerdictTimeout, logger)
	scheduler := realtime.NewDeleteScheduler(logger)
	router := realtime.NewRouter(registry, rooms, delivery, verdicts, scheduler, &config.Realtime, logger)

	sweeper := realtime.NewSweeper(registry, rooms, router, scheduler, &config.Realtime, logger)
	sweeper.Start()

	// Initialize Gin router
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	engine.Use(cors.New(corsConfig))

	// Create controllers and register routes
	realtimeController := controllers.NewRealtimeController(router, &config.Realtime, logger)
	healthController := controllers.NewHealthController(health.NewMongoChecker(mongoClient), registry, rooms, logger)

	realtimeController.RegisterRoutes(engine)
	healthController.RegisterRoutes(engine)

	port := config.Server.Port

	// The websocket endpoint holds connections open indefinitely, so
	// only the read timeout guards the initial handshake
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           engine,
		ReadHeaderTimeout: config.Server.ReadTimeout,
		IdleTimeout:       config.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Realtime server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("Realtime service running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	// Stop accepting new connections first, then drop the live state;
	// rooms and devices are ephemeral and are not persisted
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}

	sweeper.Stop()
	scheduler.Stop()
	registry.CloseAll()
}
