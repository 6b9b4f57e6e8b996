package container

import (
	"context"
	"fmt"
	"sync"

	config "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Config"
	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
	"gitlab.com/quizduino/qz.realtime_server/src/production/QZ.RealtimeService/health"
	"go.mongodb.org/mongo-driver/mongo"
)

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger
	mongo  *mongo.Client

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// BridgeContainer manages dependencies for the MQTT console bridge
type BridgeContainer struct {
	config *config.BridgeConfig
	logger *logger.Logger
}

// NewRealtimeContainer creates a new container for the realtime service
func NewRealtimeContainer() (*Container, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	log := logger.NewLogger(&cfg.Logging)

	return &Container{
		config: cfg,
		logger: log,
	}, nil
}

// NewBridgeContainer creates a new container for the console bridge service
func NewBridgeContainer() (*BridgeContainer, error) {
	cfg, err := config.LoadBridgeConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load bridge configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)

	return &BridgeContainer{
		config: cfg,
		logger: log,
	}, nil
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetConfig returns the bridge configuration
func (c *BridgeContainer) GetConfig() *config.BridgeConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetLogger returns the logger
func (c *BridgeContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetMongo returns the MongoDB client, connecting on first use
func (c *Container) GetMongo() (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mongo == nil {
		client, err := health.ConnectMongoWithTimeout(&c.config.Mongo)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		c.mongo = client
	}

	return c.mongo, nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	defer c.mu.Unlock()

	// Execute cleanup functions in reverse order
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	// Close Mongo connection
	if c.mongo != nil {
		if err := c.mongo.Disconnect(ctx); err != nil {
			c.logger.ErrorWithError(err, "Error closing MongoDB connection")
		}
		c.mongo = nil
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// Shutdown gracefully shuts down the bridge container
func (c *BridgeContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down bridge container...")
	return nil
}
