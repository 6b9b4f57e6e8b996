package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	config "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongoWithTimeout creates a MongoDB connection with a timeout context
func ConnectMongoWithTimeout(cfg *config.MongoConfig) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("MONGODB_URI environment variable not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)

	// Atlas requires TLS 1.2+
	if strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		clientOptions.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	clientOptions.SetServerSelectionTimeout(cfg.ConnectTimeout)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %v", err)
	}

	// Test the connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("unable to ping MongoDB: %v", err)
	}

	return client, nil
}

// MongoChecker reports MongoDB reachability for readiness probes
type MongoChecker struct {
	client *mongo.Client
}

// NewMongoChecker creates a new checker around an open client
func NewMongoChecker(client *mongo.Client) *MongoChecker {
	return &MongoChecker{client: client}
}

// Ping checks database connectivity
func (c *MongoChecker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.Ping(ctx, readpref.Primary())
}
