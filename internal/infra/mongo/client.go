package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/infra/config"
)

// Client owns the driver connection and the configured database handle.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    config.MongoSettings
	logger *zap.Logger
}

// Connect dials the cluster and pings the primary before returning.
func Connect(ctx context.Context, cfg config.MongoSettings, logger *zap.Logger) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetAppName("auth-session-service")

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Info("connected to mongo",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)

	return &Client{client: client, db: client.Database(cfg.Database), cfg: cfg, logger: logger}, nil
}

// Collection returns the credentials collection.
func (c *Client) Collection() *mongo.Collection {
	return c.db.Collection(c.cfg.Collection)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing mongo connection")
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
