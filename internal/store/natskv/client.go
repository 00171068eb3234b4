// Package natskv adapts a NATS JetStream KeyValue bucket to the store.Store
// interface. KV watchers give the push semantics the sync core needs: an
// initial replay of current state followed by every subsequent change.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/pkg/logger"
)

// Config holds NATS connection configuration.
type Config struct {
	URL    string
	Bucket string
	Token  string
}

// Client wraps the NATS connection and the KV bucket.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	logger *logger.Logger
}

// Connect establishes a connection to NATS and ensures the bucket exists.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			History:     1,
			Description: "messenger documents: conversations, messages, profiles",
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open KV bucket %q: %w", cfg.Bucket, err)
	}

	return &Client{
		conn:   nc,
		js:     js,
		kv:     kv,
		logger: log,
	}, nil
}

// Store returns the store.Store adapter backed by this client's bucket.
func (c *Client) Store() *Store {
	return &Store{kv: c.kv, logger: c.logger}
}

// Close closes the NATS connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
