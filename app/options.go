package app

import (
	"database/sql"

	"github.com/RezaEskandarii/csvimport/internal/delay"
	"github.com/RezaEskandarii/csvimport/internal/message_broaker"
	"github.com/RezaEskandarii/csvimport/internal/source"
	"github.com/redis/go-redis/v9"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom connections instead of creating them from config
	db      *sql.DB
	redis   *redis.Client
	broker  message_broaker.MessageBroker
	sources source.Store
	pacer   delay.Pacer
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithMessageBroker replaces the broker selected by the config.
func WithMessageBroker(broker message_broaker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}

func WithSourceStore(sources source.Store) ContainerOption {
	return func(c *containerConfig) {
		c.sources = sources
	}
}

// WithPacer replaces the wait used for the import delay.
func WithPacer(p delay.Pacer) ContainerOption {
	return func(c *containerConfig) {
		c.pacer = p
	}
}
