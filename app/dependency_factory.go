package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RezaEskandarii/csvimport/internal/db"
	"github.com/RezaEskandarii/csvimport/internal/lock"
	"github.com/RezaEskandarii/csvimport/internal/message_broaker"
	"github.com/RezaEskandarii/csvimport/internal/source"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/internal/store/memory"
	"github.com/RezaEskandarii/csvimport/internal/store/postgres"
	"github.com/RezaEskandarii/csvimport/internal/store/sqlite"
	"github.com/RezaEskandarii/csvimport/types/config"
	"github.com/redis/go-redis/v9"
)

func dialectOf(driver config.StorageDriver) (db.Dialect, bool) {
	switch driver {
	case config.Postgres:
		return db.Postgres, true
	case config.SQLite:
		return db.SQLite, true
	}
	return "", false
}

func openDB(cfg *config.ImporterConfig) (*sql.DB, error) {
	switch cfg.StorageDriver {
	case config.Postgres:
		return db.Open(db.Postgres, cfg.PostgresConfig.ConnectionUrl)
	case config.SQLite:
		return db.Open(db.SQLite, cfg.SQLiteConfig.Path)
	case config.Memory:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported storage driver: %v", cfg.StorageDriver)
}

func createJobStore(driver config.StorageDriver, conn *sql.DB) (store.JobStore, error) {
	switch driver {
	case config.Postgres:
		return postgres.NewPostgresJobStore(conn), nil
	case config.SQLite:
		return sqlite.NewSQLiteJobStore(conn), nil
	case config.Memory:
		return memory.NewJobStore(), nil
	}
	return nil, fmt.Errorf("unsupported storage driver: %v", driver)
}

func createUserStore(driver config.StorageDriver, conn *sql.DB) (store.UserStore, error) {
	switch driver {
	case config.Postgres:
		return postgres.NewPostgresUserStore(conn), nil
	case config.SQLite:
		return sqlite.NewSQLiteUserStore(conn), nil
	case config.Memory:
		return memory.NewUserStore(), nil
	}
	return nil, fmt.Errorf("unsupported storage driver: %v", driver)
}

// createDistributedLockManager uses advisory locks when several processes
// share a Postgres database, and in-process locks otherwise.
func createDistributedLockManager(driver config.StorageDriver, conn *sql.DB) lock.DistributedLockManager {
	if driver == config.Postgres {
		return lock.NewPostgresDistributedLockManager(conn)
	}
	return lock.NewLocalLockManager()
}

func createRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// createMessageBroker returns nil for the inline driver.
func createMessageBroker(cfg *config.ImporterConfig, redisClient *redis.Client) (message_broaker.MessageBroker, error) {
	switch cfg.BrokerDriver {
	case config.Inline:
		return nil, nil
	case config.InMemory:
		// zero selects the broker's default queue size
		return message_broaker.NewMemoryBroker(0), nil
	case config.RabbitMQ:
		rc := cfg.RabbitMQConfig
		broker, err := message_broaker.NewRabbitMQ(rc.URL, rc.Exchange, rc.Queue, rc.RoutingKey, rc.Prefetch)
		if err != nil {
			return nil, fmt.Errorf("init rabbitmq: %w", err)
		}
		return broker, nil
	case config.Redis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis broker needs a redis client")
		}
		return message_broaker.NewRedisBroker(redisClient), nil
	}
	return nil, fmt.Errorf("unsupported broker: %v", cfg.BrokerDriver)
}

func createSourceStore(ctx context.Context, cfg *config.ImporterConfig) (source.Store, error) {
	switch cfg.SourceDriver {
	case config.LocalDisk:
		s, err := source.NewLocalStore(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.MinIO:
		mc := cfg.MinioConfig
		s, err := source.NewMinioStore(source.MinioConfig{
			Endpoint:  mc.Endpoint,
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
			Bucket:    mc.Bucket,
			Region:    mc.Region,
			UseSSL:    mc.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported source driver: %v", cfg.SourceDriver)
}
