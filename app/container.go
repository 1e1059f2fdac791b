package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RezaEskandarii/csvimport/client"
	"github.com/RezaEskandarii/csvimport/internal/db"
	"github.com/RezaEskandarii/csvimport/internal/delay"
	"github.com/RezaEskandarii/csvimport/internal/dispatch"
	"github.com/RezaEskandarii/csvimport/internal/lock"
	"github.com/RezaEskandarii/csvimport/internal/message_broaker"
	"github.com/RezaEskandarii/csvimport/internal/monitor"
	"github.com/RezaEskandarii/csvimport/internal/source"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/internal/task"
	"github.com/RezaEskandarii/csvimport/types/config"
	"github.com/RezaEskandarii/csvimport/web"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.ImporterConfig

	// Storage connections (created once, shared by all stores). DB is nil for
	// the memory driver, Redis is nil unless the redis broker is used.
	DB    *sql.DB
	Redis *redis.Client

	JobStore  store.JobStore
	UserStore store.UserStore
	Sources   source.Store

	// Infrastructure. MessageBroker is nil when tasks run inline.
	LockManager   lock.DistributedLockManager
	MessageBroker message_broaker.MessageBroker

	Registry      *dispatch.Registry
	Executor      *dispatch.Executor
	Dispatcher    dispatch.Dispatcher
	Processor     *task.Processor
	ImportManager *client.ImportManager
	Monitor       *monitor.Monitor
}

// NewContainer creates and wires all dependencies and brings the database
// schema up to date. Call this once per application lifecycle.
func NewContainer(ctx context.Context, cfg *config.ImporterConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	conn := opt.db
	if conn == nil {
		var err error
		if conn, err = openDB(cfg); err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
	}

	c := &Container{Config: cfg, DB: conn}
	if err := c.wire(ctx, opt); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) wire(ctx context.Context, opt *containerConfig) error {
	cfg := c.Config

	jobStore, err := createJobStore(cfg.StorageDriver, c.DB)
	if err != nil {
		return err
	}
	c.JobStore = jobStore

	userStore, err := createUserStore(cfg.StorageDriver, c.DB)
	if err != nil {
		return err
	}
	c.UserStore = userStore
	c.LockManager = createDistributedLockManager(cfg.StorageDriver, c.DB)

	if dialect, ok := dialectOf(cfg.StorageDriver); ok {
		if err := db.Init(ctx, c.DB, dialect, c.LockManager); err != nil {
			return fmt.Errorf("init database: %w", err)
		}
	}

	c.Redis = opt.redis
	if c.Redis == nil && cfg.BrokerDriver == config.Redis {
		c.Redis = createRedisClient(cfg.RedisConfig)
	}

	c.MessageBroker = opt.broker
	if c.MessageBroker == nil {
		if c.MessageBroker, err = createMessageBroker(cfg, c.Redis); err != nil {
			return err
		}
	}

	c.Sources = opt.sources
	if c.Sources == nil {
		if c.Sources, err = createSourceStore(ctx, cfg); err != nil {
			return fmt.Errorf("init source store: %w", err)
		}
	}

	pacer := opt.pacer
	if pacer == nil {
		pacer = delay.SleepPacer{}
		if cfg.DelayUnit == 0 {
			pacer = delay.NoopPacer{}
		}
	}

	c.Processor = task.NewProcessor(c.JobStore, c.Sources, task.WithPacer(pacer), task.WithDelayUnit(cfg.DelayUnit))
	c.Registry = dispatch.NewRegistry()
	if err := task.Register(c.Registry, c.Processor); err != nil {
		return err
	}
	c.Executor = dispatch.NewExecutor(c.Registry, dispatch.WithMaxAttempts(cfg.MaxAttempts))

	if c.MessageBroker == nil {
		c.Dispatcher = dispatch.NewInlineDispatcher(c.Registry, c.Executor)
	} else {
		var dispatchOpts []dispatch.BrokerDispatcherOption
		if cfg.BrokerBestEffort {
			if c.MessageBroker.Durable() {
				return fmt.Errorf("best-effort publishing is only allowed with a non-durable broker, %s is durable", cfg.BrokerDriver)
			}
			dispatchOpts = append(dispatchOpts, dispatch.WithBestEffort())
		}
		c.Dispatcher = dispatch.NewBrokerDispatcher(c.MessageBroker, c.Queue(), dispatchOpts...)
	}

	c.ImportManager = client.NewImportManager(c.JobStore, c.Sources, c.Dispatcher,
		client.WithRequiredColumns(cfg.RequiredColumns...))
	c.Monitor = monitor.NewMonitor(c.JobStore, c.LockManager, cfg.StuckAfter)
	return nil
}

// Queue is the name tasks are published to and consumed from.
func (c *Container) Queue() string {
	if c.Config.BrokerDriver == config.RabbitMQ && c.Config.RabbitMQConfig != nil && c.Config.RabbitMQConfig.Queue != "" {
		return c.Config.RabbitMQConfig.Queue
	}
	return c.Config.Queue
}

// Worker returns the broker consumer, or nil when tasks run inline.
func (c *Container) Worker() *dispatch.Worker {
	if c.MessageBroker == nil {
		return nil
	}
	return dispatch.NewWorker(c.MessageBroker, c.Queue(), c.Executor, c.Config.WorkerCount)
}

// RecoverTasks hands back tasks a crashed worker had taken but not settled.
// Only the redis broker keeps such tasks aside.
func (c *Container) RecoverTasks(ctx context.Context) error {
	rb, ok := c.MessageBroker.(*message_broaker.RedisBroker)
	if !ok {
		return nil
	}
	moved, err := rb.RecoverProcessing(ctx, c.Queue())
	if err != nil {
		return err
	}
	if moved > 0 {
		log.WithField("queue", c.Queue()).Infof("requeued %d unsettled tasks", moved)
	}
	return nil
}

func (c *Container) RouteHandler() *web.HttpRouteHandler {
	return web.NewRouteHandler(c.ImportManager, c.UserStore, c.Config.HTTPPort, web.WithHealthCheck(c.HealthCheck))
}

// HealthCheck pings the database and redis when they are in use.
func (c *Container) HealthCheck(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases the broker and the database.
func (c *Container) Close() error {
	var errs []error
	if c.MessageBroker != nil {
		errs = append(errs, c.MessageBroker.Close())
	} else if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.JobStore != nil {
		errs = append(errs, c.JobStore.Close())
	} else if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
