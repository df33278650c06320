package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RezaEskandarii/pgqueue/client"
	"github.com/RezaEskandarii/pgqueue/internal/db"
	"github.com/RezaEskandarii/pgqueue/internal/lock"
	"github.com/RezaEskandarii/pgqueue/internal/message_broaker"
	"github.com/RezaEskandarii/pgqueue/internal/store"
	"github.com/RezaEskandarii/pgqueue/internal/store/memory"
	"github.com/RezaEskandarii/pgqueue/internal/store/postgres"
	"github.com/RezaEskandarii/pgqueue/types/config"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.QueueConfig
	Log    *logrus.Entry

	// Storage connections (created once, shared by store, broker and lock manager)
	DB    *sql.DB
	Redis *redis.Client

	JobStore      store.JobStore
	LockManager   lock.DistributedLockManager
	MessageBroker message_broaker.MessageBroker

	JobHandler *config.JobHandler
	Publisher  *client.Publisher
	Runner     *client.Runner
	Queue      *client.Queue
}

// NewContainer creates and wires all dependencies. Call it once per process.
// Pass WithDB or WithRedis to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.QueueConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	logger := opt.logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg); err != nil {
			return nil, err
		}
	}

	c := &Container{
		Config:     cfg,
		Log:        logger,
		JobHandler: config.NewJobHandler(),
	}

	var queueOpts []client.QueueOption
	switch cfg.StorageDriver {
	case config.Postgres:
		sqlDB := opt.db
		if sqlDB == nil {
			var err error
			if sqlDB, err = openPostgresDB(ctx, cfg.PostgresConfig); err != nil {
				return nil, fmt.Errorf("init storage: %w", err)
			}
		}
		c.DB = sqlDB
		c.JobStore = postgres.NewPostgresJobStore(sqlDB)
		c.LockManager = lock.NewPostgresDistributedLockManager(sqlDB)
		if cfg.RunMigrations {
			queueOpts = append(queueOpts, client.WithMigrator(func(ctx context.Context) error {
				return db.Migrate(ctx, cfg.PostgresConfig.ConnectionUrl, c.LockManager, logger)
			}))
		}
	case config.Memory:
		c.JobStore = memory.NewJobStore()
	default:
		return nil, fmt.Errorf("unsupported storage driver: %v", cfg.StorageDriver)
	}

	c.Redis = opt.redis
	if cfg.MQDriver == config.Redis && c.Redis == nil {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		queueOpts = append(queueOpts, client.WithCloser(c.Redis))
	}

	broker, err := createMessageBroker(cfg, c.DB, c.Redis, logger)
	if err != nil {
		_ = c.JobStore.Close()
		if opt.redis == nil && c.Redis != nil {
			_ = c.Redis.Close()
		}
		return nil, fmt.Errorf("init message broker: %w", err)
	}
	c.MessageBroker = broker

	c.Publisher = client.NewPublisher(c.JobStore, broker, cfg.PollInterval, logger)
	c.Runner = client.NewRunner(c.JobStore, broker, c.JobHandler, client.RunnerOptionsFromConfig(cfg), logger)
	queueOpts = append(queueOpts, client.WithLogger(logger))
	c.Queue = client.NewQueue(c.Publisher, c.Runner, c.JobStore, broker, queueOpts...)

	logger.WithFields(logrus.Fields{
		"storage": cfg.StorageDriver.String(),
		"broker":  cfg.MQDriver.String(),
	}).Debug("container ready")
	return c, nil
}

func createMessageBroker(cfg *config.QueueConfig, sqlDB *sql.DB, redisClient *redis.Client, logger *logrus.Entry) (message_broaker.MessageBroker, error) {
	switch cfg.MQDriver {
	case config.PostgresNotify:
		if sqlDB == nil {
			return nil, fmt.Errorf("postgres notifications need postgres storage")
		}
		return message_broaker.NewPostgres(sqlDB, cfg.PostgresConfig.ConnectionUrl, logger), nil
	case config.Redis:
		return message_broaker.NewRedis(redisClient, cfg.RedisConfig.ChannelPrefix), nil
	case config.RabbitMQ:
		return message_broaker.NewRabbitMQ(cfg.RabbitMQConfig.URL, cfg.RabbitMQConfig.ExchangePrefix)
	case config.NATS:
		return message_broaker.NewNATS(cfg.NATSConfig.URL, cfg.NATSConfig.SubjectPrefix, nats.Name(cfg.Instance))
	case config.InMemoryBroker:
		return message_broaker.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported message queue driver: %v", cfg.MQDriver)
	}
}
