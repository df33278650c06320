package app

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	db     *sql.DB
	redis  *redis.Client
	logger *logrus.Entry
}

// WithDB injects a database connection instead of opening one from the config.
// The container's store takes ownership and closes it on Destroy.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a Redis client. Injected clients are left open on Destroy.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithLogger replaces the logger built from the config's log level and format.
func WithLogger(logger *logrus.Entry) ContainerOption {
	return func(c *containerConfig) {
		c.logger = logger
	}
}
