package config

import (
	"time"

	"github.com/RezaEskandarii/pgqueue/internal/constants"
)

const (
	DefaultStorageDriver      = Postgres
	DefaultMessageQueueDriver = PostgresNotify
	DefaultPollInterval       = constants.DefaultPollInterval
	DefaultMaxJobTimeout      = constants.DefaultJobTimeout
	DefaultLeaseGrace         = constants.DefaultLeaseGrace
	DefaultRedisChannelPrefix = "pgqueue:"
	DefaultExchangePrefix     = "pgqueue."
	DefaultSubjectPrefix      = "pgqueue."
)

// minPollInterval keeps a misconfigured loop from spinning against the store.
const minPollInterval = 10 * time.Millisecond
