package config

import "fmt"

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	Memory
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case Memory:
		return "memory"
	}
	return "unknown"
}

// UnmarshalText lets the driver be read from environment variables.
func (d *StorageDriver) UnmarshalText(text []byte) error {
	switch string(text) {
	case "postgres":
		*d = Postgres
	case "memory":
		*d = Memory
	default:
		return fmt.Errorf("unknown storage driver %q", text)
	}
	return nil
}

// MessageQueueDriver selects the transport for wake-up notifications.
type MessageQueueDriver int

const (
	PostgresNotify MessageQueueDriver = iota + 1
	Redis
	RabbitMQ
	NATS
	InMemoryBroker
)

func (d MessageQueueDriver) String() string {
	switch d {
	case PostgresNotify:
		return "postgres"
	case Redis:
		return "redis"
	case RabbitMQ:
		return "rabbitmq"
	case NATS:
		return "nats"
	case InMemoryBroker:
		return "memory"
	default:
		return "unknown"
	}
}

func (d *MessageQueueDriver) UnmarshalText(text []byte) error {
	for _, candidate := range []MessageQueueDriver{PostgresNotify, Redis, RabbitMQ, NATS, InMemoryBroker} {
		if candidate.String() == string(text) {
			*d = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown message queue driver %q", text)
}
