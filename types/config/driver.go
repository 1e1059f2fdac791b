package config

import "fmt"

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	SQLite
	Memory
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	case Memory:
		return "memory"
	}
	return "unknown"
}

func ParseStorageDriver(name string) (StorageDriver, error) {
	for _, d := range []StorageDriver{Postgres, SQLite, Memory} {
		if d.String() == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown storage driver %q", name)
}

// BrokerDriver selects how tasks travel from the submitter to the workers.
type BrokerDriver int

const (
	// Inline runs tasks in the submitting process without a queue.
	Inline BrokerDriver = iota + 1
	InMemory
	RabbitMQ
	Redis
)

func (d BrokerDriver) String() string {
	switch d {
	case Inline:
		return "inline"
	case InMemory:
		return "memory"
	case RabbitMQ:
		return "rabbitmq"
	case Redis:
		return "redis"
	default:
		return "unknown"
	}
}

func ParseBrokerDriver(name string) (BrokerDriver, error) {
	for _, d := range []BrokerDriver{Inline, InMemory, RabbitMQ, Redis} {
		if d.String() == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown broker %q", name)
}

// SourceDriver selects where uploaded files are kept until imported.
type SourceDriver int

const (
	LocalDisk SourceDriver = iota + 1
	MinIO
)

func (d SourceDriver) String() string {
	switch d {
	case LocalDisk:
		return "local"
	case MinIO:
		return "minio"
	}
	return "unknown"
}
