package config

import "time"

const (
	DefaultWorkerCount     = 5
	DefaultMaxAttempts     = 3
	DefaultStorageDriver   = Postgres
	DefaultBrokerDriver    = InMemory
	DefaultSourceDriver    = LocalDisk
	DefaultUploadDir       = "uploads"
	DefaultQueue           = "csvimport.tasks"
	DefaultHTTPPort        = 8080
	DefaultDelayUnit       = time.Second
	DefaultStuckAfter      = 15 * time.Minute
	DefaultMonitorSchedule = "@every 1m"
	DefaultRabbitPrefetch  = 10
)
