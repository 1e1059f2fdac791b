package cmd

import (
	"strings"

	"github.com/RezaEskandarii/csvimport/types/config"
	"github.com/spf13/viper"
)

const envPrefix = "IMPORTER"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("instance", "csvimport")
	v.SetDefault("storage_driver", config.DefaultStorageDriver.String())
	v.SetDefault("sqlite_path", "csvimport.db")
	v.SetDefault("broker", config.DefaultBrokerDriver.String())
	v.SetDefault("queue", config.DefaultQueue)
	v.SetDefault("rabbitmq_queue", config.DefaultQueue)
	v.SetDefault("rabbitmq_prefetch", config.DefaultRabbitPrefetch)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("upload_dir", config.DefaultUploadDir)
	v.SetDefault("minio_region", "us-east-1")
	v.SetDefault("worker_count", config.DefaultWorkerCount)
	v.SetDefault("max_attempts", config.DefaultMaxAttempts)
	v.SetDefault("delay_unit", config.DefaultDelayUnit)
	v.SetDefault("http_port", config.DefaultHTTPPort)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("stuck_after", config.DefaultStuckAfter)
	v.SetDefault("monitor_schedule", config.DefaultMonitorSchedule)
	return v
}

// loadConfig maps IMPORTER_* settings onto the config options. Every invalid
// setting is reported in one *custom_errors.ValidationError.
func loadConfig(v *viper.Viper) (*config.ImporterConfig, error) {
	var opts []config.ContainerOption

	storage, err := config.ParseStorageDriver(v.GetString("storage_driver"))
	if err != nil {
		opts = append(opts, failOption(err))
	} else {
		opts = append(opts, config.WithStorageDriver(storage))
		switch storage {
		case config.Postgres:
			opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: v.GetString("postgres_url")}))
		case config.SQLite:
			opts = append(opts, config.WithSQLiteConfig(config.SQLiteConfig{Path: v.GetString("sqlite_path")}))
		}
	}

	opts = append(opts, config.WithQueue(v.GetString("queue")))

	broker, err := config.ParseBrokerDriver(v.GetString("broker"))
	switch {
	case err != nil:
		opts = append(opts, failOption(err))
	case broker == config.RabbitMQ:
		opts = append(opts, config.WithRabbitMQConfig(config.RabbitMQConfig{
			URL:        v.GetString("rabbitmq_url"),
			Exchange:   v.GetString("rabbitmq_exchange"),
			Queue:      v.GetString("rabbitmq_queue"),
			RoutingKey: v.GetString("rabbitmq_routing_key"),
			Prefetch:   v.GetInt("rabbitmq_prefetch"),
		}))
	case broker == config.Redis:
		opts = append(opts, config.WithRedisConfig(config.RedisConfig{
			Address:  v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		}))
	default:
		opts = append(opts, config.WithBroker(broker))
	}
	opts = append(opts, config.WithBrokerBestEffort(v.GetBool("broker_best_effort")))

	if bucket := v.GetString("minio_bucket"); bucket != "" {
		opts = append(opts, config.WithMinioConfig(config.MinioConfig{
			Endpoint:  v.GetString("minio_endpoint"),
			AccessKey: v.GetString("minio_access_key"),
			SecretKey: v.GetString("minio_secret_key"),
			Bucket:    bucket,
			Region:    v.GetString("minio_region"),
			UseSSL:    v.GetBool("minio_use_ssl"),
		}))
	} else {
		opts = append(opts, config.WithUploadDir(v.GetString("upload_dir")))
	}

	opts = append(opts,
		config.WithWorkerCount(v.GetInt("worker_count")),
		config.WithMaxAttempts(v.GetInt("max_attempts")),
		config.WithDelayUnit(v.GetDuration("delay_unit")),
		config.WithHTTPPort(v.GetUint("http_port")),
		config.WithStuckAfter(v.GetDuration("stuck_after")),
		config.WithMonitorSchedule(v.GetString("monitor_schedule")),
		config.WithLogging(v.GetString("log_level"), v.GetString("log_format")),
	)
	if columns := splitList(v.GetString("required_columns")); len(columns) > 0 {
		opts = append(opts, config.WithRequiredColumns(columns...))
	}

	return config.NewImporterConfig(v.GetString("instance"), opts...)
}

func failOption(err error) config.ContainerOption {
	return func(*config.ImporterConfig) error { return err }
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
