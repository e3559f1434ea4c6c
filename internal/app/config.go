package app

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers string
	OrderTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает базовые настройки: memory-хранилище,
// ops-сервер на :9090, воркеры с консервативными интервалами.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		OrderTopic:                  kafka.TopicOrderEvents,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            200 * time.Millisecond,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}
