package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envOrderTopic                  = "STOREFRONT_ORDER_TOPIC"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

// envLookup абстрагирует os.LookupEnv для тестов.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv формирует конфигурацию приложения из переменных
// окружения. Невалидные значения не фатальны: поле остаётся дефолтным,
// а в warnings попадает описание проблемы.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q проигнорирован: %v", key, value, err))
	}

	if value, ok := lookup(envMetricsAddr); ok && strings.TrimSpace(value) != "" {
		cfg.MetricsAddr = strings.TrimSpace(value)
	}
	if value, ok := lookup(envStorageDriver); ok && strings.TrimSpace(value) != "" {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(strings.TrimSpace(value)))
	}
	if value, ok := lookup(envPostgresDSN); ok && strings.TrimSpace(value) != "" {
		cfg.PostgresDSN = strings.TrimSpace(value)
		// DSN без явного драйвера означает postgres.
		if _, driverSet := lookup(envStorageDriver); !driverSet {
			cfg.StorageDriver = app.StorageDriverPostgres
		}
	}
	if value, ok := lookup(envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(value); err != nil {
			warn(envPostgresAutoMigrate, value, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if value, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = strings.TrimSpace(value)
	}
	if value, ok := lookup(envOrderTopic); ok && strings.TrimSpace(value) != "" {
		cfg.OrderTopic = strings.TrimSpace(value)
	}
	if value, ok := lookup(envOutboxPollInterval); ok {
		if parsed, err := parseDuration(value, func(v time.Duration) bool { return v > 0 }, "must be > 0"); err != nil {
			warn(envOutboxPollInterval, value, err)
		} else {
			cfg.OutboxPollInterval = parsed
		}
	}
	if value, ok := lookup(envOutboxBatchSize); ok {
		if parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0"); err != nil {
			warn(envOutboxBatchSize, value, err)
		} else {
			cfg.OutboxBatchSize = parsed
		}
	}
	if value, ok := lookup(envOutboxMaxAttempts); ok {
		if parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0"); err != nil {
			warn(envOutboxMaxAttempts, value, err)
		} else {
			cfg.OutboxMaxAttempts = parsed
		}
	}
	if value, ok := lookup(envOutboxRetryDelay); ok {
		if parsed, err := parseDuration(value, func(v time.Duration) bool { return v >= 0 }, "must be >= 0"); err != nil {
			warn(envOutboxRetryDelay, value, err)
		} else {
			cfg.OutboxRetryDelay = parsed
		}
	}
	if value, ok := lookup(envIdempotencyCleanupInterval); ok {
		if parsed, err := parseDuration(value, func(v time.Duration) bool { return v > 0 }, "must be > 0"); err != nil {
			warn(envIdempotencyCleanupInterval, value, err)
		} else {
			cfg.IdempotencyCleanupInterval = parsed
		}
	}
	if value, ok := lookup(envIdempotencyCleanupBatchSize); ok {
		if parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0"); err != nil {
			warn(envIdempotencyCleanupBatchSize, value, err)
		} else {
			cfg.IdempotencyCleanupBatchSize = parsed
		}
	}

	return cfg, warnings
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value")
	}
}

func parseInt(value string, valid func(int) bool, constraint string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid int value: %w", err)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("%s", constraint)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, constraint string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %w", err)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("%s", constraint)
	}
	return parsed, nil
}

func main() {
	setupLogger()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.GetVersion(),
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"kafka":        cfg.KafkaBrokers != "",
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
