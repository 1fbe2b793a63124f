package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	applog "bilancio/internal/log"
	"bilancio/internal/memory"
	"bilancio/internal/storage"
)

type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger.With(applog.FieldComponent, applog.ComponentBackend)}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	case MemoryBackend:
		result = f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	f.attachEvents(ctx, config, result)
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, storage.Options{
		FeatureProbeTTL: config.FeatureProbeTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	caches := cache.NewManager()
	caches.Register(repo.FeatureCache())
	interval := config.FeatureProbeTTL
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	caches.StartCleanup(interval)

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Store:  repo,
		Health: repo.Ping,
		Cleanup: func() error {
			caches.Stop()
			return repo.Close()
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() *BackendResult {
	f.logger.Info("Initialized memory backend")
	return &BackendResult{
		Store:   memory.New(),
		Health:  func(context.Context) error { return nil },
		Cleanup: func() error { return nil },
	}
}

// attachEvents adds the AMQP publisher when configured. A broker that
// cannot be reached leaves events disabled instead of failing startup.
func (f *DefaultFactory) attachEvents(ctx context.Context, config Config, result *BackendResult) {
	if config.AMQPURL == "" {
		return
	}
	client, err := amqp.NewClient(ctx, config.AMQPURL, config.AMQPExchange, config.AMQPRoutingPrefix, config.AMQPDialAttempts)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without events", applog.FieldError, err)
		return
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"routing_prefix", config.AMQPRoutingPrefix)

	result.Events = client
	storeCleanup := result.Cleanup
	result.Cleanup = func() error {
		var errs []error
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close amqp: %w", err))
		}
		if storeCleanup != nil {
			if err := storeCleanup(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
