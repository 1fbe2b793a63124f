package backend

import (
	"context"
	"time"

	"bilancio/internal/ports"
)

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// BackendResult is the wired storage plus the optional event publisher.
type BackendResult struct {
	Store  ports.Store
	Events ports.EventPublisher // nil when events are disabled
	// Health reports whether the store is reachable.
	Health  func(ctx context.Context) error
	Cleanup CleanupFunc
}

type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath    string
	FeatureProbeTTL time.Duration

	// Events, shared by every backend
	AMQPURL           string
	AMQPExchange      string
	AMQPRoutingPrefix string
	AMQPDialAttempts  int
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
