// Package redis implements persistence.Persistence on Redis. Workflows and contacts are
// JSON documents, executions are Hashes guarded by WATCH transactions, and waiting
// executions are indexed in a Sorted Set by resume time.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/drip/pkg/persistence"
)

var _ persistence.Persistence = (*Persistence)(nil)

// Option configures the Persistence.
type Option func(*Persistence)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persistence) { p.logger = l.With("module", "redis") }
}

// Persistence implements the persistence layer backed by Redis.
type Persistence struct {
	client goredis.UniversalClient
	logger *slog.Logger
	owned  bool
}

// New wraps an existing client. The caller owns the client lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Persistence {
	p := &Persistence{client: client, logger: slog.Default().With("module", "redis")}
	for _, o := range opts {
		o(p)
	}

	return p
}

// NewPersistence connects to the Redis server at a redis:// URL and verifies the connection.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	options, err := goredis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	p := New(client, WithLogger(logger))
	p.owned = true

	return p, nil
}

// HealthCheck verifies the Redis connection is alive.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Close closes the client when it was opened by NewPersistence.
func (p *Persistence) Close(_ context.Context) error {
	if !p.owned {
		return nil
	}

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &WorkflowRepository{client: p.client, logger: p.logger}
}

func (p *Persistence) ContactRepository() persistence.ContactRepository {
	return &ContactRepository{client: p.client, logger: p.logger}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &ExecutionRepository{client: p.client, logger: p.logger}
}
