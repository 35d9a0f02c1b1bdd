// Command demo exercises a single-keyspace pool of identity-tagged
// connections: each created instance gets a uuid, which is logged when the
// connection is borrowed.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marrow-dev/corepool/pool"
)

// conn stands in for an expensive resource (a DB handle, a socket) worth
// pooling. id is stamped once at creation and never changes.
type conn struct {
	id      uuid.UUID
	opened  time.Time
	healthy bool
}

type connFactory struct {
	pool.BaseFactory[conn]
}

func (connFactory) Create(ctx context.Context) (*conn, error) {
	return &conn{id: uuid.New(), opened: time.Now(), healthy: true}, nil
}

func (connFactory) Validate(ctx context.Context, c *conn) bool {
	return c.healthy
}

func (connFactory) Destroy(ctx context.Context, c *conn, mode pool.DestroyMode) error {
	return nil
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg := pool.DefaultConfig[conn](connFactory{})
	cfg.MaxTotal = 4
	cfg.MinIdle = 1
	cfg.TestOnBorrow = true
	cfg.LogAbandoned = true
	cfg.RemoveAbandonedOnBorrow = true
	cfg.RemoveAbandonedTimeout = 30 * time.Second
	cfg.Logger = logger

	p, err := pool.NewPool(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("demo: failed to construct pool")
	}
	defer p.Close()

	ctx := context.Background()
	if err := p.PreparePool(ctx); err != nil {
		logger.Fatal().Err(err).Msg("demo: failed to warm pool")
	}

	c, err := p.Borrow(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("demo: borrow failed")
	}
	logger.Info().Str("conn", c.id.String()).Msg("borrowed connection")

	if err := p.Return(c); err != nil {
		logger.Fatal().Err(err).Msg("demo: return failed")
	}
	logger.Info().Interface("stats", p.Stats()).Msg("pool stats after round-trip")
}
