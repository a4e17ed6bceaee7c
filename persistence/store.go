// Package persistence opens the vector.Store backend named by the config.
package persistence

import (
	"context"
	"fmt"

	"github.com/flarexio/faceblade/persistence/chromem"
	"github.com/flarexio/faceblade/persistence/memory"
	"github.com/flarexio/faceblade/persistence/pgvector"
	"github.com/flarexio/faceblade/persistence/qdrant"
	"github.com/flarexio/faceblade/vector"
)

func NewStore(ctx context.Context, cfg vector.Config) (vector.Store, error) {
	switch cfg.Driver {
	case vector.DriverMemory:
		return memory.NewMemoryStore(), nil

	case "", vector.DriverChromem:
		return chromem.NewChromemVectorDB(cfg)

	case vector.DriverPGVector:
		return pgvector.NewPGVectorStore(ctx, cfg)

	case vector.DriverQdrant:
		return qdrant.NewQdrantStore(cfg)

	default:
		return nil, fmt.Errorf("%w: unknown vector driver %q", vector.ErrInvalidConfig, cfg.Driver)
	}
}
