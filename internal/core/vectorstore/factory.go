package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/markdave123-py/ragline/internal/config"
)

// NewStore selects the configured backend. The Qdrant REST client is the
// default; pgvector serves deployments that already run Postgres.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.VectorStoreBackend {
	case "", "qdrant":
		return NewQdrant(QdrantConfig{
			URL:     cfg.VectorStoreURL,
			APIKey:  cfg.VectorStoreAPIKey,
			Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
			Logger:  logger,
		}), nil
	case "pgvector":
		return NewPGVector(ctx, cfg.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown vector store backend: %s", cfg.VectorStoreBackend)
	}
}
