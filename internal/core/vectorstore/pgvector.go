package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGVector implements Store on Postgres with the pgvector extension. Each
// collection maps to one table plus a row in the registry table that pins its
// dimension.
type PGVector struct {
	db     *sql.DB
	logger *slog.Logger
}

var tableNameRe = regexp.MustCompile(`[^a-z0-9_]+`)

func NewPGVector(ctx context.Context, databaseURL string, logger *slog.Logger) (*PGVector, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	bootstrap := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name       text PRIMARY KEY,
			dimension  int  NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
	}
	for _, q := range bootstrap {
		if _, err := db.ExecContext(pingCtx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}

	return &PGVector{db: db, logger: logger}, nil
}

var _ Store = (*PGVector)(nil)

func (p *PGVector) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// tableFor maps a collection name to a safe table identifier.
func tableFor(collection string) string {
	name := tableNameRe.ReplaceAllString(strings.ToLower(collection), "_")
	return "vs_" + name
}

func (p *PGVector) EnsureCollection(ctx context.Context, name string, dimension int, forceRecreate bool) error {
	if dimension <= 0 {
		return &StoreError{Kind: KindBadDimension, Err: fmt.Errorf("invalid dimension %d", dimension)}
	}

	var existing int
	err := p.db.QueryRowContext(ctx,
		`SELECT dimension FROM vector_collections WHERE name = $1`, name).Scan(&existing)
	switch {
	case err == nil:
		if !forceRecreate {
			if existing == dimension {
				return nil
			}
			return &StoreError{Kind: KindBadDimension,
				Err: fmt.Errorf("collection %s has dimension %d, want %d", name, existing, dimension)}
		}
		if err := p.Delete(ctx, name); err != nil {
			p.logger.Warn("delete before recreate failed", "collection", name, "error", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// fall through to create
	default:
		return &StoreError{Kind: KindUnavailable, Err: err}
	}

	return p.createCollection(ctx, name, dimension)
}

func (p *PGVector) createCollection(ctx context.Context, name string, dimension int) error {
	table := tableFor(name)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id        uuid PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		payload   jsonb NOT NULL DEFAULT '{}'::jsonb
	)`, table, dimension)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return &StoreError{Kind: KindUnavailable, Err: fmt.Errorf("create table %s: %w", table, err)}
	}
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO vector_collections (name, dimension) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET dimension = EXCLUDED.dimension`, name, dimension); err != nil {
		return &StoreError{Kind: KindUnavailable, Err: fmt.Errorf("register collection: %w", err)}
	}
	return nil
}

func (p *PGVector) dimensionOf(ctx context.Context, collection string) (int, error) {
	var dim int
	err := p.db.QueryRowContext(ctx,
		`SELECT dimension FROM vector_collections WHERE name = $1`, collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &StoreError{Kind: KindNotFound, Err: fmt.Errorf("collection %s not found", collection)}
	}
	if err != nil {
		return 0, &StoreError{Kind: KindUnavailable, Err: err}
	}
	return dim, nil
}

func (p *PGVector) Upsert(ctx context.Context, collection string, points []Point) error {
	dim, err := p.dimensionOf(ctx, collection)
	if err != nil {
		return err
	}

	table := tableFor(collection)
	query := fmt.Sprintf(`INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`, table)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Kind: KindUnavailable, Err: err}
	}
	defer tx.Rollback()

	for _, pt := range points {
		if len(pt.Vector) != dim {
			return &StoreError{Kind: KindBadDimension,
				Err: fmt.Errorf("point %s has dimension %d, collection wants %d", pt.ID, len(pt.Vector), dim)}
		}
		payload, err := json.Marshal(pt.Payload)
		if err != nil {
			return &StoreError{Kind: KindOther, Err: err}
		}
		if _, err := tx.ExecContext(ctx, query, pt.ID, pgvector.NewVector(pt.Vector), payload); err != nil {
			return &StoreError{Kind: KindUnavailable, Err: fmt.Errorf("upsert point: %w", err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Kind: KindUnavailable, Err: err}
	}
	return nil
}

func (p *PGVector) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	if _, err := p.dimensionOf(ctx, collection); err != nil {
		return nil, err
	}
	if opts.K <= 0 {
		opts.K = 5
	}

	table := tableFor(collection)
	args := []any{pgvector.NewVector(vector)}
	query := fmt.Sprintf(`SELECT embedding, payload, 1 - (embedding <=> $1) AS score FROM %s`, table)
	if len(opts.Filter) > 0 {
		filter, err := json.Marshal(opts.Filter)
		if err != nil {
			return nil, &StoreError{Kind: KindOther, Err: err}
		}
		query += ` WHERE payload @> $2`
		args = append(args, filter)
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1 LIMIT %d`, opts.K)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Kind: KindUnavailable, Err: err}
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var emb pgvector.Vector
		var payload []byte
		var score float64
		if err := rows.Scan(&emb, &payload, &score); err != nil {
			return nil, &StoreError{Kind: KindOther, Err: err}
		}
		var bag map[string]any
		if err := json.Unmarshal(payload, &bag); err != nil {
			return nil, &StoreError{Kind: KindOther, Err: err}
		}
		res := SearchResult{Payload: bag, Score: score}
		if opts.WithVectors {
			res.Vector = emb.Slice()
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Kind: KindUnavailable, Err: err}
	}
	return results, nil
}

func (p *PGVector) Delete(ctx context.Context, collection string) error {
	table := tableFor(collection)
	if _, err := p.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return &StoreError{Kind: KindUnavailable, Err: err}
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM vector_collections WHERE name = $1`, collection); err != nil {
		return &StoreError{Kind: KindUnavailable, Err: err}
	}
	return nil
}

func (p *PGVector) Stats(ctx context.Context, collection string) (CollectionStats, error) {
	dim, err := p.dimensionOf(ctx, collection)
	if err != nil {
		return CollectionStats{}, err
	}
	table := tableFor(collection)

	var points, size int64
	if err := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*), pg_total_relation_size('%s') FROM %s`, table, table)).Scan(&points, &size); err != nil {
		return CollectionStats{}, &StoreError{Kind: KindUnavailable, Err: err}
	}
	return CollectionStats{Points: points, SizeBytes: size, Dimension: dim, Status: "green"}, nil
}

func (p *PGVector) Collections(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM vector_collections ORDER BY name`)
	if err != nil {
		return nil, &StoreError{Kind: KindUnavailable, Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &StoreError{Kind: KindOther, Err: err}
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *PGVector) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := p.db.PingContext(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return HealthStatus{OK: false, LatencyMs: latency, Detail: err.Error()}
	}
	return HealthStatus{OK: true, LatencyMs: latency}
}
