package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makeabledk/firebasevision/pkg/types"
)

// Schema is the SQL DDL for the detection_log table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS detection_log (
    id          UUID PRIMARY KEY,
    seq         BIGINT NOT NULL,
    provider    TEXT NOT NULL DEFAULT '',
    frame       JSONB NOT NULL,
    detections  JSONB NOT NULL DEFAULT '[]',
    error       TEXT NOT NULL DEFAULT '',
    latency_ms  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_detection_log_created ON detection_log(created_at DESC);
`

var columns = []string{"id", "seq", "provider", "frame", "detections", "error", "latency_ms", "created_at"}

// DB is the database interface used by [PostgresStore]. *pgxpool.Pool
// satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Frame metadata and
// detections are stored as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on db. Call
// [PostgresStore.Migrate] before the first write.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects a pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping checks connectivity when the underlying DB supports it.
func (s *PostgresStore) Ping(ctx context.Context) error {
	p, ok := s.db.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Save writes recs with a single COPY.
func (s *PostgresStore) Save(ctx context.Context, recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		frame, err := json.Marshal(r.Frame)
		if err != nil {
			return fmt.Errorf("store: marshal frame: %w", err)
		}
		dets := r.Detections
		if dets == nil {
			dets = []types.Detection{}
		}
		detJSON, err := json.Marshal(dets)
		if err != nil {
			return fmt.Errorf("store: marshal detections: %w", err)
		}
		rows = append(rows, []any{
			r.ID, int64(r.Seq), r.Provider, frame, detJSON, r.Error,
			float64(r.Latency) / float64(time.Millisecond), r.CreatedAt,
		})
	}

	n, err := s.db.CopyFrom(ctx, pgx.Identifier{"detection_log"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	if int(n) != len(recs) {
		return fmt.Errorf("store: save: wrote %d of %d records", n, len(recs))
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	const query = `
		SELECT id, seq, provider, frame, detections, error, latency_ms, created_at
		FROM detection_log
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                  Record
			seq                int64
			frameJSON, detJSON []byte
			latencyMS          float64
		)
		if err := rows.Scan(&r.ID, &seq, &r.Provider, &frameJSON, &detJSON, &r.Error, &latencyMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		if err := json.Unmarshal(frameJSON, &r.Frame); err != nil {
			return nil, fmt.Errorf("store: unmarshal frame: %w", err)
		}
		if err := json.Unmarshal(detJSON, &r.Detections); err != nil {
			return nil, fmt.Errorf("store: unmarshal detections: %w", err)
		}
		r.Seq = uint64(seq)
		r.Latency = time.Duration(latencyMS * float64(time.Millisecond))
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return out, nil
}
