// Package store persists run history and a threat archive in PostgreSQL.
// It is optional at runtime: the service runs without it, and store
// failures are never surfaced to a request.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/madcti/cti-go/internal/cti"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pruneAfter bounds how long finished runs are retained.
const pruneAfter = 30 * 24 * time.Hour

// Store wraps a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	ID              string    `json:"id"`
	Query           string    `json:"query"`
	TimeRange       string    `json:"time_range"`
	RawCount        int       `json:"raw_count"`
	ClassifiedCount int       `json:"classified_count"`
	PredictedCount  int       `json:"predicted_count"`
	DominantType    string    `json:"dominant_type"`
	SkippedStages   []string  `json:"skipped_stages"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// Connect opens the pool against dsn and runs migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	st := &Store{pool: pool, logger: logger}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (st *Store) migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("store: read migration: %w", err)
	}
	if _, err := st.pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("store: exec migration: %w", err)
	}
	st.logger.Info("store migrated")
	return nil
}

// Close shuts down the connection pool.
func (st *Store) Close() { st.pool.Close() }

// InsertRun persists one run summary.
func (st *Store) InsertRun(ctx context.Context, r *RunRecord) error {
	_, err := st.pool.Exec(ctx,
		`INSERT INTO runs (id, query, time_range, raw_count, classified_count, predicted_count,
		                   dominant_type, skipped_stages, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.Query, r.TimeRange, r.RawCount, r.ClassifiedCount, r.PredictedCount,
		r.DominantType, r.SkippedStages, r.DurationMS)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (st *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := st.pool.Query(ctx,
		`SELECT id, query, time_range, raw_count, classified_count, predicted_count,
		        dominant_type, skipped_stages, duration_ms, created_at
		 FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Query, &r.TimeRange, &r.RawCount, &r.ClassifiedCount,
			&r.PredictedCount, &r.DominantType, &r.SkippedStages, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ArchiveThreats batch-inserts the normalized threats of a run.
func (st *Store) ArchiveThreats(ctx context.Context, runID string, threats []cti.Threat) error {
	if len(threats) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range threats {
		batch.Queue(
			`INSERT INTO threat_archive (run_id, threat_id, title, threat_type, severity,
			                             source, event_date, confidence, predicted)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			runID, t.ID, t.Title, t.ThreatType, t.Severity, t.Source, t.Date, t.Confidence, t.Predicted)
	}

	br := st.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range threats {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: archive threat: %w", err)
		}
	}
	return nil
}

// PruneLoop deletes runs older than the retention window once an hour.
// It blocks until ctx is cancelled.
func (st *Store) PruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-pruneAfter)
			tag, err := st.pool.Exec(ctx, `DELETE FROM runs WHERE created_at < $1`, cutoff)
			if err != nil {
				st.logger.Warn("run prune failed", "err", err)
				continue
			}
			if tag.RowsAffected() > 0 {
				st.logger.Info("pruned old runs", "deleted", tag.RowsAffected())
			}
		}
	}
}
