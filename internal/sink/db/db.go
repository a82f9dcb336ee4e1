// Package db implements the row sink: one JSONB row per flushed event,
// written through database/sql against PostgreSQL via lib/pq.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tracer-cloud/tracerd/internal/types"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS batch_jobs_logs (
	id SERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	data JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertSQL = `INSERT INTO batch_jobs_logs (job_id, data) VALUES ($1, $2)`

// maxOpenConns bounds the connection pool opened by Open.
const maxOpenConns = 100

// Sink writes a batch of events to the batch_jobs_logs table inside a
// single transaction per flush. Postgres/lib-pq is the relational analog
// of the source system's sqlx::PgPool row sink.
type Sink struct {
	db *sql.DB
}

// Open connects to dsn and ensures batch_jobs_logs exists.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	conn.SetMaxOpenConns(maxOpenConns)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, createTableSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: create table: %w", err)
	}
	return &Sink{db: conn}, nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Write inserts one row per event, all within a single transaction. runName
// becomes job_id; it falls back to "anonymous" when no run is active, so
// events recorded outside a run still land somewhere queryable.
func (s *Sink) Write(ctx context.Context, events []types.Event, runName string) error {
	if len(events) == 0 {
		return nil
	}
	if runName == "" {
		runName = "anonymous"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("db: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, event := range events {
		raw, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("db: marshal event %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, runName, raw); err != nil {
			return fmt.Errorf("db: insert event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db: commit transaction: %w", err)
	}
	return nil
}
