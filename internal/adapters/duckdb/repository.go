package duckdb

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/agentcore/internal/core/ports"
	"github.com/manthysbr/agentcore/internal/core/services"
)

// Repository keeps agent state and completed traces in a single DuckDB file.
type Repository struct {
	db *sql.DB
}

var (
	_ ports.StateStore         = (*Repository)(nil)
	_ ports.AgentLister        = (*Repository)(nil)
	_ services.TraceRepository = (*Repository)(nil)
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agent_states (
		id         VARCHAR PRIMARY KEY,
		goal       VARCHAR NOT NULL,
		turn_count INTEGER NOT NULL,
		state      VARCHAR NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS traces (
		id           VARCHAR PRIMARY KEY,
		name         VARCHAR NOT NULL,
		status       VARCHAR NOT NULL,
		agent_id     VARCHAR,
		root_span_id VARCHAR NOT NULL,
		start_time   TIMESTAMP NOT NULL,
		end_time     TIMESTAMP,
		duration_ms  BIGINT,
		span_count   INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS spans (
		id          VARCHAR PRIMARY KEY,
		trace_id    VARCHAR NOT NULL,
		parent_id   VARCHAR,
		name        VARCHAR NOT NULL,
		kind        VARCHAR NOT NULL,
		status      VARCHAR NOT NULL,
		input       VARCHAR,
		output      VARCHAR,
		error       VARCHAR,
		model       VARCHAR,
		attributes  VARCHAR,
		start_time  TIMESTAMP NOT NULL,
		end_time    TIMESTAMP,
		duration_ms BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans(trace_id)`,
}

// NewRepository opens (or creates) the database at path and applies the
// schema. An empty path opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *Repository) migrate() error {
	for _, stmt := range migrations {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}
