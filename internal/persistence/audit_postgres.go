package persistence

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/taskmesh/engine/internal/model"
)

// PostgresAuditLog mirrors every lifecycle transition to a Postgres table,
// independent of the snapshot/recovery path: snapshots capture current
// state, this captures history that outlives snapshot retention.
type PostgresAuditLog struct {
	db *sql.DB
}

// NewPostgresAuditLog opens a connection pool against dsn and ensures the
// audit table exists.
func NewPostgresAuditLog(dsn string) (*PostgresAuditLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, model.NewPersistenceError("persistence.audit", "open", err)
	}
	if err := db.Ping(); err != nil {
		return nil, model.NewPersistenceError("persistence.audit", "ping", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS task_transitions (
	id          BIGSERIAL PRIMARY KEY,
	task_id     TEXT NOT NULL,
	task_name   TEXT NOT NULL,
	from_state  TEXT NOT NULL,
	to_state    TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, model.NewPersistenceError("persistence.audit", "migrate", err)
	}

	return &PostgresAuditLog{db: db}, nil
}

// Record inserts one transition row. Errors are the caller's to log; a
// failed audit write must never block or roll back the transition itself.
func (a *PostgresAuditLog) Record(ctx context.Context, task *model.Task, from, to model.State) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO task_transitions (task_id, task_name, from_state, to_state) VALUES ($1, $2, $3, $4)`,
		task.ID, task.Name, string(from), string(to),
	)
	if err != nil {
		return model.NewPersistenceError("persistence.audit", "record", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (a *PostgresAuditLog) Close() error {
	return a.db.Close()
}
