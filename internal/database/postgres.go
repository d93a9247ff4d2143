package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
// Used throughout the database package for parameterized queries.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// Database implements store.Store backed by PostgreSQL. Apply, rollback and
// request creation run inside serializable-enough transactions (row locks on
// the skill row) so per-skill lifecycle transitions are linearizable.
type Database struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL-backed version store.
func NewPostgres(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// initSchema creates the version store tables. Table names match the original
// platform schema so the grading pipeline can keep writing aggregate scores.
func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS skill_registry (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		skill_type TEXT,
		current_system_instruction TEXT NOT NULL,
		current_user_prompt_template TEXT NOT NULL,
		current_version INTEGER NOT NULL DEFAULT 1,
		total_grades INTEGER NOT NULL DEFAULT 0,
		avg_overall_score REAL,
		avg_relevance REAL,
		avg_accuracy REAL,
		avg_completeness REAL,
		avg_clarity REAL,
		avg_actionability REAL,
		avg_professionalism REAL,
		recent_feedback JSONB,
		min_grades_for_improvement INTEGER NOT NULL DEFAULT 50,
		improvement_threshold REAL NOT NULL DEFAULT 3.5,
		improvement_pending BOOLEAN NOT NULL DEFAULT false,
		improvement_count INTEGER NOT NULL DEFAULT 0,
		last_improved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS skill_improvement_requests (
		id TEXT PRIMARY KEY,
		skill_id TEXT NOT NULL REFERENCES skill_registry(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'pending',
		trigger_reason TEXT NOT NULL,
		score_snapshot JSONB NOT NULL,
		sample_feedback JSONB,
		proposed_system_instruction TEXT,
		proposed_user_prompt_template TEXT,
		improvement_rationale TEXT,
		reviewed_by TEXT,
		reviewed_at TIMESTAMPTZ,
		review_notes TEXT,
		triggered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS skill_version_history (
		skill_id TEXT NOT NULL REFERENCES skill_registry(id) ON DELETE CASCADE,
		version_number INTEGER NOT NULL,
		system_instruction TEXT NOT NULL,
		user_prompt_template TEXT NOT NULL,
		improvement_request_id TEXT,
		change_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (skill_id, version_number)
	);

	CREATE INDEX IF NOT EXISTS idx_requests_skill_id ON skill_improvement_requests(skill_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON skill_improvement_requests(status);
	CREATE INDEX IF NOT EXISTS idx_history_skill_id ON skill_version_history(skill_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// withTx runs fn in a transaction, rolling back on error.
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return data, nil
}
