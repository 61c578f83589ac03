package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists project transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			project_id TEXT NOT NULL,
			seq INT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (project_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, projectID string) ([]Turn, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM chat_turns WHERE project_id=$1 ORDER BY seq`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		r := Role(role)
		if r != RoleUser && r != RoleModel {
			return nil, fmt.Errorf("%w: stored role %q", ErrMalformed, role)
		}
		turns = append(turns, Turn{Role: r, Text: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	if turns == nil {
		return nil, ErrNotFound
	}
	return turns, nil
}

// Save replaces the whole transcript in one transaction, matching the
// overwrite semantics of the file driver.
func (s *PostgresStore) Save(ctx context.Context, projectID string, turns []Turn) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin save transcript: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chat_turns WHERE project_id=$1`, projectID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	for i, t := range turns {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_turns (project_id, seq, role, content) VALUES ($1, $2, $3, $4)`,
			projectID, i, string(t.Role), t.Text,
		); err != nil {
			return fmt.Errorf("insert transcript turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
