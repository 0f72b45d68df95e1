package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/gatewayd/internal/dialogue"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Remote is the "remote vector memory" provider: dialogue turns are
// persisted to Postgres (with a pgvector embedding column reserved for a
// future embeddings provider) and Query returns the most recent turns for
// the user as a single context blob. No embeddings provider is wired in
// this build, so the embedding column stays NULL and retrieval falls back
// to recency rather than semantic similarity (see the memory Open Question
// entry in the project's grounding notes).
type Remote struct {
	pool *pgxpool.Pool
}

func NewRemote(ctx context.Context, databaseURL string) (*Remote, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory: connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Remote{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		`CREATE TABLE IF NOT EXISTS memory_turns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(1536),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_turns_user_created ON memory_turns (user_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory: init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Save persists every non-system message in the dialogue as one row each.
func (r *Remote) Save(ctx context.Context, userID string, d *dialogue.Dialogue) error {
	for _, msg := range d.Messages() {
		if msg.Role == dialogue.RoleSystem || msg.Content == "" {
			continue
		}
		_, err := r.pool.Exec(ctx,
			`INSERT INTO memory_turns (id, user_id, role, content) VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), userID, string(msg.Role), msg.Content,
		)
		if err != nil {
			return fmt.Errorf("memory: save turn: %w", err)
		}
	}
	return nil
}

// Query returns the user's most recent turns, oldest first, joined into a
// single context blob for seeding a new dialogue's memory. query is
// accepted for interface parity with a future embeddings-backed lookup but
// is currently unused.
func (r *Remote) Query(ctx context.Context, userID, _ string) (string, error) {
	const limit = 10
	rows, err := r.pool.Query(ctx,
		`SELECT role, content FROM memory_turns WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return "", fmt.Errorf("memory: query recent turns: %w", err)
	}
	defer rows.Close()

	type turn struct{ role, content string }
	var turns []turn
	for rows.Next() {
		var t turn
		if err := rows.Scan(&t.role, &t.content); err != nil {
			return "", fmt.Errorf("memory: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("memory: iterate turns: %w", err)
	}

	var b strings.Builder
	for i := len(turns) - 1; i >= 0; i-- {
		b.WriteString(turns[i].role)
		b.WriteString(": ")
		b.WriteString(turns[i].content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func (r *Remote) Close() error {
	r.pool.Close()
	return nil
}
