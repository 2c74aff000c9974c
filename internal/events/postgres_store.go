package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, e *Event) error {
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO llm_events (id, project_id, organization_id, provider, model, prompt_tokens, completion_tokens,
				latency_ms, status, score, cost_usd, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at
		`
		err := tx.QueryRow(ctx, query,
			e.ID, e.ProjectID, e.OrganizationID, e.Provider, e.Model, e.PromptTokens, e.CompletionTokens,
			e.LatencyMs, e.Status, e.Score, e.CostUSD, metadata,
		).Scan(&e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE global_stats SET total_events = total_events + 1, updated_at = now() WHERE id = 1`)
		if err != nil {
			return fmt.Errorf("failed to update global stats: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) List(ctx context.Context, q *Query) ([]*Event, int, error) {
	list, count, err := q.Build()
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, list.SQL, list.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var e Event
		err := rows.Scan(
			&e.ID, &e.ProjectID, &e.OrganizationID, &e.Provider, &e.Model, &e.PromptTokens, &e.CompletionTokens,
			&e.LatencyMs, &e.Status, &e.Score, &e.CostUSD, &e.Metadata, &e.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating events: %w", err)
	}

	var total int
	if err := s.db.QueryRow(ctx, count.SQL, count.Args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	return events, total, nil
}
