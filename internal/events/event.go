// Package events stores logged LLM calls and answers tenant-scoped queries
// over them.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one logged LLM call. Events are append-only; CostUSD is fixed at
// ingestion time from the price cache of that moment.
type Event struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	OrganizationID   string          `json:"organization_id"`
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	LatencyMs        int64           `json:"latency_ms"`
	Status           int             `json:"status"`
	Score            *float64        `json:"score"`
	CostUSD          float64         `json:"cost_usd"`
	Metadata         json.RawMessage `json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Store interface {
	// Insert writes the event and bumps the global event counter in one
	// transaction. CreatedAt is filled from the database.
	Insert(ctx context.Context, e *Event) error
	// List returns one page of q and the number of events matching q's
	// filters.
	List(ctx context.Context, q *Query) ([]*Event, int, error)
}
