package llm

import (
	"context"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSON asks the backend to return a single JSON object as content.
	JSON bool
}

type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

// Completer is a structured-extraction backend.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
	DefaultModel() string
}
