package pricing

import (
	"fmt"
)

// ExtractionError reports a provider whose pricing page could not be turned
// into records. The orchestrator treats it as a soft failure.
type ExtractionError struct {
	Provider string
	Stage    string // "scrape", "extract" or "parse"
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s (%s): %v", e.Provider, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StorageError reports a failed read or write of the price table. It aborts
// the current run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
