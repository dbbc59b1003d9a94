package pkg

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or expired session ids
	ErrSessionNotFound = errors.New("session not found or expired")

	// ErrInvalidHistoryEntry marks a malformed history entry; skipped during replay, never surfaced
	ErrInvalidHistoryEntry = errors.New("invalid history entry")

	// ErrClassification marks a failed model classification; recovered with the fallback category
	ErrClassification = errors.New("classification failed")

	// ErrCompletionProvider wraps errors from the completion provider
	ErrCompletionProvider = errors.New("completion provider failure")

	// ErrConfiguration is fatal at startup
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidQuery is returned for empty or oversized queries
	ErrInvalidQuery = errors.New("invalid query")
)
