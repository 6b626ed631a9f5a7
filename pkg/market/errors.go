package market

import (
	"errors"
	"strings"
)

// Expected domain failures. Services return these (wrapped) as values; the
// API layer maps them to response codes. Anything not in this list reaching a
// caller is a programming or infrastructure error.
var (
	// ErrNotFound means the referenced tool id is unknown.
	ErrNotFound = errors.New("market: tool not found")

	// ErrToolInactive means the tool exists but has been deactivated.
	ErrToolInactive = errors.New("market: tool is inactive")

	// ErrEmbeddingUnavailable means the embedding collaborator failed.
	// Registration and updates abort on it — a definition without a vector
	// would be permanently undiscoverable, so nothing is persisted.
	ErrEmbeddingUnavailable = errors.New("market: embedding service unavailable")

	// ErrEmptyQuery means a search query was empty after trimming.
	ErrEmptyQuery = errors.New("market: search query is empty")

	// ErrExecutionFailed means the outbound call failed terminally after the
	// retry budget was exhausted.
	ErrExecutionFailed = errors.New("market: tool execution failed")

	// ErrDuplicateID means a store insert collided on tool id. Ids are
	// random UUIDs, so this indicates a bug or a replayed insert.
	ErrDuplicateID = errors.New("market: duplicate tool id")
)

// ValidationError reports the full set of parameter validation failures for
// one execute call. All declared parameters are checked before aborting so a
// caller can fix everything in one round trip.
type ValidationError struct {
	Issues []string
}

// Error joins all field-level messages into one line.
func (e *ValidationError) Error() string {
	return "market: parameter validation failed: " + strings.Join(e.Issues, "; ")
}

// IsValidation reports whether err is (or wraps) a [ValidationError].
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
