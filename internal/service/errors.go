package service

import "errors"

var (
	// ErrNotReady is returned by mutations before the log is restored.
	ErrNotReady = errors.New("conversation is not restored yet")

	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question must not be empty")

	// ErrNoSQL means the latest assistant turn carries no SQL.
	ErrNoSQL = errors.New("latest answer has no SQL")

	// ErrNothingToExport means there are no rows to render.
	ErrNothingToExport = errors.New("no rows to export")

	// ErrExplainUnavailable means no LLM provider is configured.
	ErrExplainUnavailable = errors.New("SQL explanation is not configured")
)

// IsClientError reports whether err describes the conversation state rather
// than a failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoSQL) || errors.Is(err, ErrNothingToExport) || errors.Is(err, ErrEmptyQuestion)
}
