// Package model defines data structures for the chat-with-data conversation.
package model

import (
	"time"
)

// Role represents the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation log. Turns are immutable once
// appended.
type Turn struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Query output (assistant turns built from a successful answer)
	SQL       string `json:"sql,omitempty"`
	Rows      []Row  `json:"rows,omitempty"`
	TotalRows int    `json:"total_rows,omitempty"`
	ChartType string `json:"chart_type,omitempty"`

	Totals      []ColumnTotal `json:"totals,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`

	// Set on assistant turns produced by an upstream failure.
	ErrorCategory string `json:"error_category,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ColumnTotal is the sum of the numeric values of one column.
type ColumnTotal struct {
	Column string  `json:"column"`
	Total  float64 `json:"total"`
}

// Clone returns a copy that shares no slices with t. Rows themselves are
// immutable and are shared.
func (t *Turn) Clone() Turn {
	c := *t
	c.Rows = cloneSlice(t.Rows)
	c.Totals = cloneSlice(t.Totals)
	c.Suggestions = cloneSlice(t.Suggestions)
	return c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Failed reports whether the turn records an upstream failure.
func (t *Turn) Failed() bool {
	return t.ErrorCategory != ""
}

// QueryResult is a successful answer from the upstream service.
type QueryResult struct {
	SQL       string `json:"sql"`
	Rows      []Row  `json:"data"`
	Message   string `json:"message,omitempty"`
	ChartType string `json:"chartType,omitempty"`
}

// HealthStatus is the outcome of an upstream liveness probe.
type HealthStatus struct {
	OK         bool          `json:"ok"`
	StatusCode int           `json:"status,omitempty"`
	Elapsed    time.Duration `json:"-"`
	ElapsedMs  int64         `json:"elapsed_ms"`
	URL        string        `json:"url"`
	Body       string        `json:"body,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// AskRequest is the body of a question submission.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse reports whether a submission was accepted.
type AskResponse struct {
	Accepted bool   `json:"accepted"`
	State    string `json:"state"`
	Turn     *Turn  `json:"turn,omitempty"`
}

// ListTurnsResponse is the ordered conversation log.
type ListTurnsResponse struct {
	Turns []Turn `json:"turns"`
	Total int    `json:"total"`
}

// ContextResponse backs the context panel: latest SQL and quick actions.
type ContextResponse struct {
	SQL       string   `json:"sql,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	TotalRows int      `json:"total_rows,omitempty"`
}

// ExplainResponse carries a plain-language explanation of SQL.
type ExplainResponse struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
	Model       string `json:"model,omitempty"`
}
