package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/flowbit-ai/chat-with-data/internal/llm"
	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/pkg/logger"
)

// QuickActions are offered next to the latest SQL.
var QuickActions = []string{
	"Explain this SQL in plain language",
	"Visualize this as a time series chart",
}

const explainSystemPrompt = `You explain SQL queries to business users who do not read SQL.
Describe in a few short sentences what data the query returns, which filters and groupings it applies, and how results are ordered.
Do not rewrite the query and do not use SQL keywords in the explanation.`

// Context returns the SQL of the latest assistant turn with its quick
// actions. A failed latest turn yields an empty context.
func (s *ChatService) Context() (*model.ContextResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, ErrNotReady
	}

	ai, _ := s.lastAssistantLocked()
	if ai < 0 || s.turns[ai].SQL == "" {
		return &model.ContextResponse{}, nil
	}

	last := s.turns[ai]
	return &model.ContextResponse{
		SQL:       last.SQL,
		Actions:   append([]string(nil), QuickActions...),
		TotalRows: last.TotalRows,
	}, nil
}

// LastSQL returns the SQL of the latest assistant turn.
func (s *ChatService) LastSQL() (string, error) {
	c, err := s.Context()
	if err != nil {
		return "", err
	}
	if c.SQL == "" {
		return "", ErrNoSQL
	}
	return c.SQL, nil
}

// Explainer turns SQL into a plain-language description with an LLM.
type Explainer struct {
	client llm.Client
	model  string
	logger *logger.Logger
}

// NewExplainer creates an explainer. modelName may be empty to use the
// provider default.
func NewExplainer(client llm.Client, modelName string, log *logger.Logger) *Explainer {
	return &Explainer{
		client: client,
		model:  modelName,
		logger: log.Named("explain"),
	}
}

// Explain asks the LLM to describe sql.
func (e *Explainer) Explain(ctx context.Context, sql string) (*model.ExplainResponse, error) {
	if e == nil || e.client == nil {
		return nil, ErrExplainUnavailable
	}

	resp, err := e.client.Complete(ctx, &llm.CompletionRequest{
		Model:       e.model,
		System:      explainSystemPrompt,
		Messages:    []llm.ChatMessage{{Role: "user", Content: sql}},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		e.logger.Error("explanation failed", zap.String("provider", e.client.Name()), zap.Error(err))
		return nil, fmt.Errorf("failed to explain SQL: %w", err)
	}

	e.logger.Debug("explanation generated",
		zap.String("provider", e.client.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	return &model.ExplainResponse{
		SQL:         sql,
		Explanation: strings.TrimSpace(resp.Content),
		Model:       resp.Model,
	}, nil
}
