// Package store persists the conversation log as one JSON document under a
// fixed key. Backends only move bytes; encoding lives in this file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowbit-ai/chat-with-data/internal/model"
)

// ErrNotFound is returned by Load when nothing is stored under the key.
var ErrNotFound = errors.New("store: key not found")

// Store is a key-value backend for serialized conversations.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error

	// Name labels the backend in logs and metrics.
	Name() string
}

// LoadTurns reads the turn sequence stored under key. A missing key is an
// empty log, not an error.
func LoadTurns(ctx context.Context, s Store, key string) ([]model.Turn, error) {
	data, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return []model.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var turns []model.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	return turns, nil
}

// SaveTurns replaces the sequence stored under key.
func SaveTurns(ctx context.Context, s Store, key string, turns []model.Turn) error {
	if turns == nil {
		turns = []model.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := s.Save(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}
