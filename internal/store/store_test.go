package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbit-ai/chat-with-data/internal/model"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	b, err := OpenBolt(filepath.Join(t.TempDir(), "nested", "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"bolt":   b,
	}
}

func sampleTurns(t *testing.T) []model.Turn {
	t.Helper()
	var rows []model.Row
	require.NoError(t, json.Unmarshal([]byte(`[{"vendor":"Acme","total":"100"},{"vendor":"Beta","total":50}]`), &rows))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []model.Turn{
		{ID: "1", Role: model.RoleUser, Content: "spend by vendor", CreatedAt: at},
		{
			ID:          "2",
			Role:        model.RoleAssistant,
			Content:     "Results found\n\nTotals: total: €150",
			SQL:         "SELECT vendor, total FROM t",
			Rows:        rows,
			Totals:      []model.ColumnTotal{{Column: "total", Total: 150}},
			Suggestions: []string{"Show totals grouped by vendor"},
			CreatedAt:   at.Add(time.Second),
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			turns := sampleTurns(t)
			require.NoError(t, SaveTurns(ctx, s, "ns", turns))

			got, err := LoadTurns(ctx, s, "ns")
			require.NoError(t, err)

			want, _ := json.Marshal(turns)
			have, _ := json.Marshal(got)
			assert.JSONEq(t, string(want), string(have))
			assert.Equal(t, []string{"vendor", "total"}, got[1].Rows[0].Columns())
		})
	}
}

func TestStoreMissingKeyIsEmptyLog(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(ctx, "absent")
			assert.ErrorIs(t, err, ErrNotFound)

			turns, err := LoadTurns(ctx, s, "absent")
			require.NoError(t, err)
			assert.NotNil(t, turns)
			assert.Empty(t, turns)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, SaveTurns(ctx, s, "ns", sampleTurns(t)))
			require.NoError(t, s.Delete(ctx, "ns"))
			require.NoError(t, s.Delete(ctx, "ns"))

			turns, err := LoadTurns(ctx, s, "ns")
			require.NoError(t, err)
			assert.Empty(t, turns)
		})
	}
}

func TestBoltSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, SaveTurns(ctx, b, "ns", sampleTurns(t)))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()

	turns, err := LoadTurns(ctx, b, "ns")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "spend by vendor", turns[0].Content)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
}

func TestLoadTurnsRejectsCorruptData(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Save(ctx, "ns", []byte("{not json")))

	_, err := LoadTurns(ctx, s, "ns")
	assert.Error(t, err)
}
