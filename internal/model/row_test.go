package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowKeepsColumnOrder(t *testing.T) {
	var rows []Row
	err := json.Unmarshal([]byte(`[{"vendor":"Acme","total":100,"avg_total":null},{"vendor":"Beta","total":"50","avg_total":2.5}]`), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"vendor", "total", "avg_total"}, Header(rows))

	v, ok := rows[0].Get("total")
	require.True(t, ok)
	assert.Equal(t, json.Number("100"), v)

	v, ok = rows[0].Get("avg_total")
	require.True(t, ok)
	assert.Nil(t, v)

	out, err := json.Marshal(rows[1])
	require.NoError(t, err)
	assert.Equal(t, `{"vendor":"Beta","total":"50","avg_total":2.5}`, string(out))
}

func TestRowDuplicateKeyKeepsFirstPosition(t *testing.T) {
	var r Row
	require.NoError(t, json.Unmarshal([]byte(`{"a":1,"b":2,"a":3}`), &r))

	assert.Equal(t, []string{"a", "b"}, r.Columns())
	v, _ := r.Get("a")
	assert.Equal(t, json.Number("3"), v)
}

func TestRowRejectsNonObject(t *testing.T) {
	var r Row
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &r))
}

func TestLargeIntegerSurvivesRoundTrip(t *testing.T) {
	var r Row
	require.NoError(t, json.Unmarshal([]byte(`{"id":9007199254740993}`), &r))

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"id":9007199254740993}`, string(out))
}

func TestNewRowColumnsCopy(t *testing.T) {
	r := NewRow([]string{"x", "y"}, []any{"1", nil})
	cols := r.Columns()
	cols[0] = "mutated"

	assert.Equal(t, []string{"x", "y"}, r.Columns())
	assert.Equal(t, 2, r.Len())
}
