package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbit-ai/chat-with-data/pkg/logger"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:      baseURL,
		ServiceName:  "Vanna AI",
		ProbeTimeout: 50 * time.Millisecond,
		QueryTimeout: 100 * time.Millisecond,
	}, logger.NewNop())
}

func stall(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(2 * time.Second):
	}
}

func requireCategory(t *testing.T, err error, want Category) *Error {
	t.Helper()
	ue, ok := AsError(err)
	require.True(t, ok, "expected *upstream.Error, got %v", err)
	assert.Equal(t, want, ue.Category)
	return ue
}

func TestQuerySuccess(t *testing.T) {
	var got queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sql":"SELECT vendor, total FROM invoices","data":[{"vendor":"Acme","total":"100"}],"message":"1 vendor","chartType":"bar"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Query(context.Background(), "spend by vendor", false)
	require.NoError(t, err)

	assert.Equal(t, "spend by vendor", got.Question)
	assert.False(t, got.FetchAll)
	assert.Equal(t, "SELECT vendor, total FROM invoices", res.SQL)
	assert.Equal(t, "1 vendor", res.Message)
	assert.Equal(t, "bar", res.ChartType)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"vendor", "total"}, res.Rows[0].Columns())
}

func TestQueryFetchAllFlagAndMissingData(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(`{"sql":"SELECT 1"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Query(context.Background(), "everything", true)
	require.NoError(t, err)

	assert.Equal(t, true, raw["fetchAll"])
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
}

func TestQueryHTTPErrorBodies(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail field", 500, `{"detail":"Failed to generate SQL: boom"}`, "Vanna AI service error: Failed to generate SQL: boom"},
		{"error field", 400, `{"error":"bad question"}`, "Vanna AI service error: bad question"},
		{"structured detail", 422, `{"detail":[{"loc":["body","question"]}]}`, `Vanna AI service error: [{"loc":["body","question"]}]`},
		{"other object", 500, `{"code":7}`, `Vanna AI service error: {"code":7}`},
		{"raw text", 502, "Bad Gateway", "Vanna AI service error: Bad Gateway"},
		{"empty body", 503, "", "Vanna AI service error: HTTP 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Query(context.Background(), "q", false)
			ue := requireCategory(t, err, CategoryHTTP)
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.Equal(t, tt.want, ue.Message)
		})
	}
}

func TestQueryTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(stall))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Query(context.Background(), "slow", false)
	requireCategory(t, err, CategoryTimeout)
}

func TestQueryConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Query(context.Background(), "q", false)
	requireCategory(t, err, CategoryConnectionRefused)
}

func TestQueryInvalidJSONIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Query(context.Background(), "q", false)
	requireCategory(t, err, CategoryUnknown)
}

func TestQueryAbandonedReturnsContextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(stall))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(srv.URL).Query(ctx, "q", false)
	assert.ErrorIs(t, err, context.Canceled)
	_, classified := AsError(err)
	assert.False(t, classified)
}

func TestProbe(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"healthy"}`))
		}))
		defer srv.Close()

		status, err := newTestClient(srv.URL).Probe(context.Background())
		require.NoError(t, err)
		assert.True(t, status.OK)
		assert.Equal(t, http.StatusOK, status.StatusCode)
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(stall))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Probe(context.Background())
		requireCategory(t, err, CategoryUnavailable)
	})

	t.Run("non-2xx is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Probe(context.Background())
		ue := requireCategory(t, err, CategoryUnavailable)
		assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
	})

	t.Run("refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := newTestClient(url).Probe(context.Background())
		requireCategory(t, err, CategoryConnectionRefused)
	})

	t.Run("dropped connection is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, _, err := http.NewResponseController(w).Hijack()
			if assert.NoError(t, err) {
				conn.Close()
			}
		}))
		defer srv.Close()

		status, err := newTestClient(srv.URL).Probe(context.Background())
		ue := requireCategory(t, err, CategoryUnavailable)
		assert.Contains(t, ue.Message, "health check failed")
		assert.NotEmpty(t, status.Error)
	})
}

func TestDiagnoseTruncatesBody(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(long)
	}))
	defer srv.Close()

	status := newTestClient(srv.URL).Diagnose(context.Background())
	assert.False(t, status.OK)
	assert.Equal(t, http.StatusInternalServerError, status.StatusCode)
	assert.Len(t, status.Body, 2000)
	assert.Equal(t, srv.URL+"/health", status.URL)
}

func TestTruncateKeepsCharacters(t *testing.T) {
	long := strings.Repeat("é", maxDiagnosticBody+1)

	got := truncate(long, maxDiagnosticBody)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxDiagnosticBody, utf8.RuneCountInString(got))

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
}
