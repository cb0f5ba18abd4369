package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/pkg/metrics"
)

// Row sources reported by Export.
const (
	SourceRefetch = "refetch"
	SourceHeld    = "held"
)

// ExportFilename is the suggested download name.
const ExportFilename = "results.csv"

// Export is a rendered result set.
type Export struct {
	Data   []byte
	Rows   int
	Source string
}

// Export renders the latest result as CSV. The question behind the latest
// assistant turn is re-asked with fetchAll so the export is not limited to
// the inline preview; if that fails or comes back empty the rows held by the
// turn are used. The log is never modified.
func (s *ChatService) Export(ctx context.Context) (*Export, error) {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	ai, ui := s.lastAssistantLocked()
	if ai < 0 {
		s.mu.Unlock()
		return nil, ErrNothingToExport
	}
	last := s.turns[ai]
	var question string
	if ui >= 0 {
		question = s.turns[ui].Content
	}
	s.mu.Unlock()

	if last.SQL == "" {
		return nil, ErrNoSQL
	}

	rows, source := last.Rows, SourceHeld
	if question != "" {
		fetched, err := s.refetch(ctx, question)
		switch {
		case err == nil && len(fetched) > 0:
			rows, source = fetched, SourceRefetch
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			s.logger.Warn("export re-fetch failed, using held rows",
				zap.Int("held_rows", len(last.Rows)),
				zap.Error(err),
			)
		}
	}

	if len(rows) == 0 {
		return nil, ErrNothingToExport
	}

	data, err := EncodeCSV(rows)
	if err != nil {
		return nil, err
	}
	metrics.ExportsTotal.WithLabelValues(source).Inc()

	return &Export{Data: data, Rows: len(rows), Source: source}, nil
}

// refetch coalesces concurrent exports of the same question into one call.
// It never takes the conversation lock, so it cannot block a submission.
func (s *ChatService) refetch(ctx context.Context, question string) ([]model.Row, error) {
	v, err, shared := s.exports.Do(question, func() (interface{}, error) {
		res, err := s.client.Query(ctx, question, true)
		if err != nil {
			return nil, err
		}
		return res.Rows, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("export re-fetch shared", zap.String("question", question))
	}
	rows, _ := v.([]model.Row)
	return rows, nil
}

// EncodeCSV writes rows as RFC 4180 CSV. The header comes from the first
// row; missing and null values are empty fields.
func EncodeCSV(rows []model.Row) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrNothingToExport
	}

	header := model.Header(rows)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range rows {
		for i, col := range header {
			v, _ := r.Get(col)
			record[i] = cellText(v)
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
