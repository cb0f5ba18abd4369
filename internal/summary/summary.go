// Package summary turns a tabular query result into a readable summary line
// and per-column profiles. Everything here is pure: rows are only read.
package summary

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/flowbit-ai/chat-with-data/internal/model"
)

// Placeholder is the summary used when the service sent no message.
const Placeholder = "Results found"

// ColumnProfile describes one result column. NumericSum is meaningful only
// when IsNumericLike is set.
type ColumnProfile struct {
	Name            string
	IsNumericLike   bool
	NumericSum      float64
	IsVendorLike    bool
	IsDateLike      bool
	IsAggregateLike bool
	IsAverageLike   bool
	IsSumLike       bool
}

// Summary is the output of Summarize.
type Summary struct {
	Content string
	Totals  []model.ColumnTotal
}

var printer = message.NewPrinter(language.AmericanEnglish)

// Profile classifies every column of rows, in header order.
func Profile(rows []model.Row) []ColumnProfile {
	header := model.Header(rows)
	profiles := make([]ColumnProfile, 0, len(header))

	for _, col := range header {
		tags := Classify(col)
		p := ColumnProfile{
			Name:            col,
			IsVendorLike:    tags[TagVendor],
			IsDateLike:      tags[TagDate],
			IsAggregateLike: tags[TagAggregate],
			IsAverageLike:   tags[TagAggregate] && tags[TagAverage],
			IsSumLike:       tags[TagAggregate] && tags[TagSum],
		}
		for _, r := range rows {
			v, ok := r.Get(col)
			if !ok {
				continue
			}
			if n, ok := NumericValue(v); ok {
				p.NumericSum += n
				p.IsNumericLike = true
			}
		}
		profiles = append(profiles, p)
	}

	return profiles
}

// Totals returns the sums of the numeric-like columns in header order.
func Totals(profiles []ColumnProfile) []model.ColumnTotal {
	var totals []model.ColumnTotal
	for _, p := range profiles {
		if p.IsNumericLike {
			totals = append(totals, model.ColumnTotal{Column: p.Name, Total: p.NumericSum})
		}
	}
	return totals
}

// Summarize builds the assistant text for a result. With no rows the
// content is the backend message, or Placeholder when there is none.
func Summarize(rows []model.Row, backendMessage string) Summary {
	content := backendMessage
	if content == "" {
		content = Placeholder
	}
	if len(rows) == 0 {
		return Summary{Content: content}
	}

	totals := Totals(Profile(rows))
	if len(totals) > 0 {
		parts := make([]string, len(totals))
		for i, t := range totals {
			parts[i] = t.Column + ": " + FormatCurrency(t.Total)
		}
		content += "\n\nTotals: " + strings.Join(parts, ", ")
	}

	return Summary{Content: content, Totals: totals}
}

// NumericValue reports the numeric value of v. Numbers count as they are;
// strings count when their trimmed text parses as a finite float.
func NumericValue(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatCurrency renders v as a euro amount with en-US grouping and no
// fractional digits, rounding half away from zero: 1234.5 -> "€1,235".
func FormatCurrency(v float64) string {
	r := math.Round(v)
	sign := ""
	if r < 0 {
		sign = "-"
		r = -r
	}
	if r < math.MaxInt64 {
		return sign + "€" + printer.Sprintf("%d", int64(r))
	}
	return sign + "€" + printer.Sprintf("%.0f", r)
}
