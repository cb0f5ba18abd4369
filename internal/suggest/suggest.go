// Package suggest proposes follow-up questions for a query result.
package suggest

import (
	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/internal/summary"
)

// Fallback is attached to every failed turn.
var Fallback = []string{
	"Show me total spend this year",
	"List all tables available",
	"Show recent invoices",
}

// Rule inspects column profiles and returns the suggestions it contributes.
type Rule struct {
	Name  string
	Apply func(cols []summary.ColumnProfile) []string
}

// Rules run in order; their outputs are concatenated without sorting or
// deduplication.
var Rules = []Rule{
	{Name: "vendor", Apply: vendorRule},
	{Name: "date", Apply: dateRule},
	{Name: "aggregate", Apply: aggregateRule},
}

// Suggest returns the follow-ups for rows. It is deterministic and returns
// nil for an empty result.
func Suggest(rows []model.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	return FromProfiles(summary.Profile(rows))
}

// FromProfiles applies Rules to already computed profiles.
func FromProfiles(cols []summary.ColumnProfile) []string {
	var out []string
	for _, r := range Rules {
		out = append(out, r.Apply(cols)...)
	}
	return out
}

func vendorRule(cols []summary.ColumnProfile) []string {
	if hasCol(cols, func(c summary.ColumnProfile) bool { return c.IsVendorLike }) {
		return []string{"Show totals grouped by vendor"}
	}
	return nil
}

func dateRule(cols []summary.ColumnProfile) []string {
	if hasCol(cols, func(c summary.ColumnProfile) bool { return c.IsDateLike }) {
		return []string{"Plot this over time (monthly totals)"}
	}
	return nil
}

// aggregateRule drills into contributors when every column is already a
// statistic, and otherwise offers generic numeric follow-ups. A result
// mixing aggregate and plain columns takes the numeric branch.
func aggregateRule(cols []summary.ColumnProfile) []string {
	hasAverage := hasCol(cols, func(c summary.ColumnProfile) bool { return c.IsAverageLike })

	if len(cols) > 0 && everyCol(cols, func(c summary.ColumnProfile) bool { return c.IsAggregateLike }) {
		switch {
		case hasAverage:
			return []string{
				"Show raw invoice rows that form this average",
				"Show top 10 invoices by amount",
				"Also compute count of invoices and total sum",
			}
		case hasCol(cols, func(c summary.ColumnProfile) bool { return c.IsSumLike }):
			return []string{
				"Break down this total by vendor",
				"Break down this total by month",
				"Show top 10 contributors to this total",
			}
		default:
			return []string{"Show underlying data rows for more detail"}
		}
	}

	if !hasCol(cols, func(c summary.ColumnProfile) bool { return c.IsNumericLike }) {
		return nil
	}
	out := []string{"Show top 10 rows by amount"}
	if !hasAverage {
		out = append(out, "Compute averages for numeric columns")
	}
	return out
}

func hasCol(cols []summary.ColumnProfile, pred func(summary.ColumnProfile) bool) bool {
	for _, c := range cols {
		if pred(c) {
			return true
		}
	}
	return false
}

func everyCol(cols []summary.ColumnProfile, pred func(summary.ColumnProfile) bool) bool {
	for _, c := range cols {
		if !pred(c) {
			return false
		}
	}
	return true
}
