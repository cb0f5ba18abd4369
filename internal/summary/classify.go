package summary

import "strings"

// Tag names a column trait inferred from its name.
type Tag string

const (
	TagVendor    Tag = "vendor"
	TagDate      Tag = "date"
	TagAggregate Tag = "aggregate"
	TagAverage   Tag = "average"
	TagSum       Tag = "sum"
)

// Classifier is a case-insensitive substring check on a column name.
type Classifier struct {
	Tag      Tag
	Keywords []string
}

// Match reports whether name contains any of the keywords.
func (c Classifier) Match(name string) bool {
	lower := strings.ToLower(name)
	for _, k := range c.Keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Classifiers are evaluated independently; a column may carry several tags.
// TagAverage and TagSum refine TagAggregate and are only consulted for
// aggregate-like columns.
var Classifiers = []Classifier{
	{Tag: TagVendor, Keywords: []string{"vendor"}},
	{Tag: TagDate, Keywords: []string{"date", "month", "year"}},
	{Tag: TagAggregate, Keywords: []string{"avg", "average", "mean", "sum", "total", "count", "min", "max", "median"}},
	{Tag: TagAverage, Keywords: []string{"avg", "average", "mean"}},
	{Tag: TagSum, Keywords: []string{"sum", "total"}},
}

// Classify returns the set of tags whose classifier matches name.
func Classify(name string) map[Tag]bool {
	tags := make(map[Tag]bool, len(Classifiers))
	for _, c := range Classifiers {
		if c.Match(name) {
			tags[c.Tag] = true
		}
	}
	return tags
}
