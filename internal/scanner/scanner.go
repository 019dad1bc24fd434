// Package scanner parses local activity logs into normalized token-usage
// events. Each provider family has its own on-disk layout and record schema;
// both converge on Entry.
package scanner

import (
	"github.com/kabilan/claude-bar/internal/model"
	"github.com/kabilan/claude-bar/internal/pricing"
)

// Entry is one normalized token-usage event: what a model consumed on a
// given day. Ephemeral, never persisted.
type Entry struct {
	Date  model.Date
	Model string // already normalized
	Usage pricing.TokenUsage
}

// Scanner walks a provider's activity-log tree and parses records within a
// date window. Implementations are stateless between calls and own only
// their configured root directories.
type Scanner interface {
	Provider() model.Provider
	Scan(since, until model.Date) ([]Entry, error)
}

// Aggregate groups entries by (date, model), summing the token categories.
func Aggregate(entries []Entry) map[AggregateKey]pricing.TokenUsage {
	out := make(map[AggregateKey]pricing.TokenUsage)
	for _, e := range entries {
		key := AggregateKey{Date: e.Date, Model: e.Model}
		usage := out[key]
		usage.Add(e.Usage)
		out[key] = usage
	}
	return out
}

// AggregateKey groups entries for pricing.
type AggregateKey struct {
	Date  model.Date
	Model string
}
