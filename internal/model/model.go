// Package model defines the value types shared by the monitoring engine:
// providers, rate windows, usage snapshots and cost snapshots.
package model

import "time"

// Provider identifies a monitored account.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
)

// All returns every known provider in a stable order.
func All() []Provider {
	return []Provider{ProviderClaude, ProviderCodex}
}

// Name returns the human-readable provider name.
func (p Provider) Name() string {
	switch p {
	case ProviderClaude:
		return "Claude Code"
	case ProviderCodex:
		return "Codex"
	default:
		return string(p)
	}
}

// DashboardURL returns the provider's billing/usage dashboard.
func (p Provider) DashboardURL() string {
	switch p {
	case ProviderClaude:
		return "https://console.anthropic.com/settings/billing"
	case ProviderCodex:
		return "https://chatgpt.com/"
	default:
		return ""
	}
}

// RateWindow is a single quota window. Immutable once constructed; a refresh
// replaces the whole snapshot.
type RateWindow struct {
	UsedPercent      float64 // 0.0..=1.0
	WindowMinutes    *int
	ResetsAt         *time.Time
	ResetDescription string
}

// RemainingPercent returns the unused fraction of the window.
func (w RateWindow) RemainingPercent() float64 {
	return 1.0 - w.UsedPercent
}

// IsHighUsage reports whether usage has reached the given threshold.
func (w RateWindow) IsHighUsage(threshold float64) bool {
	return w.UsedPercent >= threshold
}

func (w RateWindow) clone() RateWindow {
	out := w
	if w.WindowMinutes != nil {
		m := *w.WindowMinutes
		out.WindowMinutes = &m
	}
	if w.ResetsAt != nil {
		t := *w.ResetsAt
		out.ResetsAt = &t
	}
	return out
}

// ModelWindow is a named, model-specific carve-out within an account's limits.
type ModelWindow struct {
	Label  string
	Window RateWindow
}

// ProviderIdentity describes who the monitored account belongs to.
type ProviderIdentity struct {
	Email        string
	Organization string
	Plan         string
}

// ProviderCostSnapshot is the provider-reported spend against a monthly limit
// (e.g. Claude's extra-usage credits).
type ProviderCostSnapshot struct {
	Used         float64
	Limit        float64
	CurrencyCode string
	Period       string
	ResetsAt     *time.Time
	UpdatedAt    time.Time
}

// UsageSnapshot is one provider's quota state. Fully replaced on each
// successful fetch; never partially merged.
type UsageSnapshot struct {
	Primary      *RateWindow
	Secondary    *RateWindow
	Tertiary     *RateWindow
	Carveouts    []ModelWindow
	ProviderCost *ProviderCostSnapshot
	Identity     ProviderIdentity
	UpdatedAt    time.Time
}

// MaxUsage returns the highest used fraction across all windows, including
// carve-outs. Zero when no window is present.
func (s UsageSnapshot) MaxUsage() float64 {
	max := 0.0
	for _, w := range []*RateWindow{s.Primary, s.Secondary, s.Tertiary} {
		if w != nil && w.UsedPercent > max {
			max = w.UsedPercent
		}
	}
	for _, c := range s.Carveouts {
		if c.Window.UsedPercent > max {
			max = c.Window.UsedPercent
		}
	}
	return max
}

// Clone returns a deep copy, safe to hand to concurrent readers.
func (s *UsageSnapshot) Clone() *UsageSnapshot {
	out := *s
	if s.Primary != nil {
		w := s.Primary.clone()
		out.Primary = &w
	}
	if s.Secondary != nil {
		w := s.Secondary.clone()
		out.Secondary = &w
	}
	if s.Tertiary != nil {
		w := s.Tertiary.clone()
		out.Tertiary = &w
	}
	if s.Carveouts != nil {
		out.Carveouts = make([]ModelWindow, len(s.Carveouts))
		for i, c := range s.Carveouts {
			out.Carveouts[i] = ModelWindow{Label: c.Label, Window: c.Window.clone()}
		}
	}
	if s.ProviderCost != nil {
		pc := *s.ProviderCost
		if s.ProviderCost.ResetsAt != nil {
			t := *s.ProviderCost.ResetsAt
			pc.ResetsAt = &t
		}
		out.ProviderCost = &pc
	}
	return &out
}

// DailyCost is the priced usage of one model on one day.
type DailyCost struct {
	Date  Date
	Model string
	Cost  float64
}

// CostSnapshot is the aggregated local-log spend for one provider. Rebuilt
// from scratch on every scan cycle.
type CostSnapshot struct {
	TodayCost       float64
	MonthlyCost     float64
	Currency        string
	DailyBreakdown  []DailyCost
	PricingEstimate bool
	LogError        bool
}

// NewCostSnapshot returns an empty snapshot with the default currency.
func NewCostSnapshot() *CostSnapshot {
	return &CostSnapshot{Currency: "USD"}
}

// Clone returns a deep copy.
func (c *CostSnapshot) Clone() *CostSnapshot {
	out := *c
	if c.DailyBreakdown != nil {
		out.DailyBreakdown = make([]DailyCost, len(c.DailyBreakdown))
		copy(out.DailyBreakdown, c.DailyBreakdown)
	}
	return &out
}

// DailyTokenUsage is the token volume and cost of one day.
type DailyTokenUsage struct {
	Date        Date
	TotalTokens int64
	CostUSD     float64
}

// TokenSnapshot summarizes token usage over the scan window.
type TokenSnapshot struct {
	SessionTokens     *int64
	SessionCostUSD    *float64
	Last30DaysTokens  *int64
	Last30DaysCostUSD *float64
	Daily             []DailyTokenUsage
	UpdatedAt         time.Time
}

// Clone returns a deep copy.
func (t *TokenSnapshot) Clone() *TokenSnapshot {
	out := *t
	if t.SessionTokens != nil {
		v := *t.SessionTokens
		out.SessionTokens = &v
	}
	if t.SessionCostUSD != nil {
		v := *t.SessionCostUSD
		out.SessionCostUSD = &v
	}
	if t.Last30DaysTokens != nil {
		v := *t.Last30DaysTokens
		out.Last30DaysTokens = &v
	}
	if t.Last30DaysCostUSD != nil {
		v := *t.Last30DaysCostUSD
		out.Last30DaysCostUSD = &v
	}
	if t.Daily != nil {
		out.Daily = make([]DailyTokenUsage, len(t.Daily))
		copy(out.Daily, t.Daily)
	}
	return &out
}
