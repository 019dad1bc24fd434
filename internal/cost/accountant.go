// Package cost turns locally scanned token usage into dollar figures
// using the pricing catalog.
package cost

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kabilan/claude-bar/internal/metrics"
	"github.com/kabilan/claude-bar/internal/model"
	"github.com/kabilan/claude-bar/internal/pricing"
	"github.com/kabilan/claude-bar/internal/scanner"
)

// Fallback flat rates (USD per million tokens, input+output combined)
// for models the catalog doesn't know. Costs computed this way are
// flagged as estimates.
const (
	fallbackClaudeRate = 3.0
	fallbackCodexRate  = 2.5
)

// RefreshResult reports what a pricing refresh did.
type RefreshResult int

const (
	// RefreshSkipped means the catalog was fresh enough.
	RefreshSkipped RefreshResult = iota
	// RefreshRefreshed means remote prices were merged in.
	RefreshRefreshed
	// RefreshFailed means the fetch failed; cached or embedded prices
	// stay in effect.
	RefreshFailed
)

func (r RefreshResult) String() string {
	switch r {
	case RefreshSkipped:
		return "skipped"
	case RefreshRefreshed:
		return "refreshed"
	case RefreshFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result bundles the two snapshots a scan produces for one provider.
type Result struct {
	Cost   *model.CostSnapshot
	Tokens *model.TokenSnapshot
}

// Accountant owns the pricing catalog and the log scanners, and turns
// their output into per-provider cost and token snapshots. Scan
// failures fall back to the last good snapshot with its LogError flag
// set, so a transient filesystem problem never blanks the display.
type Accountant struct {
	mu         sync.Mutex
	scanners   []scanner.Scanner
	catalog    *pricing.Catalog
	cachePath  string
	remoteURL  string
	cached     map[model.Provider]Result
	pricingErr bool

	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates an accountant over the given scanners. The catalog is
// loaded from the disk cache at cachePath when present, otherwise the
// embedded defaults apply.
func New(log zerolog.Logger, m *metrics.Metrics, cachePath string, scanners ...scanner.Scanner) *Accountant {
	catalog, err := pricing.LoadCache(cachePath)
	if err != nil {
		log.Debug().Err(err).Str("path", cachePath).Msg("no pricing cache, using embedded defaults")
		catalog = pricing.Defaults()
	}
	return &Accountant{
		scanners:  scanners,
		catalog:   catalog,
		cachePath: cachePath,
		remoteURL: pricing.DefaultRemoteURL,
		cached:    make(map[model.Provider]Result),
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// RefreshPricing fetches remote prices when the catalog is stale (or
// force is set), merges them over the current catalog and persists the
// result. Failure leaves the current catalog untouched.
func (a *Accountant) RefreshPricing(ctx context.Context, force bool) RefreshResult {
	a.mu.Lock()
	needs := force || a.catalog.NeedsRefresh()
	url := a.remoteURL
	a.mu.Unlock()

	if !needs {
		a.metrics.PricingRefresh(RefreshSkipped.String())
		return RefreshSkipped
	}

	remote, err := pricing.FetchRemote(ctx, url)
	if err != nil {
		a.log.Warn().Err(err).Msg("pricing refresh failed")
		a.mu.Lock()
		a.pricingErr = a.catalog.LastFetch() == nil
		a.mu.Unlock()
		a.metrics.PricingRefresh(RefreshFailed.String())
		return RefreshFailed
	}

	a.mu.Lock()
	a.catalog.Merge(remote)
	a.pricingErr = false
	saveErr := a.catalog.SaveCache(a.cachePath)
	count := a.catalog.Len()
	a.mu.Unlock()

	if saveErr != nil {
		a.log.Warn().Err(saveErr).Str("path", a.cachePath).Msg("failed to persist pricing cache")
	}
	a.log.Info().Int("models", count).Msg("pricing catalog refreshed")
	a.metrics.PricingRefresh(RefreshRefreshed.String())
	return RefreshRefreshed
}

// ScanAll runs every scanner over the accounting window and returns
// the resulting snapshots keyed by provider.
func (a *Accountant) ScanAll() map[model.Provider]Result {
	since, until := a.window()
	results := make(map[model.Provider]Result, len(a.scanners))

	for _, sc := range a.scanners {
		p := sc.Provider()

		start := a.now()
		entries, err := sc.Scan(since, until)
		a.metrics.ObserveScan(p, a.now().Sub(start).Seconds())

		if err != nil {
			a.log.Warn().Err(err).Str("provider", string(p)).Msg("log scan failed")
			results[p] = a.fallback(p)
			continue
		}

		res := a.build(p, entries, until)
		a.mu.Lock()
		a.cached[p] = Result{Cost: res.Cost.Clone(), Tokens: res.Tokens.Clone()}
		a.mu.Unlock()
		results[p] = res
	}
	return results
}

// window is the accounting range: 30 days before the start of the
// current month through today, in local time. That covers both the
// calendar month-to-date and a trailing 30-day view regardless of the
// day of the month.
func (a *Accountant) window() (model.Date, model.Date) {
	now := a.now().Local()
	today := model.DateOf(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	since := model.DateOf(monthStart.AddDate(0, 0, -30))
	return since, today
}

// fallback returns the last good result with the cost snapshot's
// LogError flag set, or an empty errored snapshot when there is none.
func (a *Accountant) fallback(p model.Provider) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.cached[p]; ok {
		cost := prev.Cost.Clone()
		cost.LogError = true
		cost.PricingEstimate = a.pricingErr
		return Result{Cost: cost, Tokens: prev.Tokens.Clone()}
	}
	cost := model.NewCostSnapshot()
	cost.LogError = true
	cost.PricingEstimate = a.pricingErr
	return Result{Cost: cost, Tokens: &model.TokenSnapshot{UpdatedAt: a.now()}}
}

func (a *Accountant) build(p model.Provider, entries []scanner.Entry, today model.Date) Result {
	agg := scanner.Aggregate(entries)

	a.mu.Lock()
	catalog := a.catalog.Clone()
	estimate := a.pricingErr
	a.mu.Unlock()

	cost := model.NewCostSnapshot()
	tokensByDate := make(map[model.Date]*model.DailyTokenUsage)
	monthlyCutoff := today.AddDays(-29)

	for key, usage := range agg {
		c := a.priceUsage(catalog, p, key.Model, usage, &estimate)

		if !key.Date.Before(monthlyCutoff) {
			cost.DailyBreakdown = append(cost.DailyBreakdown, model.DailyCost{
				Date:  key.Date,
				Model: key.Model,
				Cost:  normalizeCost(c),
			})
			cost.MonthlyCost += c
		}
		if key.Date == today {
			cost.TodayCost += c
		}

		day, ok := tokensByDate[key.Date]
		if !ok {
			day = &model.DailyTokenUsage{Date: key.Date}
			tokensByDate[key.Date] = day
		}
		day.TotalTokens += usage.Total()
		day.CostUSD += c
	}

	cost.TodayCost = normalizeCost(cost.TodayCost)
	cost.MonthlyCost = normalizeCost(cost.MonthlyCost)
	cost.PricingEstimate = estimate
	sort.Slice(cost.DailyBreakdown, func(i, j int) bool {
		di, dj := cost.DailyBreakdown[i], cost.DailyBreakdown[j]
		if di.Date != dj.Date {
			return di.Date.Before(dj.Date)
		}
		return di.Model < dj.Model
	})

	return Result{Cost: cost, Tokens: a.buildTokens(tokensByDate, today)}
}

// priceUsage costs one (model, day) bucket, falling back to a flat
// per-million rate when the catalog has no entry for the model.
func (a *Accountant) priceUsage(catalog *pricing.Catalog, p model.Provider, modelName string, usage pricing.TokenUsage, estimate *bool) float64 {
	if mp, ok := catalog.Lookup(modelName); ok {
		return mp.Cost(usage)
	}

	*estimate = true
	a.log.Debug().Str("model", modelName).Str("provider", string(p)).Msg("no pricing for model, using flat rate")

	rate := fallbackCodexRate
	if p == model.ProviderClaude {
		rate = fallbackClaudeRate
	}
	return float64(usage.InputTokens+usage.OutputTokens) / 1_000_000 * rate
}

func (a *Accountant) buildTokens(byDate map[model.Date]*model.DailyTokenUsage, today model.Date) *model.TokenSnapshot {
	snap := &model.TokenSnapshot{UpdatedAt: a.now()}

	dates := make([]model.Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	cutoff := today.AddDays(-29)
	var totalTokens int64
	var totalCost float64

	for _, d := range dates {
		day := byDate[d]
		snap.Daily = append(snap.Daily, *day)
		if !d.Before(cutoff) {
			totalTokens += day.TotalTokens
			totalCost += day.CostUSD
		}
	}

	if len(dates) > 0 {
		snap.Last30DaysTokens = &totalTokens
		snap.Last30DaysCostUSD = &totalCost

		// The "session" figures track today when present, otherwise
		// the most recent day scanned.
		latest := byDate[dates[len(dates)-1]]
		snap.SessionTokens = &latest.TotalTokens
		snap.SessionCostUSD = &latest.CostUSD
	}
	return snap
}

// normalizeCost rounds display noise to zero.
func normalizeCost(v float64) float64 {
	if v < 0.005 && v > -0.005 {
		return 0
	}
	return v
}
