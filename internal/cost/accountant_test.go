package cost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabilan/claude-bar/internal/model"
	"github.com/kabilan/claude-bar/internal/pricing"
	"github.com/kabilan/claude-bar/internal/scanner"
)

type fakeScanner struct {
	provider model.Provider
	entries  []scanner.Entry
	err      error
}

func (f *fakeScanner) Provider() model.Provider { return f.provider }

func (f *fakeScanner) Scan(since, until model.Date) ([]scanner.Entry, error) {
	return f.entries, f.err
}

func newAccountant(t *testing.T, scanners ...scanner.Scanner) *Accountant {
	t.Helper()
	cachePath := filepath.Join(t.TempDir(), "pricing.json")
	return New(zerolog.Nop(), nil, cachePath, scanners...)
}

func TestScanAllComputesCosts(t *testing.T) {
	today := model.DateOf(time.Now())
	fs := &fakeScanner{
		provider: model.ProviderClaude,
		entries: []scanner.Entry{
			// claude-sonnet-4 default pricing: 3.0 in, 15.0 out per million.
			{Date: today, Model: "claude-sonnet-4", Usage: pricing.TokenUsage{InputTokens: 1_000_000}},
			{Date: today, Model: "claude-sonnet-4", Usage: pricing.TokenUsage{OutputTokens: 1_000_000}},
			{Date: today.AddDays(-1), Model: "claude-sonnet-4", Usage: pricing.TokenUsage{InputTokens: 2_000_000}},
		},
	}

	a := newAccountant(t, fs)
	results := a.ScanAll()
	res, ok := results[model.ProviderClaude]
	require.True(t, ok)

	assert.InDelta(t, 18.0, res.Cost.TodayCost, 1e-9)
	assert.InDelta(t, 24.0, res.Cost.MonthlyCost, 1e-9)
	assert.False(t, res.Cost.PricingEstimate)
	assert.False(t, res.Cost.LogError)
	assert.Equal(t, "USD", res.Cost.Currency)

	require.Len(t, res.Cost.DailyBreakdown, 2)
	// Breakdown is sorted by date then model.
	assert.Equal(t, today.AddDays(-1), res.Cost.DailyBreakdown[0].Date)
	assert.InDelta(t, 6.0, res.Cost.DailyBreakdown[0].Cost, 1e-9)
	assert.Equal(t, today, res.Cost.DailyBreakdown[1].Date)

	require.NotNil(t, res.Tokens.SessionTokens)
	assert.Equal(t, int64(2_000_000), *res.Tokens.SessionTokens)
	require.NotNil(t, res.Tokens.Last30DaysTokens)
	assert.Equal(t, int64(4_000_000), *res.Tokens.Last30DaysTokens)
	require.NotNil(t, res.Tokens.Last30DaysCostUSD)
	assert.InDelta(t, 24.0, *res.Tokens.Last30DaysCostUSD, 1e-9)
	assert.Len(t, res.Tokens.Daily, 2)
}

func TestScanAllUnknownModelUsesFlatRate(t *testing.T) {
	today := model.DateOf(time.Now())
	fs := &fakeScanner{
		provider: model.ProviderCodex,
		entries: []scanner.Entry{
			{Date: today, Model: "mystery-model", Usage: pricing.TokenUsage{InputTokens: 500_000, OutputTokens: 500_000}},
		},
	}

	a := newAccountant(t, fs)
	res := a.ScanAll()[model.ProviderCodex]

	assert.True(t, res.Cost.PricingEstimate)
	assert.InDelta(t, 2.5, res.Cost.TodayCost, 1e-9)
}

func TestScanAllErrorFallsBackToCached(t *testing.T) {
	today := model.DateOf(time.Now())
	fs := &fakeScanner{
		provider: model.ProviderClaude,
		entries: []scanner.Entry{
			{Date: today, Model: "claude-sonnet-4", Usage: pricing.TokenUsage{InputTokens: 1_000_000}},
		},
	}

	a := newAccountant(t, fs)
	first := a.ScanAll()[model.ProviderClaude]
	require.False(t, first.Cost.LogError)

	fs.err = errors.New("permission denied")
	second := a.ScanAll()[model.ProviderClaude]

	assert.True(t, second.Cost.LogError)
	assert.InDelta(t, first.Cost.TodayCost, second.Cost.TodayCost, 1e-9)
	assert.Equal(t, first.Tokens.Daily, second.Tokens.Daily)
}

func TestBreakdownCoversMonthlyWindow(t *testing.T) {
	today := model.DateOf(time.Now())
	a := newAccountant(t)

	res := a.build(model.ProviderClaude, []scanner.Entry{
		{Date: today, Model: "claude-sonnet-4", Usage: pricing.TokenUsage{InputTokens: 1_000_000}},
		{Date: today.AddDays(-31), Model: "claude-sonnet-4", Usage: pricing.TokenUsage{InputTokens: 1_000_000}},
	}, today)

	// Costs older than the trailing 30 days stay out of the breakdown
	// and the monthly total, but still count toward the daily tokens.
	require.Len(t, res.Cost.DailyBreakdown, 1)
	assert.Equal(t, today, res.Cost.DailyBreakdown[0].Date)
	assert.InDelta(t, 3.0, res.Cost.MonthlyCost, 1e-9)
	assert.Len(t, res.Tokens.Daily, 2)
	require.NotNil(t, res.Tokens.Last30DaysTokens)
	assert.Equal(t, int64(1_000_000), *res.Tokens.Last30DaysTokens)
}

func TestFallbackReflectsPricingState(t *testing.T) {
	today := model.DateOf(time.Now())
	fs := &fakeScanner{
		provider: model.ProviderClaude,
		entries: []scanner.Entry{
			{Date: today, Model: "claude-sonnet-4", Usage: pricing.TokenUsage{InputTokens: 1_000_000}},
		},
	}

	a := newAccountant(t, fs)
	first := a.ScanAll()[model.ProviderClaude]
	require.False(t, first.Cost.PricingEstimate)

	// A pricing failure after the cached result was built must surface
	// on the fallback snapshot, not the flag cached with it.
	a.mu.Lock()
	a.pricingErr = true
	a.mu.Unlock()
	fs.err = errors.New("permission denied")

	second := a.ScanAll()[model.ProviderClaude]
	assert.True(t, second.Cost.LogError)
	assert.True(t, second.Cost.PricingEstimate)
}

func TestScanAllErrorWithoutCache(t *testing.T) {
	fs := &fakeScanner{provider: model.ProviderClaude, err: errors.New("boom")}

	a := newAccountant(t, fs)
	res := a.ScanAll()[model.ProviderClaude]

	assert.True(t, res.Cost.LogError)
	assert.Zero(t, res.Cost.TodayCost)
	assert.Empty(t, res.Tokens.Daily)
}

func TestRefreshPricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"test-model","pricing":{"input":0.000001,"output":0.000002}}]`))
	}))
	defer srv.Close()

	a := newAccountant(t)
	a.remoteURL = srv.URL

	assert.Equal(t, RefreshRefreshed, a.RefreshPricing(context.Background(), false))
	// The catalog is now fresh.
	assert.Equal(t, RefreshSkipped, a.RefreshPricing(context.Background(), false))
	// Forced refresh bypasses the staleness check.
	assert.Equal(t, RefreshRefreshed, a.RefreshPricing(context.Background(), true))
}

func TestRefreshPricingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newAccountant(t)
	a.remoteURL = srv.URL

	assert.Equal(t, RefreshFailed, a.RefreshPricing(context.Background(), true))
}

func TestScanDuringRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"test-model","pricing":{"input":0.000001,"output":0.000002}}]`))
	}))
	defer srv.Close()

	today := model.DateOf(time.Now())
	entries := make([]scanner.Entry, 0, 400)
	for i := 0; i < 400; i++ {
		entries = append(entries, scanner.Entry{
			Date:  today.AddDays(-(i % 20)),
			Model: fmt.Sprintf("claude-sonnet-%d", i%8),
			Usage: pricing.TokenUsage{InputTokens: 10_000, OutputTokens: 5_000},
		})
	}

	a := newAccountant(t, &fakeScanner{provider: model.ProviderClaude, entries: entries})
	a.remoteURL = srv.URL

	// Scans price against a catalog snapshot, so a refresh merging new
	// entries concurrently must not trip the race detector.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			a.ScanAll()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			a.RefreshPricing(context.Background(), true)
		}
	}()
	wg.Wait()

	res := a.ScanAll()[model.ProviderClaude]
	require.NotNil(t, res.Cost)
	assert.False(t, res.Cost.LogError)
}
