package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsLookup(t *testing.T) {
	c := Defaults()
	_, ok := c.Lookup("claude-3-5-sonnet-20241022")
	assert.True(t, ok)
	_, ok = c.Lookup("gpt-4o")
	assert.True(t, ok)
	_, ok = c.Lookup("claude-opus-4-5-20251101")
	assert.True(t, ok)
}

func TestLookupPrefixAfterDateSuffix(t *testing.T) {
	c := Defaults()
	// No exact entry for the bare name; prefix match against the dated key.
	p, ok := c.Lookup("claude-sonnet-4")
	require.True(t, ok)
	assert.InDelta(t, 3.0, p.InputPricePerMillion, 1e-9)
}

func TestLookupNormalizesFirst(t *testing.T) {
	c := Defaults()
	p, ok := c.Lookup("openai/gpt-4o-codex")
	require.True(t, ok)
	assert.InDelta(t, 2.5, p.InputPricePerMillion, 1e-9)
}

func TestLookupMiss(t *testing.T) {
	c := &Catalog{prices: map[string]ModelPricing{
		"gpt-4o": {InputPricePerMillion: 2.5, OutputPricePerMillion: 10.0},
	}}
	_, ok := c.Lookup("mistral-large")
	assert.False(t, ok)
}

func TestNeedsRefresh(t *testing.T) {
	c := Defaults()
	assert.True(t, c.NeedsRefresh())

	now := time.Now()
	c.lastFetch = &now
	assert.False(t, c.NeedsRefresh())

	old := now.Add(-25 * time.Hour)
	c.lastFetch = &old
	assert.True(t, c.NeedsRefresh())
}

func TestMergeUpserts(t *testing.T) {
	c := &Catalog{prices: map[string]ModelPricing{
		"gpt-4o": {InputPricePerMillion: 2.5, OutputPricePerMillion: 10.0},
		"o1":     {InputPricePerMillion: 15.0, OutputPricePerMillion: 60.0},
	}}

	now := time.Now()
	other := &Catalog{
		prices: map[string]ModelPricing{
			"gpt-4o": {InputPricePerMillion: 2.0, OutputPricePerMillion: 8.0},
			"gpt-5":  {InputPricePerMillion: 1.25, OutputPricePerMillion: 10.0},
		},
		lastFetch: &now,
	}

	c.Merge(other)

	p, ok := c.Lookup("gpt-4o")
	require.True(t, ok)
	assert.InDelta(t, 2.0, p.InputPricePerMillion, 1e-9)
	_, ok = c.Lookup("o1")
	assert.True(t, ok)
	_, ok = c.Lookup("gpt-5")
	assert.True(t, ok)
	require.NotNil(t, c.LastFetch())
	assert.WithinDuration(t, now, *c.LastFetch(), time.Second)
}

func TestCloneIsIndependent(t *testing.T) {
	c := &Catalog{prices: map[string]ModelPricing{
		"gpt-4o": {InputPricePerMillion: 2.5, OutputPricePerMillion: 10.0},
	}}

	snap := c.Clone()

	now := time.Now()
	c.Merge(&Catalog{
		prices: map[string]ModelPricing{
			"gpt-4o": {InputPricePerMillion: 2.0, OutputPricePerMillion: 8.0},
		},
		lastFetch: &now,
	})

	p, ok := snap.Lookup("gpt-4o")
	require.True(t, ok)
	assert.InDelta(t, 2.5, p.InputPricePerMillion, 1e-9)
	assert.Nil(t, snap.LastFetch())
}

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")

	c := Defaults()
	now := time.Now().Truncate(time.Second).UTC()
	c.lastFetch = &now
	require.NoError(t, c.SaveCache(path))

	loaded, err := LoadCache(path)
	require.NoError(t, err)
	assert.Equal(t, c.Len(), loaded.Len())
	require.NotNil(t, loaded.LastFetch())
	assert.True(t, loaded.LastFetch().Equal(now))

	p, ok := loaded.Lookup("claude-sonnet-4-20250514")
	require.True(t, ok)
	require.NotNil(t, p.ThresholdTokens)
	assert.Equal(t, int64(200_000), *p.ThresholdTokens)
}

func TestLoadCacheCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadCache(path)
	assert.Error(t, err)
}

func TestLoadCacheMissing(t *testing.T) {
	_, err := LoadCache(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestFetchRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Per-token prices, as models.dev reports them.
		w.Write([]byte(`[
			{"id": "anthropic.claude-sonnet-9", "pricing": {"input": 0.000004, "output": 0.00002, "cache_read": 0.0000004, "cache_write": 0.000005}},
			{"id": "no-pricing-model"}
		]`))
	}))
	defer srv.Close()

	c, err := FetchRemote(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NotNil(t, c.LastFetch())

	p, ok := c.Lookup("claude-sonnet-9")
	require.True(t, ok)
	assert.InDelta(t, 4.0, p.InputPricePerMillion, 1e-6)
	assert.InDelta(t, 20.0, p.OutputPricePerMillion, 1e-6)
	require.NotNil(t, p.CacheReadPricePerMillion)
	assert.InDelta(t, 0.4, *p.CacheReadPricePerMillion, 1e-6)

	// Embedded defaults survive underneath the fetched entries.
	_, ok = c.Lookup("gpt-4o")
	assert.True(t, ok)
}

func TestFetchRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := FetchRemote(context.Background(), srv.URL)
	assert.Error(t, err)
}
