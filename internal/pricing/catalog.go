package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultRemoteURL is the public model catalog the pricing table refreshes
// from.
const DefaultRemoteURL = "https://models.dev/api/models"

const refreshInterval = 24 * time.Hour

// Catalog maps normalized model names to their price tables. Not safe for
// concurrent use; the cost accountant serializes mutation and hands
// concurrent readers a Clone.
type Catalog struct {
	prices    map[string]ModelPricing
	lastFetch *time.Time
}

// Defaults returns a catalog seeded with the embedded price table.
func Defaults() *Catalog {
	return &Catalog{prices: embeddedDefaults()}
}

// DefaultCachePath returns the on-disk pricing cache location.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cache dir: %w", err)
	}
	return filepath.Join(dir, "claude-bar", "pricing.json"), nil
}

func f(v float64) *float64 { return &v }
func i(v int64) *int64     { return &v }

func embeddedDefaults() map[string]ModelPricing {
	return map[string]ModelPricing{
		"claude-opus-4-5-20251101": {
			InputPricePerMillion: 5.0, OutputPricePerMillion: 25.0,
			CacheCreationPricePerMillion: f(6.25), CacheReadPricePerMillion: f(0.5),
		},
		"claude-sonnet-4-20250514": {
			InputPricePerMillion: 3.0, OutputPricePerMillion: 15.0,
			CacheCreationPricePerMillion: f(3.75), CacheReadPricePerMillion: f(0.3),
			ThresholdTokens:                  i(200_000),
			InputPriceAboveThreshold:         f(6.0),
			OutputPriceAboveThreshold:        f(22.5),
			CacheCreationPriceAboveThreshold: f(7.5),
			CacheReadPriceAboveThreshold:     f(0.6),
		},
		"claude-3-5-sonnet-20241022": {
			InputPricePerMillion: 3.0, OutputPricePerMillion: 15.0,
			CacheCreationPricePerMillion: f(3.75), CacheReadPricePerMillion: f(0.3),
		},
		"claude-3-5-haiku-20241022": {
			InputPricePerMillion: 0.80, OutputPricePerMillion: 4.0,
			CacheCreationPricePerMillion: f(1.0), CacheReadPricePerMillion: f(0.08),
		},
		"claude-3-opus-20240229": {
			InputPricePerMillion: 15.0, OutputPricePerMillion: 75.0,
			CacheCreationPricePerMillion: f(18.75), CacheReadPricePerMillion: f(1.5),
		},
		"claude-opus-4-20250514": {
			InputPricePerMillion: 15.0, OutputPricePerMillion: 75.0,
			CacheCreationPricePerMillion: f(18.75), CacheReadPricePerMillion: f(1.5),
		},
		"gpt-5": {
			InputPricePerMillion: 1.25, OutputPricePerMillion: 10.0,
			CacheReadPricePerMillion: f(0.125),
		},
		"gpt-4o": {
			InputPricePerMillion: 2.50, OutputPricePerMillion: 10.0,
			CacheReadPricePerMillion: f(1.25),
		},
		"gpt-4o-mini": {
			InputPricePerMillion: 0.15, OutputPricePerMillion: 0.60,
			CacheReadPricePerMillion: f(0.075),
		},
		"o1": {
			InputPricePerMillion: 15.0, OutputPricePerMillion: 60.0,
			CacheReadPricePerMillion: f(7.5),
		},
		"o3": {
			InputPricePerMillion: 10.0, OutputPricePerMillion: 40.0,
			CacheReadPricePerMillion: f(2.5),
		},
		"o3-mini": {
			InputPricePerMillion: 1.10, OutputPricePerMillion: 4.40,
			CacheReadPricePerMillion: f(0.55),
		},
	}
}

// Lookup resolves a model name to its pricing: exact match on the normalized
// name, then prefix match after stripping a trailing date/numeric suffix,
// then substring match either way.
func (c *Catalog) Lookup(model string) (ModelPricing, bool) {
	normalized := Normalize(model)

	if p, ok := c.prices[normalized]; ok {
		return p, true
	}

	keys := c.sortedKeys()

	base := strings.TrimRight(normalized, "-0123456789")
	if base != "" && base != normalized {
		for _, key := range keys {
			if strings.HasPrefix(key, base) {
				return c.prices[key], true
			}
		}
	}

	for _, key := range keys {
		if strings.Contains(normalized, key) || strings.Contains(key, normalized) {
			return c.prices[key], true
		}
	}

	return ModelPricing{}, false
}

func (c *Catalog) sortedKeys() []string {
	keys := make([]string, 0, len(c.prices))
	for k := range c.prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the table, so a scan can keep pricing
// against a stable snapshot while a refresh merges into the live
// catalog.
func (c *Catalog) Clone() *Catalog {
	prices := make(map[string]ModelPricing, len(c.prices))
	for k, v := range c.prices {
		prices[k] = v
	}
	out := &Catalog{prices: prices}
	if c.lastFetch != nil {
		t := *c.lastFetch
		out.lastFetch = &t
	}
	return out
}

// Len returns the number of models in the table.
func (c *Catalog) Len() int { return len(c.prices) }

// LastFetch returns when the catalog last refreshed from the remote source,
// or nil if never.
func (c *Catalog) LastFetch() *time.Time {
	if c.lastFetch == nil {
		return nil
	}
	t := *c.lastFetch
	return &t
}

// NeedsRefresh reports whether the catalog has never been fetched or the
// last fetch is older than 24 hours.
func (c *Catalog) NeedsRefresh() bool {
	return c.lastFetch == nil || time.Since(*c.lastFetch) > refreshInterval
}

// Merge upserts every entry of other into c. A newer last-fetch stamp wins.
func (c *Catalog) Merge(other *Catalog) {
	for key, price := range other.prices {
		c.prices[key] = price
	}
	if other.lastFetch != nil {
		c.lastFetch = other.lastFetch
	}
}

// Set stores pricing under the normalized model name.
func (c *Catalog) Set(model string, p ModelPricing) {
	c.prices[Normalize(model)] = p
}

// cacheFile is the JSON document written to disk. LastFetch is unix seconds
// or null.
type cacheFile struct {
	Prices    map[string]ModelPricing `json:"prices"`
	LastFetch *int64                  `json:"last_fetch"`
}

// LoadCache reads a catalog from the on-disk cache file.
func LoadCache(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc cacheFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pricing cache: %w", err)
	}
	if doc.Prices == nil {
		doc.Prices = make(map[string]ModelPricing)
	}

	c := &Catalog{prices: doc.Prices}
	if doc.LastFetch != nil {
		t := time.Unix(*doc.LastFetch, 0).UTC()
		c.lastFetch = &t
	}
	return c, nil
}

// SaveCache writes the catalog to the on-disk cache file, creating parent
// directories as needed.
func (c *Catalog) SaveCache(path string) error {
	doc := cacheFile{Prices: c.prices}
	if c.lastFetch != nil {
		ts := c.lastFetch.Unix()
		doc.LastFetch = &ts
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pricing cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pricing cache: %w", err)
	}
	return nil
}

// remoteModel is one entry of the models.dev catalog. Prices there are per
// token, not per million.
type remoteModel struct {
	ID      string         `json:"id"`
	Pricing *remotePricing `json:"pricing"`
}

type remotePricing struct {
	Input      *float64 `json:"input"`
	Output     *float64 `json:"output"`
	CacheRead  *float64 `json:"cache_read"`
	CacheWrite *float64 `json:"cache_write"`
}

func (m remoteModel) toPricing() (ModelPricing, bool) {
	if m.Pricing == nil || m.Pricing.Input == nil || m.Pricing.Output == nil {
		return ModelPricing{}, false
	}
	p := ModelPricing{
		InputPricePerMillion:  *m.Pricing.Input * 1_000_000.0,
		OutputPricePerMillion: *m.Pricing.Output * 1_000_000.0,
	}
	if m.Pricing.CacheWrite != nil && m.Pricing.CacheRead != nil {
		p.CacheCreationPricePerMillion = f(*m.Pricing.CacheWrite * 1_000_000.0)
		p.CacheReadPricePerMillion = f(*m.Pricing.CacheRead * 1_000_000.0)
	}
	return p, true
}

// FetchRemote downloads the remote model catalog and returns it layered over
// the embedded defaults, stamped with the fetch time.
func FetchRemote(ctx context.Context, url string) (*Catalog, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build pricing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pricing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("pricing source returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var models []remoteModel
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("parse pricing response: %w", err)
	}

	c := Defaults()
	for _, m := range models {
		if p, ok := m.toPricing(); ok {
			c.Set(m.ID, p)
		}
	}

	now := time.Now().UTC()
	c.lastFetch = &now
	return c, nil
}
