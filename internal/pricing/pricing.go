// Package pricing holds per-model price tables and computes tiered costs for
// token usage. The catalog is refreshed from models.dev and cached on disk.
package pricing

import "strings"

// ModelPricing is the price table for one model, in USD per million tokens.
// Tiered pricing applies only when both ThresholdTokens and the respective
// above-threshold price are set; otherwise the base price covers all tokens.
type ModelPricing struct {
	InputPricePerMillion  float64 `json:"input_price_per_million"`
	OutputPricePerMillion float64 `json:"output_price_per_million"`

	CacheCreationPricePerMillion *float64 `json:"cache_creation_price_per_million,omitempty"`
	CacheReadPricePerMillion     *float64 `json:"cache_read_price_per_million,omitempty"`

	ThresholdTokens                  *int64   `json:"threshold_tokens,omitempty"`
	InputPriceAboveThreshold         *float64 `json:"input_price_above_threshold,omitempty"`
	OutputPriceAboveThreshold        *float64 `json:"output_price_above_threshold,omitempty"`
	CacheCreationPriceAboveThreshold *float64 `json:"cache_creation_price_above_threshold,omitempty"`
	CacheReadPriceAboveThreshold     *float64 `json:"cache_read_price_above_threshold,omitempty"`
}

// TokenUsage is the four token counts of one billing aggregate.
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// Total returns the sum of all four token categories.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// Add accumulates another usage tuple into u.
func (u *TokenUsage) Add(o TokenUsage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationTokens += o.CacheCreationTokens
	u.CacheReadTokens += o.CacheReadTokens
}

func (p ModelPricing) tieredCost(tokens int64, basePrice float64, abovePrice *float64) float64 {
	perToken := basePrice / 1_000_000.0
	if p.ThresholdTokens != nil && abovePrice != nil && tokens > *p.ThresholdTokens {
		below := float64(*p.ThresholdTokens) * perToken
		over := float64(tokens-*p.ThresholdTokens) * (*abovePrice / 1_000_000.0)
		return below + over
	}
	return float64(tokens) * perToken
}

func (p ModelPricing) optionalTieredCost(tokens int64, price, abovePrice *float64) float64 {
	if price == nil {
		return 0
	}
	return p.tieredCost(tokens, *price, abovePrice)
}

// Cost prices a usage tuple in USD.
func (p ModelPricing) Cost(u TokenUsage) float64 {
	input := p.tieredCost(u.InputTokens, p.InputPricePerMillion, p.InputPriceAboveThreshold)
	output := p.tieredCost(u.OutputTokens, p.OutputPricePerMillion, p.OutputPriceAboveThreshold)
	cacheCreation := p.optionalTieredCost(u.CacheCreationTokens, p.CacheCreationPricePerMillion, p.CacheCreationPriceAboveThreshold)
	cacheRead := p.optionalTieredCost(u.CacheReadTokens, p.CacheReadPricePerMillion, p.CacheReadPriceAboveThreshold)
	return input + output + cacheCreation + cacheRead
}

// Normalize canonicalizes a model name so lookups survive vendor naming
// drift: lower-cased, "anthropic."/"openai/" prefixes, "-codex" suffix and
// "-v1:…" version suffixes stripped. Idempotent.
func Normalize(model string) string {
	model = strings.ToLower(model)
	model = strings.TrimPrefix(model, "anthropic.")
	model = strings.TrimPrefix(model, "openai/")
	model = strings.TrimSuffix(model, "-codex")
	if pos := strings.Index(model, "-v1:"); pos >= 0 {
		model = model[:pos]
	}
	return model
}
