package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kabilan/claude-bar/internal/model"
)

const (
	claudeUsageURL = "https://api.anthropic.com/api/oauth/usage"
	claudeAuthHint = "Run `claude` in a terminal to sign in again"

	// Tokens within this margin of expiry are treated as expired so a
	// fetch doesn't race the deadline.
	expiryMargin = time.Minute
)

// ClaudeProvider reads the local OAuth credentials written by the
// Claude Code CLI and queries the usage endpoint with them.
type ClaudeProvider struct {
	credPath string
	usageURL string
	client   *http.Client
	log      zerolog.Logger
	now      func() time.Time
}

// NewClaude creates the provider. credPath overrides the default
// credential location when non-empty.
func NewClaude(log zerolog.Logger, credPath string) *ClaudeProvider {
	if credPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			credPath = filepath.Join(home, ".claude", ".credentials.json")
		} else {
			credPath = filepath.Join(".claude", ".credentials.json")
		}
	}
	return &ClaudeProvider{
		credPath: credPath,
		usageURL: claudeUsageURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
		now:      time.Now,
	}
}

func (p *ClaudeProvider) Identifier() model.Provider  { return model.ProviderClaude }
func (p *ClaudeProvider) Name() string                { return model.ProviderClaude.Name() }
func (p *ClaudeProvider) DashboardURL() string        { return model.ProviderClaude.DashboardURL() }
func (p *ClaudeProvider) CredentialsPath() string     { return p.credPath }
func (p *ClaudeProvider) CredentialErrorHint() string { return claudeAuthHint }

// claudeCredentials is the CLI's credential file shape.
type claudeCredentials struct {
	ClaudeAiOauth struct {
		AccessToken      string `json:"accessToken"`
		ExpiresAt        int64  `json:"expiresAt"` // unix millis
		SubscriptionType string `json:"subscriptionType"`
	} `json:"claudeAiOauth"`
}

func (p *ClaudeProvider) readCredentials() (*claudeCredentials, error) {
	data, err := os.ReadFile(p.credPath)
	if err != nil {
		return nil, err
	}
	var creds claudeCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.ClaudeAiOauth.AccessToken == "" {
		return nil, fmt.Errorf("no access token in %s", p.credPath)
	}
	return &creds, nil
}

func (p *ClaudeProvider) HasValidCredentials() bool {
	creds, err := p.readCredentials()
	if err != nil {
		return false
	}
	if creds.ClaudeAiOauth.ExpiresAt > 0 {
		expiry := time.UnixMilli(creds.ClaudeAiOauth.ExpiresAt)
		if p.now().Add(expiryMargin).After(expiry) {
			return false
		}
	}
	return true
}

// claudeUsageResponse mirrors the OAuth usage endpoint.
type claudeUsageResponse struct {
	FiveHour       *claudeWindow     `json:"five_hour"`
	SevenDay       *claudeWindow     `json:"seven_day"`
	SevenDaySonnet *claudeWindow     `json:"seven_day_sonnet"`
	SevenDayOpus   *claudeWindow     `json:"seven_day_opus"`
	ExtraUsage     *claudeExtraUsage `json:"extra_usage"`
	Account        *claudeAccount    `json:"account"`
	RateLimitTier  string            `json:"rate_limit_tier"`
}

type claudeWindow struct {
	// Utilization is a percentage, 0..100.
	Utilization float64 `json:"utilization"`
	ResetsAt    *string `json:"resets_at"`
}

type claudeExtraUsage struct {
	IsEnabled    bool     `json:"is_enabled"`
	MonthlyUsage *float64 `json:"monthly_usage"` // cents
	MonthlyLimit *float64 `json:"monthly_limit"` // cents
}

type claudeAccount struct {
	Email        string `json:"email_address"`
	Organization struct {
		Name string `json:"name"`
	} `json:"organization"`
}

// FetchUsage queries the OAuth usage endpoint with the CLI's token.
func (p *ClaudeProvider) FetchUsage(ctx context.Context) (*model.UsageSnapshot, error) {
	creds, err := p.readCredentials()
	if err != nil {
		return nil, &CredentialError{Hint: claudeAuthHint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.usageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.ClaudeAiOauth.AccessToken)
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &CredentialError{Hint: claudeAuthHint, Err: fmt.Errorf("usage endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("usage endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var usage claudeUsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("parse usage response: %w", err)
	}

	return p.toSnapshot(usage, creds.ClaudeAiOauth.SubscriptionType), nil
}

func (p *ClaudeProvider) toSnapshot(usage claudeUsageResponse, subscription string) *model.UsageSnapshot {
	snap := &model.UsageSnapshot{UpdatedAt: p.now()}
	plan := claudePlan(usage.RateLimitTier, subscription)

	snap.Primary = claudeRateWindow(usage.FiveHour, 300, "5-hour session")
	snap.Secondary = claudeRateWindow(usage.SevenDay, 7*24*60, "Weekly quota")

	if w := claudeRateWindow(usage.SevenDaySonnet, 7*24*60, "Sonnet weekly quota"); w != nil {
		snap.Carveouts = append(snap.Carveouts, model.ModelWindow{Label: "Sonnet Weekly", Window: *w})
		snap.Tertiary = w
	}
	if w := claudeRateWindow(usage.SevenDayOpus, 7*24*60, "Opus weekly quota"); w != nil {
		snap.Carveouts = append(snap.Carveouts, model.ModelWindow{Label: "Opus Weekly", Window: *w})
		if snap.Tertiary == nil {
			snap.Tertiary = w
		}
	}

	if cost := claudeExtraUsageCost(usage.ExtraUsage, plan, p.now()); cost != nil {
		snap.ProviderCost = cost
	}

	snap.Identity = model.ProviderIdentity{Plan: plan}
	if usage.Account != nil {
		snap.Identity.Email = usage.Account.Email
		snap.Identity.Organization = usage.Account.Organization.Name
	}
	return snap
}

func claudeRateWindow(w *claudeWindow, minutes int, desc string) *model.RateWindow {
	if w == nil {
		return nil
	}
	out := &model.RateWindow{
		UsedPercent:      w.Utilization / 100.0,
		WindowMinutes:    &minutes,
		ResetDescription: desc,
	}
	if w.ResetsAt != nil {
		if t, err := time.Parse(time.RFC3339, *w.ResetsAt); err == nil {
			local := t.Local()
			out.ResetsAt = &local
		}
	}
	return out
}

// claudeExtraUsageCost converts the pay-per-use figures to dollars.
// Amounts come back in cents; some non-enterprise tiers report them a
// further factor of 100 off, recognizable by an implausible limit.
func claudeExtraUsageCost(extra *claudeExtraUsage, plan string, now time.Time) *model.ProviderCostSnapshot {
	if extra == nil || !extra.IsEnabled || extra.MonthlyLimit == nil {
		return nil
	}
	used := 0.0
	if extra.MonthlyUsage != nil {
		used = *extra.MonthlyUsage / 100.0
	}
	limit := *extra.MonthlyLimit / 100.0

	if limit >= 1000 && !strings.Contains(plan, "Enterprise") {
		used /= 100.0
		limit /= 100.0
	}

	return &model.ProviderCostSnapshot{
		Used:         used,
		Limit:        limit,
		CurrencyCode: "USD",
		Period:       "monthly",
		UpdatedAt:    now,
	}
}

func claudePlan(tier, subscription string) string {
	t := strings.ToLower(tier)
	switch {
	case strings.Contains(t, "enterprise"):
		return "Claude Enterprise"
	case strings.Contains(t, "team"):
		return "Claude Team"
	case strings.Contains(t, "max"):
		return "Claude Max"
	case strings.Contains(t, "pro"):
		return "Claude Pro"
	}
	if subscription != "" {
		return "Claude " + strings.ToUpper(subscription[:1]) + strings.ToLower(subscription[1:])
	}
	return "Claude"
}
