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
	codexUsageURL = "https://chatgpt.com/backend-api/wham/usage"
	codexAuthHint = "Run `codex login` in a terminal to sign in again"
)

// CodexProvider reads the Codex CLI's auth file and queries the
// ChatGPT backend for rate-limit usage.
type CodexProvider struct {
	credPath string
	usageURL string
	client   *http.Client
	log      zerolog.Logger
	now      func() time.Time
}

// NewCodex creates the provider. credPath overrides the default
// credential location when non-empty.
func NewCodex(log zerolog.Logger, credPath string) *CodexProvider {
	if credPath == "" {
		base := os.Getenv("CODEX_HOME")
		if base == "" {
			if home, err := os.UserHomeDir(); err == nil {
				base = filepath.Join(home, ".codex")
			} else {
				base = ".codex"
			}
		}
		credPath = filepath.Join(base, "auth.json")
	}
	return &CodexProvider{
		credPath: credPath,
		usageURL: codexUsageURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
		now:      time.Now,
	}
}

func (p *CodexProvider) Identifier() model.Provider  { return model.ProviderCodex }
func (p *CodexProvider) Name() string                { return model.ProviderCodex.Name() }
func (p *CodexProvider) DashboardURL() string        { return model.ProviderCodex.DashboardURL() }
func (p *CodexProvider) CredentialsPath() string     { return p.credPath }
func (p *CodexProvider) CredentialErrorHint() string { return codexAuthHint }

// codexCredentials is the CLI's auth.json shape.
type codexCredentials struct {
	Tokens struct {
		AccessToken string `json:"access_token"`
		AccountID   string `json:"account_id"`
	} `json:"tokens"`
}

func (p *CodexProvider) readCredentials() (*codexCredentials, error) {
	data, err := os.ReadFile(p.credPath)
	if err != nil {
		return nil, err
	}
	var creds codexCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Tokens.AccessToken == "" {
		return nil, fmt.Errorf("no access token in %s", p.credPath)
	}
	return &creds, nil
}

func (p *CodexProvider) HasValidCredentials() bool {
	_, err := p.readCredentials()
	return err == nil
}

// codexUsageResponse mirrors the wham usage endpoint.
type codexUsageResponse struct {
	PlanType   string `json:"plan_type"`
	RateLimits *struct {
		Primary   *codexWindow `json:"primary"`
		Secondary *codexWindow `json:"secondary"`
	} `json:"rate_limits"`
}

type codexWindow struct {
	// UsedPercent is 0..100.
	UsedPercent        float64 `json:"used_percent"`
	LimitWindowSeconds *int64  `json:"limit_window_seconds"`
	ResetsAt           *int64  `json:"resets_at"` // unix seconds
}

// FetchUsage queries the ChatGPT backend with the CLI's token.
func (p *CodexProvider) FetchUsage(ctx context.Context) (*model.UsageSnapshot, error) {
	creds, err := p.readCredentials()
	if err != nil {
		return nil, &CredentialError{Hint: codexAuthHint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.usageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Tokens.AccessToken)
	if creds.Tokens.AccountID != "" {
		req.Header.Set("ChatGPT-Account-Id", creds.Tokens.AccountID)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &CredentialError{Hint: codexAuthHint, Err: fmt.Errorf("usage endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("usage endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var usage codexUsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("parse usage response: %w", err)
	}

	return p.toSnapshot(usage), nil
}

func (p *CodexProvider) toSnapshot(usage codexUsageResponse) *model.UsageSnapshot {
	snap := &model.UsageSnapshot{
		Identity:  model.ProviderIdentity{Plan: codexPlan(usage.PlanType)},
		UpdatedAt: p.now(),
	}
	if usage.RateLimits != nil {
		snap.Primary = codexRateWindow(usage.RateLimits.Primary, "Session limit")
		snap.Secondary = codexRateWindow(usage.RateLimits.Secondary, "Weekly limit")
	}
	return snap
}

func codexRateWindow(w *codexWindow, desc string) *model.RateWindow {
	if w == nil {
		return nil
	}
	out := &model.RateWindow{
		UsedPercent:      w.UsedPercent / 100.0,
		ResetDescription: desc,
	}
	if w.LimitWindowSeconds != nil {
		minutes := int(*w.LimitWindowSeconds / 60)
		out.WindowMinutes = &minutes
	}
	if w.ResetsAt != nil {
		t := time.Unix(*w.ResetsAt, 0).Local()
		out.ResetsAt = &t
	}
	return out
}

func codexPlan(planType string) string {
	switch strings.ToLower(planType) {
	case "plus":
		return "ChatGPT Plus"
	case "pro":
		return "ChatGPT Pro"
	case "team":
		return "ChatGPT Team"
	case "business":
		return "ChatGPT Business"
	case "enterprise":
		return "ChatGPT Enterprise"
	case "free":
		return "ChatGPT Free"
	case "":
		return "ChatGPT"
	default:
		return "ChatGPT " + strings.ToUpper(planType[:1]) + strings.ToLower(planType[1:])
	}
}
