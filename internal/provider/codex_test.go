package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabilan/claude-bar/internal/config"
)

func testConfig(claude, codex bool) config.Config {
	cfg := config.Default()
	cfg.Providers.Claude.Enabled = claude
	cfg.Providers.Codex.Enabled = codex
	return cfg
}

func writeCodexCreds(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"tokens": {"access_token": "tok-codex", "account_id": "acct-42"}
	}`), 0o600))
	return path
}

func TestCodexFetchUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-codex", r.Header.Get("Authorization"))
		assert.Equal(t, "acct-42", r.Header.Get("ChatGPT-Account-Id"))
		w.Write([]byte(`{
			"plan_type": "plus",
			"rate_limits": {
				"primary": {"used_percent": 37.5, "limit_window_seconds": 18000, "resets_at": 1790000000},
				"secondary": {"used_percent": 12.0, "limit_window_seconds": 604800}
			}
		}`))
	}))
	defer srv.Close()

	p := NewCodex(zerolog.Nop(), writeCodexCreds(t))
	p.usageURL = srv.URL

	snap, err := p.FetchUsage(context.Background())
	require.NoError(t, err)

	require.NotNil(t, snap.Primary)
	assert.InDelta(t, 0.375, snap.Primary.UsedPercent, 1e-9)
	require.NotNil(t, snap.Primary.WindowMinutes)
	assert.Equal(t, 300, *snap.Primary.WindowMinutes)
	require.NotNil(t, snap.Primary.ResetsAt)
	assert.Equal(t, int64(1790000000), snap.Primary.ResetsAt.Unix())

	require.NotNil(t, snap.Secondary)
	assert.InDelta(t, 0.12, snap.Secondary.UsedPercent, 1e-9)
	require.NotNil(t, snap.Secondary.WindowMinutes)
	assert.Equal(t, 10080, *snap.Secondary.WindowMinutes)

	assert.Nil(t, snap.Tertiary)
	assert.Equal(t, "ChatGPT Plus", snap.Identity.Plan)
}

func TestCodexUnauthorizedIsCredentialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewCodex(zerolog.Nop(), writeCodexCreds(t))
	p.usageURL = srv.URL

	_, err := p.FetchUsage(context.Background())
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, codexAuthHint, credErr.Hint)
}

func TestCodexHasValidCredentials(t *testing.T) {
	p := NewCodex(zerolog.Nop(), writeCodexCreds(t))
	assert.True(t, p.HasValidCredentials())

	empty := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"tokens":{}}`), 0o600))
	assert.False(t, NewCodex(zerolog.Nop(), empty).HasValidCredentials())

	missing := NewCodex(zerolog.Nop(), filepath.Join(t.TempDir(), "nope.json"))
	assert.False(t, missing.HasValidCredentials())
}

func TestCodexPlanMapping(t *testing.T) {
	tests := []struct {
		planType string
		want     string
	}{
		{"plus", "ChatGPT Plus"},
		{"pro", "ChatGPT Pro"},
		{"team", "ChatGPT Team"},
		{"enterprise", "ChatGPT Enterprise"},
		{"edu", "ChatGPT Edu"},
		{"", "ChatGPT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, codexPlan(tt.planType), "plan_type=%q", tt.planType)
	}
}
