// Package provider fetches live rate-limit usage from the monitored
// accounts' APIs.
package provider

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kabilan/claude-bar/internal/config"
	"github.com/kabilan/claude-bar/internal/model"
)

// UsageProvider is one monitored account.
type UsageProvider interface {
	// Identifier is the stable provider key.
	Identifier() model.Provider

	// Name is the human-readable account name.
	Name() string

	// DashboardURL points at the account's usage page.
	DashboardURL() string

	// CredentialsPath is the credential file this provider reads.
	CredentialsPath() string

	// HasValidCredentials cheaply prechecks the credential file so an
	// obviously dead token doesn't burn an API call.
	HasValidCredentials() bool

	// CredentialErrorHint tells the user how to sign in again.
	CredentialErrorHint() string

	// FetchUsage retrieves the current rate-limit snapshot.
	FetchUsage(ctx context.Context) (*model.UsageSnapshot, error)
}

// CredentialError marks a fetch failure caused by missing or expired
// credentials rather than the service misbehaving.
type CredentialError struct {
	Hint string
	Err  error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return e.Hint + ": " + e.Err.Error()
	}
	return e.Hint
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Registry holds the configured providers.
type Registry struct {
	providers map[model.Provider]UsageProvider
	order     []model.Provider
}

// NewRegistry builds providers for every enabled account.
func NewRegistry(cfg config.Config, log zerolog.Logger) *Registry {
	r := &Registry{providers: make(map[model.Provider]UsageProvider)}

	if cfg.Providers.Claude.Enabled {
		r.add(NewClaude(log, cfg.Providers.Claude.CredentialsPath))
	}
	if cfg.Providers.Codex.Enabled {
		r.add(NewCodex(log, cfg.Providers.Codex.CredentialsPath))
	}
	return r
}

func (r *Registry) add(p UsageProvider) {
	r.providers[p.Identifier()] = p
	r.order = append(r.order, p.Identifier())
}

// Enabled returns the providers in registration order.
func (r *Registry) Enabled() []UsageProvider {
	out := make([]UsageProvider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// Get looks a provider up by its key.
func (r *Registry) Get(p model.Provider) (UsageProvider, bool) {
	up, ok := r.providers[p]
	return up, ok
}

// CredentialPaths maps each enabled provider to its credential file,
// for the filesystem watcher.
func (r *Registry) CredentialPaths() map[model.Provider]string {
	paths := make(map[model.Provider]string, len(r.order))
	for _, id := range r.order {
		paths[id] = r.providers[id].CredentialsPath()
	}
	return paths
}
