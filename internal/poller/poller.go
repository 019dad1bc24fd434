// Package poller drives the fetch loop: live usage from the provider
// APIs on a cooldown with failure backoff, and periodic local log
// scans for cost accounting.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kabilan/claude-bar/internal/cost"
	"github.com/kabilan/claude-bar/internal/metrics"
	"github.com/kabilan/claude-bar/internal/model"
	"github.com/kabilan/claude-bar/internal/provider"
	"github.com/kabilan/claude-bar/internal/retry"
	"github.com/kabilan/claude-bar/internal/store"
)

// Credential-change fetches are rate limited so a login flow that
// rewrites the file repeatedly doesn't hammer the API.
const forcedFetchInterval = 5 * time.Second

// CostAccountant is the slice of the accountant the poller uses.
type CostAccountant interface {
	RefreshPricing(ctx context.Context, force bool) cost.RefreshResult
	ScanAll() map[model.Provider]cost.Result
}

// Options configures a Poller.
type Options struct {
	// PollInterval is the wake-up cadence for cooldown checks.
	PollInterval time.Duration

	// CostScanInterval is the cadence of local log scans.
	CostScanInterval time.Duration

	// NotifyThreshold is the utilization (0..1) that triggers a usage
	// alert.
	NotifyThreshold float64

	// CredentialEvents, when non-nil, delivers providers whose
	// credential files changed; each event clears that provider's
	// backoff and forces a fetch.
	CredentialEvents <-chan model.Provider
}

// Poller owns one retry state per provider and keeps the store fed.
type Poller struct {
	providers  []provider.UsageProvider
	store      *store.Store
	accountant CostAccountant
	opts       Options

	retries map[model.Provider]*retry.State
	forced  map[model.Provider]*rate.Limiter

	mu       sync.Mutex
	inflight map[model.Provider]bool
	wg       sync.WaitGroup

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a poller over the given providers.
func New(log zerolog.Logger, m *metrics.Metrics, providers []provider.UsageProvider, st *store.Store, acct CostAccountant, opts Options) *Poller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.CostScanInterval <= 0 {
		opts.CostScanInterval = 5 * time.Minute
	}
	if opts.NotifyThreshold <= 0 || opts.NotifyThreshold > 1 {
		opts.NotifyThreshold = 0.90
	}

	p := &Poller{
		providers:  providers,
		store:      st,
		accountant: acct,
		opts:       opts,
		retries:    make(map[model.Provider]*retry.State),
		forced:     make(map[model.Provider]*rate.Limiter),
		inflight:   make(map[model.Provider]bool),
		log:        log,
		metrics:    m,
	}
	for _, up := range providers {
		p.retries[up.Identifier()] = retry.New()
		p.forced[up.Identifier()] = rate.NewLimiter(rate.Every(forcedFetchInterval), 1)
	}
	return p
}

// Run blocks until ctx is cancelled, then waits for in-flight fetches
// to drain and returns nil.
func (p *Poller) Run(ctx context.Context) error {
	// Populate the store immediately rather than waiting out a tick.
	for _, up := range p.providers {
		p.startFetch(ctx, up)
	}
	p.scanCosts(ctx)

	pollTick := time.NewTicker(p.opts.PollInterval)
	defer pollTick.Stop()
	costTick := time.NewTicker(p.opts.CostScanInterval)
	defer costTick.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return nil

		case <-pollTick.C:
			for _, up := range p.providers {
				id := up.Identifier()
				if p.store.ShouldRefresh(id, p.retries[id].CurrentDelay()) {
					p.startFetch(ctx, up)
				}
			}

		case <-costTick.C:
			p.scanCosts(ctx)

		case changed, ok := <-p.opts.CredentialEvents:
			if !ok {
				p.opts.CredentialEvents = nil
				continue
			}
			p.onCredentialChange(ctx, changed)
		}
	}
}

// onCredentialChange resets the provider's backoff and fetches right
// away, so a fresh login is reflected without waiting out a penalty
// earned by the old token.
func (p *Poller) onCredentialChange(ctx context.Context, changed model.Provider) {
	for _, up := range p.providers {
		if up.Identifier() != changed {
			continue
		}
		p.log.Info().Str("provider", string(changed)).Msg("credentials changed")
		p.retries[changed].RecordSuccess()
		if p.forced[changed].Allow() {
			p.startFetch(ctx, up)
		}
		return
	}
}

// startFetch launches a fetch unless one is already running for the
// provider.
func (p *Poller) startFetch(ctx context.Context, up provider.UsageProvider) {
	id := up.Identifier()

	p.mu.Lock()
	if p.inflight[id] {
		p.mu.Unlock()
		return
	}
	p.inflight[id] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inflight, id)
			p.mu.Unlock()
		}()
		p.fetch(ctx, up)
	}()
}

func (p *Poller) fetch(ctx context.Context, up provider.UsageProvider) {
	id := up.Identifier()

	if !up.HasValidCredentials() {
		p.log.Debug().Str("provider", string(id)).Msg("credentials missing or expired")
		p.retries[id].RecordFailure()
		p.store.SetError(id, up.CredentialErrorHint())
		p.metrics.FetchAttempt(id, "credentials")
		return
	}

	snap, err := up.FetchUsage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.retries[id].RecordFailure()
		p.metrics.FetchAttempt(id, "error")

		var credErr *provider.CredentialError
		if errors.As(err, &credErr) {
			p.store.SetError(id, credErr.Hint)
		} else {
			p.store.SetError(id, err.Error())
		}
		p.log.Warn().Err(err).
			Str("provider", string(id)).
			Uint32("consecutive_failures", p.retries[id].ConsecutiveFailures()).
			Dur("next_delay", p.retries[id].CurrentDelay()).
			Msg("usage fetch failed")
		return
	}

	p.retries[id].RecordSuccess()
	p.store.UpdateSnapshot(id, snap)
	p.metrics.FetchAttempt(id, "success")
	p.metrics.SetUsage(id, snap.MaxUsage())
	p.notify(id, snap)
}

// notify fires at most one alert per threshold breach. Dropping back
// below the threshold re-arms the alert.
func (p *Poller) notify(id model.Provider, snap *model.UsageSnapshot) {
	used := snap.MaxUsage()
	if used < p.opts.NotifyThreshold {
		p.store.ResetNotification(id)
		return
	}
	if p.store.ShouldNotify(id, p.opts.NotifyThreshold) {
		p.log.Info().Str("provider", string(id)).Float64("used", used).Msg("usage threshold crossed")
		p.store.EmitAlert(id, used)
		p.store.MarkNotified(id)
	}
}

// scanCosts refreshes pricing if stale, then rebuilds the cost and
// token snapshots from local logs.
func (p *Poller) scanCosts(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		result := p.accountant.RefreshPricing(ctx, false)
		if result == cost.RefreshFailed {
			p.log.Debug().Msg("pricing refresh failed, costs may be estimates")
		}

		for id, res := range p.accountant.ScanAll() {
			p.store.UpdateCost(id, res.Cost)
			p.store.UpdateTokens(id, res.Tokens)
		}
	}()
}
