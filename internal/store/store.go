// Package store holds the latest usage, cost and token snapshots per
// provider and broadcasts change events to subscribers.
package store

import (
	"sync"
	"time"

	"github.com/kabilan/claude-bar/internal/model"
)

// Store is the in-memory state shared between the poller and anything
// rendering or reacting to usage data. All methods are safe for
// concurrent use; reads return deep copies so callers can never mutate
// shared state.
//
// A provider holds either a usage snapshot or an error, never both: a
// successful fetch clears the error, a failed fetch evicts the stale
// snapshot.
type Store struct {
	mu        sync.RWMutex
	snapshots map[model.Provider]*model.UsageSnapshot
	costs     map[model.Provider]*model.CostSnapshot
	tokens    map[model.Provider]*model.TokenSnapshot
	errors    map[model.Provider]string
	lastFetch map[model.Provider]time.Time
	notified  map[model.Provider]bool

	events *broadcaster

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty store. onEventDropped, if non-nil, is invoked
// each time a slow subscriber loses an event.
func New(onEventDropped func()) *Store {
	return &Store{
		snapshots: make(map[model.Provider]*model.UsageSnapshot),
		costs:     make(map[model.Provider]*model.CostSnapshot),
		tokens:    make(map[model.Provider]*model.TokenSnapshot),
		errors:    make(map[model.Provider]string),
		lastFetch: make(map[model.Provider]time.Time),
		notified:  make(map[model.Provider]bool),
		events:    newBroadcaster(onEventDropped),
		now:       time.Now,
	}
}

// Subscribe registers for change events. The returned cancel func
// unregisters and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// GetSnapshot returns a copy of the provider's usage snapshot.
func (s *Store) GetSnapshot(p model.Provider) (*model.UsageSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[p]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// GetCost returns a copy of the provider's cost snapshot.
func (s *Store) GetCost(p model.Provider) (*model.CostSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cost, ok := s.costs[p]
	if !ok {
		return nil, false
	}
	return cost.Clone(), true
}

// GetTokens returns a copy of the provider's token snapshot.
func (s *Store) GetTokens(p model.Provider) (*model.TokenSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[p]
	if !ok {
		return nil, false
	}
	return tok.Clone(), true
}

// GetError returns the provider's current fetch error, if any.
func (s *Store) GetError(p model.Provider) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.errors[p]
	return msg, ok
}

// LastFetch reports when the provider's snapshot was last updated.
func (s *Store) LastFetch(p model.Provider) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastFetch[p]
	return t, ok
}

// UpdateSnapshot stores a fresh usage snapshot, clearing any error
// state. When an error was present an error_cleared event precedes the
// snapshot_updated event.
func (s *Store) UpdateSnapshot(p model.Provider, snap *model.UsageSnapshot) {
	s.mu.Lock()
	_, hadError := s.errors[p]
	delete(s.errors, p)
	s.snapshots[p] = snap.Clone()
	s.lastFetch[p] = s.now()
	s.mu.Unlock()

	if hadError {
		s.events.publish(Event{Kind: EventErrorCleared, Provider: p})
	}
	s.events.publish(Event{Kind: EventSnapshotUpdated, Provider: p})
}

// SetError records a fetch failure. The stale snapshot, if any, is
// evicted so consumers don't render data that no longer reflects the
// account. The attempt still stamps lastFetch, so a failing provider
// is retried on its backoff cooldown rather than every tick.
func (s *Store) SetError(p model.Provider, msg string) {
	s.mu.Lock()
	s.errors[p] = msg
	delete(s.snapshots, p)
	s.lastFetch[p] = s.now()
	s.mu.Unlock()

	s.events.publish(Event{Kind: EventErrorOccurred, Provider: p, Error: msg})
}

// UpdateCost stores a fresh cost snapshot.
func (s *Store) UpdateCost(p model.Provider, cost *model.CostSnapshot) {
	s.mu.Lock()
	s.costs[p] = cost.Clone()
	s.mu.Unlock()

	s.events.publish(Event{Kind: EventCostUpdated, Provider: p})
}

// UpdateTokens stores a fresh token snapshot.
func (s *Store) UpdateTokens(p model.Provider, tok *model.TokenSnapshot) {
	s.mu.Lock()
	s.tokens[p] = tok.Clone()
	s.mu.Unlock()

	s.events.publish(Event{Kind: EventCostUpdated, Provider: p})
}

// ShouldRefresh reports whether the provider's snapshot is older than
// the cooldown. A provider that has never been fetched always needs a
// refresh.
func (s *Store) ShouldRefresh(p model.Provider, cooldown time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last, ok := s.lastFetch[p]
	if !ok {
		return true
	}
	return s.now().Sub(last) >= cooldown
}

// ShouldNotify reports whether the provider has crossed the usage
// threshold and no notification has been sent for this breach.
func (s *Store) ShouldNotify(p model.Provider, threshold float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[p]
	if !ok {
		return false
	}
	return snap.MaxUsage() >= threshold && !s.notified[p]
}

// MarkNotified records that a threshold notification was delivered;
// further breaches stay silent until ResetNotification.
func (s *Store) MarkNotified(p model.Provider) {
	s.mu.Lock()
	s.notified[p] = true
	s.mu.Unlock()
}

// ResetNotification re-arms threshold notifications for the provider.
func (s *Store) ResetNotification(p model.Provider) {
	s.mu.Lock()
	delete(s.notified, p)
	s.mu.Unlock()
}

// EmitAlert broadcasts a usage_alert event.
func (s *Store) EmitAlert(p model.Provider, usedPercent float64) {
	s.events.publish(Event{Kind: EventUsageAlert, Provider: p, UsedPercent: usedPercent})
}
