package store

import (
	"sync"

	"github.com/kabilan/claude-bar/internal/model"
)

// EventKind labels a store event.
type EventKind string

const (
	EventSnapshotUpdated EventKind = "snapshot_updated"
	EventErrorOccurred   EventKind = "error_occurred"
	EventErrorCleared    EventKind = "error_cleared"
	EventCostUpdated     EventKind = "cost_updated"
	EventUsageAlert      EventKind = "usage_alert"
)

// Event describes a change to the store's state for one provider.
type Event struct {
	Kind     EventKind
	Provider model.Provider

	// Error is set for error_occurred events.
	Error string

	// UsedPercent is set for usage_alert events.
	UsedPercent float64
}

// broadcaster fans events out to subscribers. Each subscriber owns a
// bounded channel; when a channel is full the oldest queued event is
// dropped so publishers never block.
type broadcaster struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	dropped func()
}

func newBroadcaster(onDrop func()) *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event), dropped: onDrop}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Full: drop the oldest queued event and retry.
				select {
				case <-ch:
					if b.dropped != nil {
						b.dropped()
					}
				default:
				}
				continue
			}
			break
		}
	}
}
