package jobs

import (
	"sync"

	"github.com/Veraticus/the-spice-must-match/internal/model"
)

// Event is a notification published by the manager.
type Event interface {
	event()
}

// JobEvent reports a job transition or a persisted progress step.
type JobEvent struct {
	JobID     string
	Kind      model.JobKind
	Status    model.JobStatus
	Processed int
	Total     int
}

// TransactionsUpdated reports that a finished job changed ledger rows.
type TransactionsUpdated struct {
	JobID string
	Kind  model.JobKind
	Count int
}

func (JobEvent) event()            {}
func (TransactionsUpdated) event() {}

// subscriberBuffer is the per-subscriber queue depth. Events beyond it are
// dropped for that subscriber; job status stays readable by polling.
const subscriberBuffer = 64

// Broker fans events out to subscribers without blocking publishers.
type Broker struct {
	subs   map[int]chan Event
	nextID int
	closed bool
	mu     sync.Mutex
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room for it.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
