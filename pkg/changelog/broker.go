package changelog

import (
	"sync"
	"time"

	"github.com/cuemby/latticedb/pkg/types"
)

// Subscriber receives committed change-log entries in LSN order.
type Subscriber chan types.ChangeLogEntry

// Broker fans a committed entry out to every live CDC subscriber. The
// producer blocks on a full subscriber buffer rather than dropping: a
// silently lost entry would break the exactly-one-entry-per-committed-
// mutation guarantee consumers resume on. A subscriber that stays blocked
// past behindThreshold is marked behind; the cluster layer is expected to
// catch it up via snapshot install instead of continuing the log stream.
type Broker struct {
	mu              sync.RWMutex
	subscribers     map[Subscriber]*subState
	behindThreshold time.Duration
	stopCh          chan struct{}
}

type subState struct {
	behind bool
}

func NewBroker(behindThreshold time.Duration) *Broker {
	return &Broker{
		subscribers:     make(map[Subscriber]*subState),
		behindThreshold: behindThreshold,
		stopCh:          make(chan struct{}),
	}
}

func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 256)
	b.subscribers[sub] = &subState{}
	return sub
}

func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish delivers entry to every subscriber, blocking on any subscriber
// whose buffer is full until either delivery succeeds, the broker is
// stopped, or behindThreshold elapses (at which point that subscriber is
// marked behind and skipped for this entry, not unsubscribed).
func (b *Broker) Publish(entry types.ChangeLogEntry) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	states := make([]*subState, 0, len(b.subscribers))
	for sub, st := range b.subscribers {
		subs = append(subs, sub)
		states = append(states, st)
	}
	b.mu.RUnlock()

	for i, sub := range subs {
		select {
		case sub <- entry:
			states[i].behind = false
		case <-b.stopCh:
			return
		case <-time.After(b.behindThreshold):
			states[i].behind = true
		}
	}
}

// Behind reports whether sub has been unable to keep up within
// behindThreshold and should be caught up via snapshot install.
func (b *Broker) Behind(sub Subscriber) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.subscribers[sub]; ok {
		return st.behind
	}
	return false
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stop releases any goroutine currently blocked in Publish and closes all
// subscriber channels.
func (b *Broker) Stop() {
	close(b.stopCh)
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = make(map[Subscriber]*subState)
}
