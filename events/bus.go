// Package events is the in-process status fan-out: topic-per-flow
// publish-subscribe with at-most-once, best-effort delivery. Subscribers
// that miss events reconcile by re-reading the flow status over HTTP.
package events

import (
	"sync"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/types"
)

// Handler receives one published update. Handlers run on the publisher's
// goroutine and must not block; slow consumers buffer or drop on their side.
type Handler func(types.StatusUpdate)

// Bus fans status updates out to per-flow subscribers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]Handler
	nextID uint64
	logger log.Logger
}

// NewBus builds an empty bus.
func NewBus(logger log.Logger) *Bus {
	return &Bus{
		topics: make(map[string]map[uint64]Handler),
		logger: logger.With(log.ModuleKey, "event-bus"),
	}
}

// Subscribe registers a handler for one flow's updates and returns the
// function that removes it. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(flowID string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	subs, ok := b.topics[flowID]
	if !ok {
		subs = make(map[uint64]Handler)
		b.topics[flowID] = subs
	}
	subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.topics[flowID]
		if !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, flowID)
		}
	}
}

// Publish delivers an update to every subscriber of its flow. Delivery is
// synchronous and at-most-once; there is no replay.
func (b *Bus) Publish(update types.StatusUpdate) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.topics[update.FlowID]))
	for _, fn := range b.topics[update.FlowID] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	b.logger.Debug("publishing status update",
		"flow_id", update.FlowID, "stage", update.Stage, "status", update.Status, "subscribers", len(handlers))
	for _, fn := range handlers {
		fn(update)
	}
}

// SubscriberCount reports the live subscriptions for one flow.
func (b *Bus) SubscriberCount(flowID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[flowID])
}
