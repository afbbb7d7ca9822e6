// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DropReasonSlowConsumer is reported when a subscriber's buffer overflows
// and its channel is closed.
const DropReasonSlowConsumer = "slow_consumer"

// DefaultSubscriberBuffer bounds the per-subscriber queue.
const DefaultSubscriberBuffer = 256

// Bus is a per-run broadcast channel. Publishers never block: each
// subscriber has a bounded buffer, and a subscriber that falls behind is
// dropped (its channel closed) rather than stalling the run. Within one
// subscriber, events arrive strictly in publish order.
type Bus struct {
	mu         sync.Mutex
	subs       map[int]*subscriber
	tombstones map[int]string
	nextID     int
	closed     bool
	logger     *zap.Logger
}

type subscriber struct {
	id     int
	ch     chan Event
	reason string
}

// Subscription is a live attachment to the bus.
type Subscription struct {
	// C delivers events. Closed when the subscription is cancelled, the
	// bus closes, or the subscriber is dropped for falling behind.
	C <-chan Event

	bus *Bus
	id  int
}

// DropReason reports why the channel closed ("" if cancelled normally or
// the bus itself closed).
func (s *Subscription) DropReason() string {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		return sub.reason
	}
	// already removed: look in the tombstone map
	return s.bus.tombstones[s.id]
}

// Cancel detaches the subscriber and closes its channel.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subs, s.id)
	}
}

// NewBus creates an event bus for one run.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:       make(map[int]*subscriber),
		tombstones: make(map[int]string),
		logger:     logger,
	}
}

// Subscribe attaches a new subscriber with the given buffer size
// (DefaultSubscriberBuffer when <= 0).
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{id: b.nextID, ch: make(chan Event, buffer)}
	b.nextID++
	if b.closed {
		close(sub.ch)
		return &Subscription{C: sub.ch, bus: b, id: sub.id}
	}
	b.subs[sub.id] = sub
	return &Subscription{C: sub.ch, bus: b, id: sub.id}
}

// Publish broadcasts ev to all subscribers. Never blocks: a subscriber
// whose buffer is full is closed with slow_consumer and removed.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("dropping slow event subscriber",
				zap.String("run_id", ev.RunID),
				zap.Int("subscriber", id),
			)
			sub.reason = DropReasonSlowConsumer
			b.tombstones[id] = DropReasonSlowConsumer
			close(sub.ch)
			delete(b.subs, id)
		}
	}
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
