// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package eventbus

import (
	"boatmon/pkg/logger"
	"context"
	"sync"
	"sync/atomic"
)

type Topic string
type Event = any

// Bus implements an in-memory pub/sub where the most recent event
// is the only one kept per subscriber.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic]map[uint64]chan Event
	last      map[Topic]Event
	idCounter uint64
	closed    atomic.Bool
	log       *logger.Logger

	eventCount       atomic.Int64
	sendCount        atomic.Int64
	sendDropCount    atomic.Int64
	sendReplaceCount atomic.Int64
}

type Stats struct {
	Events   int64 `json:"events"`
	Sent     int64 `json:"sent"`
	Replaced int64 `json:"replaced"`
	Dropped  int64 `json:"dropped"`
}

func (b *Bus) Stats() Stats {
	return Stats{
		Events:   b.eventCount.Load(),
		Sent:     b.sendCount.Load(),
		Replaced: b.sendReplaceCount.Load(),
		Dropped:  b.sendDropCount.Load(),
	}
}

// New returns an initialized Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[Topic]map[uint64]chan Event),
		last: make(map[Topic]Event),
		log:  logger.New("EventBus"),
	}
}

// Publish stores ev as the last event for topic and hands it to every
// subscriber. A subscriber that has not consumed its previous event gets
// it replaced, so slow readers always see the most recent value.
func (b *Bus) Publish(topic Topic, ev Event) {
	if b.closed.Load() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Close may have won the race for the lock
	if b.closed.Load() {
		return
	}

	b.eventCount.Add(1)
	b.last[topic] = ev

	// sends never block; holding the lock keeps channels from being
	// closed underneath them
	for _, ch := range b.subs[topic] {
		b.publishReplace(ch, ev)
	}
}

// publishReplace delivers ev to ch without blocking, evicting an unread
// value if the channel is full.
func (b *Bus) publishReplace(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		b.sendCount.Add(1)
		return
	default:
	}

	select {
	case <-ch:
		b.sendReplaceCount.Add(1)
	default:
	}
	select {
	case ch <- ev:
	default:
		b.log.Error("dropped event: %+v", ev)
		b.sendDropCount.Add(1)
		return
	}
	b.sendCount.Add(1)
}

// Subscribe returns a channel of events for topic and an unsubscribe func.
// With withLast, the stored last event (if any) is delivered right away.
// The channel is closed when ctx is canceled or unsubscribe is called.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, withLast bool) (<-chan Event, func()) {
	if b.closed.Load() {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 1)
	id := atomic.AddUint64(&b.idCounter, 1)

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]chan Event)
	}
	b.subs[topic][id] = ch
	if withLast {
		if last, ok := b.last[topic]; ok {
			b.publishReplace(ch, last)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	var doneOnce sync.Once
	unsub := func() {
		doneOnce.Do(func() { close(done) })
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.subs == nil {
			// Close already closed every channel
			return
		}
		if m, ok := b.subs[topic]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(b.subs, topic)
			}
		}
		close(ch)
	}()

	return ch, unsub
}

// SubscribeAll fans several topics into one channel. The channel is closed
// once every underlying subscription has ended.
func (b *Bus) SubscribeAll(ctx context.Context, topics []Topic, withLast bool) <-chan Event {
	out := make(chan Event, len(topics)+1)

	var wg sync.WaitGroup
	for _, topic := range topics {
		ch, _ := b.Subscribe(ctx, topic, withLast)
		wg.Go(func() {
			for ev := range ch {
				select {
				case out <- ev:
				case <-ctx.Done():
				}
			}
		})
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// GetLast returns the last published event for a topic (if any).
func (b *Bus) GetLast(topic Topic) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.last[topic]
	return v, ok
}

// Close closes the bus and all subscriber channels. After Close, Publish is
// a no-op and Subscribe returns a closed channel.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	for _, m := range b.subs {
		for _, ch := range m {
			close(ch)
		}
	}
	b.subs = nil
	b.last = nil
	b.mu.Unlock()
}
