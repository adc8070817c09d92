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
// Package pubsub provides a small typed publish/subscribe broker.
package pubsub

import "sync"

// Event wraps a payload with a topic name.
type Event[T any] struct {
	Topic   string
	Payload T
}

// Broker fans events out to subscribers. Publishing never blocks: slow
// subscribers drop events once their buffer is full, so subscribers that
// must not miss events should size their buffer accordingly.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan Event[T]
	nextID int
	closed bool
}

// NewBroker creates a new broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: make(map[int]chan Event[T]),
	}
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus a cancel function. The channel is closed on cancel or
// broker shutdown.
func (b *Broker[T]) Subscribe(buffer int) (<-chan Event[T], func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (b *Broker[T]) Publish(topic string, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev := Event[T]{Topic: topic, Payload: payload}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
