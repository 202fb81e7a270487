// Copyright 2026 Nexiot GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notifier fans change events out to live subscribers.
//
// Every listener owns a bounded queue. When a queue is full the oldest
// pending event for that listener is discarded (drop-oldest policy) and a
// counter increments; the publisher never blocks and other listeners are
// unaffected. Events survive only in memory: after a restart subscribers
// re-fetch full shadow state instead of replaying a backlog.
package notifier

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexiot/shadow-core/pkg/logger"
	"github.com/nexiot/shadow-core/pkg/metrics"
	"github.com/nexiot/shadow-core/pkg/models"
	"github.com/nexiot/shadow-core/pkg/subscriptions"
)

// DefaultQueueSize bounds each listener's pending events.
const DefaultQueueSize = 64

// Delivery is one routed event together with the operation set the
// receiving subscriber asked for. The gateway expands it into the
// individual shadow_update messages the subscriber wants.
type Delivery struct {
	Event      models.ChangeEvent
	Operations subscriptions.OperationSet
}

// Listener is one registered consumer. Events arrive on Deliveries() in
// publish order per device; the channel closes on Unregister.
type Listener struct {
	connectionID uuid.UUID
	queue        chan Delivery
	// mu serializes enqueue against close and keeps the drop-oldest
	// shuffle atomic, preserving per-device ordering.
	mu     sync.Mutex
	closed bool
}

// Deliveries returns the listener's event channel.
func (l *Listener) Deliveries() <-chan Delivery {
	return l.queue
}

// enqueue adds a delivery without ever blocking. On overflow the oldest
// pending delivery is dropped to make room.
func (l *Listener) enqueue(d Delivery) (dropped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	for {
		select {
		case l.queue <- d:
			return dropped
		default:
		}

		select {
		case <-l.queue:
			dropped = true
		default:
		}
	}
}

func (l *Listener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		close(l.queue)
	}
}

// Notifier is the in-process change event bus. Routing decisions come from
// the subscription registry; queue ownership and overflow policy live here.
type Notifier struct {
	registry  *subscriptions.Registry
	mu        sync.RWMutex
	listeners map[uuid.UUID]*Listener
	queueSize int
	log       *zap.SugaredLogger
}

// NewNotifier creates a notifier routing through registry. queueSize <= 0
// falls back to DefaultQueueSize.
func NewNotifier(registry *subscriptions.Registry, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Notifier{
		registry:  registry,
		listeners: make(map[uuid.UUID]*Listener),
		queueSize: queueSize,
		log:       logger.For(logger.ComponentNotifier),
	}
}

// Register creates the listener for a connection. Registering the same
// connection twice replaces the previous listener and closes it.
func (n *Notifier) Register(connectionID uuid.UUID) *Listener {
	listener := &Listener{
		connectionID: connectionID,
		queue:        make(chan Delivery, n.queueSize),
	}

	n.mu.Lock()
	previous := n.listeners[connectionID]
	n.listeners[connectionID] = listener
	n.mu.Unlock()

	if previous != nil {
		previous.close()
	}

	return listener
}

// Unregister removes and closes the listener for a connection. Safe to call
// for connections that never registered.
func (n *Notifier) Unregister(connectionID uuid.UUID) {
	n.mu.Lock()
	listener := n.listeners[connectionID]
	delete(n.listeners, connectionID)
	n.mu.Unlock()

	if listener != nil {
		listener.close()
	}
}

// Publish routes event to every subscriber of its device. Never blocks;
// a full listener queue loses its oldest event instead.
func (n *Notifier) Publish(event models.ChangeEvent) {
	metrics.IncEventPublished()

	subscribers := n.registry.SubscribersFor(event.DeviceID)
	if len(subscribers) == 0 {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range subscribers {
		listener, ok := n.listeners[sub.ConnectionID]
		if !ok {
			continue
		}

		if listener.enqueue(Delivery{Event: event, Operations: sub.Operations}) {
			metrics.IncEventDropped()
			n.log.Debugf("Dropped oldest pending event for slow subscriber %s (device %s)",
				sub.ConnectionID, event.DeviceID)
		}
	}
}
