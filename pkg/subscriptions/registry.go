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

// Package subscriptions tracks which live connections want shadow updates
// for which devices and which shadow sections.
package subscriptions

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nexiot/shadow-core/pkg/models"
	"github.com/nexiot/shadow-core/pkg/shadowerrors"
)

// OperationSet is the set of shadow sections a subscriber asked for.
type OperationSet map[models.Operation]struct{}

// NewOperationSet builds a set from a slice, dropping duplicates.
func NewOperationSet(ops []models.Operation) OperationSet {
	set := make(OperationSet, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}

	return set
}

// Contains reports whether op is in the set.
func (s OperationSet) Contains(op models.Operation) bool {
	_, ok := s[op]

	return ok
}

func (s OperationSet) union(other OperationSet) {
	for op := range other {
		s[op] = struct{}{}
	}
}

// Subscriber pairs a connection with the operations it wants for a device.
type Subscriber struct {
	ConnectionID uuid.UUID
	Operations   OperationSet
}

// DefaultCapacity bounds the total number of (connection, device) pairs the
// registry will hold before subscribe calls fail.
const DefaultCapacity = 10000

// Registry is the shared subscription table. It keeps the forward map
// (device to subscribers) for event routing and the inverse map
// (connection to devices) so a disconnect can be cleaned up in one call.
// Both maps are guarded by a single RWMutex; lookups on the hot publish
// path take only the read lock.
type Registry struct {
	mu sync.RWMutex
	// byDevice maps deviceID -> connectionID -> operation set.
	byDevice map[string]map[uuid.UUID]OperationSet
	// byConnection maps connectionID -> set of deviceIDs.
	byConnection map[uuid.UUID]map[string]struct{}
	// entries counts (connection, device) pairs against capacity.
	entries  int
	capacity int
}

// NewRegistry creates a registry bounded at capacity subscriptions.
// A non-positive capacity falls back to DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Registry{
		byDevice:     make(map[string]map[uuid.UUID]OperationSet),
		byConnection: make(map[uuid.UUID]map[string]struct{}),
		capacity:     capacity,
	}
}

// Subscribe registers connectionID for the given devices and operations.
// Idempotent: re-subscribing a device unions the operation sets and does
// not count against capacity again. Returns ErrSubscriptionFailed when the
// request is empty, names an unknown operation, or the registry is full;
// in the capacity case no partial registration is left behind.
func (r *Registry) Subscribe(connectionID uuid.UUID, deviceIDs []string, operations []models.Operation) error {
	if len(deviceIDs) == 0 || len(operations) == 0 {
		return shadowerrors.ErrSubscriptionFailed
	}

	for _, op := range operations {
		if !models.ValidOperation(op) {
			return shadowerrors.ErrSubscriptionFailed
		}
	}

	ops := NewOperationSet(operations)

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0

	for _, deviceID := range deviceIDs {
		if _, already := r.byDevice[deviceID][connectionID]; !already {
			added++
		}
	}

	if r.entries+added > r.capacity {
		return shadowerrors.ErrSubscriptionFailed
	}

	devices := r.byConnection[connectionID]
	if devices == nil {
		devices = make(map[string]struct{})
		r.byConnection[connectionID] = devices
	}

	for _, deviceID := range deviceIDs {
		subs := r.byDevice[deviceID]
		if subs == nil {
			subs = make(map[uuid.UUID]OperationSet)
			r.byDevice[deviceID] = subs
		}

		if existing, ok := subs[connectionID]; ok {
			existing.union(ops)
		} else {
			set := make(OperationSet, len(ops))
			set.union(ops)
			subs[connectionID] = set
			r.entries++
		}

		devices[deviceID] = struct{}{}
	}

	return nil
}

// UnsubscribeAll removes every subscription held by connectionID. Called
// synchronously on disconnect so publishes never route to dead connections.
func (r *Registry) UnsubscribeAll(connectionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices, ok := r.byConnection[connectionID]
	if !ok {
		return
	}

	for deviceID := range devices {
		subs := r.byDevice[deviceID]
		if _, had := subs[connectionID]; had {
			delete(subs, connectionID)
			r.entries--
		}

		if len(subs) == 0 {
			delete(r.byDevice, deviceID)
		}
	}

	delete(r.byConnection, connectionID)
}

// SubscribersFor returns a snapshot of the subscribers interested in
// deviceID. The snapshot is safe to iterate without holding any lock;
// operation sets are copied so later unions do not race with routing.
func (r *Registry) SubscribersFor(deviceID string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byDevice[deviceID]
	if len(subs) == 0 {
		return nil
	}

	snapshot := make([]Subscriber, 0, len(subs))

	for connectionID, ops := range subs {
		copied := make(OperationSet, len(ops))
		copied.union(ops)
		snapshot = append(snapshot, Subscriber{
			ConnectionID: connectionID,
			Operations:   copied,
		})
	}

	return snapshot
}

// Devices returns the devices connectionID is subscribed to.
func (r *Registry) Devices(connectionID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := r.byConnection[connectionID]
	if len(devices) == 0 {
		return nil
	}

	out := make([]string, 0, len(devices))
	for deviceID := range devices {
		out = append(out, deviceID)
	}

	return out
}

// Length returns the number of (connection, device) subscription pairs.
func (r *Registry) Length() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.entries
}
