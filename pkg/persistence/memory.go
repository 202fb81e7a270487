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

package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nexiot/shadow-core/pkg/models"
)

// InMemoryStore is a thread-safe in-memory shadow store.
//
// Documents are deep-copied on every read and write so that neither the
// caller nor the mutator can reach into committed state. A sync.RWMutex
// protects the map: Get takes a read lock, CompareAndSwap and Delete take
// the write lock, which makes each swap atomic with respect to all other
// operations. Designed for single-process deployments and tests; use the
// SQLite store when shadows must survive a restart.
type InMemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*models.ShadowDocument
	closed    bool
}

// NewInMemoryStore creates an empty in-memory shadow store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		documents: make(map[string]*models.ShadowDocument),
	}
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	return ctx.Err()
}

// Get returns a deep copy of the latest committed document for deviceID.
func (s *InMemoryStore) Get(ctx context.Context, deviceID string) (*models.ShadowDocument, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	doc, ok := s.documents[deviceID]
	if !ok {
		return nil, false, nil
	}

	return doc.Clone(), true, nil
}

// CompareAndSwap implements the Store contract. The whole swap runs under
// the write lock, so the version check and the commit are atomic.
func (s *InMemoryStore) CompareAndSwap(ctx context.Context, deviceID string, expectedVersion int64, mutate Mutator) (*models.ShadowDocument, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	current, exists := s.documents[deviceID]

	var working *models.ShadowDocument

	switch {
	case expectedVersion == CreateVersion:
		if exists {
			return nil, ErrVersionConflict
		}

		working = &models.ShadowDocument{
			DeviceID: deviceID,
			Reported: models.PropertyMap{},
			Desired:  models.PropertyMap{},
		}
	case !exists:
		return nil, ErrNotFound
	case current.Version != expectedVersion:
		return nil, ErrVersionConflict
	default:
		working = current.Clone()
	}

	next, err := mutate(working)
	if err != nil {
		return nil, err
	}

	next.DeviceID = deviceID
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()

	s.documents[deviceID] = next

	return next.Clone(), nil
}

// Delete removes the document for deviceID.
func (s *InMemoryStore) Delete(ctx context.Context, deviceID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.documents[deviceID]; !ok {
		return ErrNotFound
	}

	delete(s.documents, deviceID)

	return nil
}

// Close marks the store closed. Idempotent.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.documents = nil

	return nil
}
