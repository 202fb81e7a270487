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

// Package persistence provides the versioned shadow document store.
//
// The store is deliberately narrow: reads return the latest committed
// document, and the compare-and-swap primitive is the sole write path.
// All higher-level write semantics (merge rules, version preconditions,
// event emission) live in the coordinator, which is the only component
// allowed to call CompareAndSwap.
//
// Two backends exist: an in-memory store for tests and ephemeral
// deployments, and a SQLite store for durable single-node deployments.
// Both are safe for concurrent use.
package persistence

import (
	"context"
	"errors"

	"github.com/nexiot/shadow-core/pkg/models"
)

var (
	// ErrNotFound is returned when no document exists for the device and
	// the caller did not opt into creation.
	ErrNotFound = errors.New("document not found")

	// ErrVersionConflict is returned when the expected version does not
	// match the stored version.
	ErrVersionConflict = errors.New("document version conflict")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// CreateVersion is the expected version that opts a CompareAndSwap call
// into lazy creation: the swap succeeds only if no document exists yet,
// and the mutator receives a fresh zero-version document.
const CreateVersion int64 = 0

// Mutator transforms the current document into its successor. The store
// hands it a private deep copy; the mutator may modify it in place and
// must return the document to commit. Version bumping is done by the
// store after the mutator returns, so mutators only touch content.
type Mutator func(doc *models.ShadowDocument) (*models.ShadowDocument, error)

// Store is the versioned key-document storage for shadow documents.
type Store interface {
	// Get returns a deep copy of the latest committed document.
	// The boolean is false (and the document nil) when none exists.
	Get(ctx context.Context, deviceID string) (*models.ShadowDocument, bool, error)

	// CompareAndSwap atomically replaces the document for deviceID if its
	// current version equals expectedVersion, applying mutate to a copy of
	// the stored document and committing the result with version+1.
	//
	// expectedVersion == CreateVersion means "create": it succeeds only
	// when no document exists, and the mutator sees an empty document.
	// A mismatch returns ErrVersionConflict; a non-create swap against a
	// missing document returns ErrNotFound. On success the committed
	// document is returned.
	CompareAndSwap(ctx context.Context, deviceID string, expectedVersion int64, mutate Mutator) (*models.ShadowDocument, error)

	// Delete removes the document. Terminal and irreversible; returns
	// ErrNotFound when nothing is stored for the device.
	Delete(ctx context.Context, deviceID string) error

	// Close releases backend resources. The store must not be used after.
	Close() error
}
