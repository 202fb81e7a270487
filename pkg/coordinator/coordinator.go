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

// Package coordinator enforces the write semantics of the shadow core.
//
// All writes funnel through here: the coordinator serializes writers per
// device, applies the partial-merge rules, bumps the version through the
// store's compare-and-swap, recomputes the delta, and emits a change event.
// Store-layer errors never leave this package raw; they are mapped onto the
// shadowerrors taxonomy.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/nexiot/shadow-core/pkg/logger"
	"github.com/nexiot/shadow-core/pkg/metrics"
	"github.com/nexiot/shadow-core/pkg/models"
	"github.com/nexiot/shadow-core/pkg/notifier"
	"github.com/nexiot/shadow-core/pkg/persistence"
	"github.com/nexiot/shadow-core/pkg/shadow"
	"github.com/nexiot/shadow-core/pkg/shadowerrors"
)

const (
	// createRetries bounds the re-reads when an unconditioned write loses
	// a creation race against another process sharing the store.
	createRetries = 3

	// deltaCacheTTL bounds how long a computed delta is served without
	// recomputation. Writes refresh the cache eagerly, so the TTL only
	// matters for devices that stopped writing.
	deltaCacheTTL = 5 * time.Minute

	deltaCacheCull = time.Minute
)

type cachedDelta struct {
	Version int64
	Delta   models.PropertyMap
}

// Coordinator owns the per-device write path.
type Coordinator struct {
	store      persistence.Store
	bus        *notifier.Notifier
	locks      *mapmutex.Mutex
	deltaCache *expiremap.ExpireMap[string, cachedDelta]
	log        *zap.SugaredLogger
}

// NewCoordinator wires the coordinator to its store and change bus.
func NewCoordinator(store persistence.Store, bus *notifier.Notifier) *Coordinator {
	return &Coordinator{
		store: store,
		bus:   bus,
		// maxTry 800 with nanosecond-scale backoff: a writer effectively
		// waits out the current holder instead of failing fast.
		locks:      mapmutex.NewCustomizedMapMutex(800, 100000000, 10, 1.1, 0.2),
		deltaCache: expiremap.NewEx[string, cachedDelta](deltaCacheCull, deltaCacheTTL),
		log:        logger.For(logger.ComponentCoordinator),
	}
}

// UpdateReported merges a device-originated patch into the reported
// namespace. Device writes carry no version precondition: the device is the
// only legitimate source for its own state, so its last write wins. The
// shadow is created lazily if this is the device's first report.
func (c *Coordinator) UpdateReported(ctx context.Context, deviceID string, patch models.PropertyMap) (*models.ShadowDocument, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id must not be empty")
	}

	start := time.Now()

	doc, err := c.writeLocked(ctx, deviceID, nil, patch, nil, func(working *models.ShadowDocument) (*models.ShadowDocument, error) {
		working.Reported = shadow.MergePatch(working.Reported, patch)
		stampMetadata(working, models.OperationReported, patch)

		return working, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveWrite(string(models.OperationReported), time.Since(start))

	return doc, nil
}

// UpdateDesired merges an operator patch into the desired namespace.
// A non-nil expectedVersion makes the write conditional: on mismatch the
// caller gets ErrVersionConflict and must re-fetch and retry. Conflicting
// intents are never merged silently.
func (c *Coordinator) UpdateDesired(ctx context.Context, deviceID string, patch models.PropertyMap, expectedVersion *int64) (*models.ShadowDocument, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id must not be empty")
	}

	start := time.Now()

	doc, err := c.writeLocked(ctx, deviceID, expectedVersion, nil, patch, func(working *models.ShadowDocument) (*models.ShadowDocument, error) {
		working.Desired = shadow.MergePatch(working.Desired, patch)
		stampMetadata(working, models.OperationDesired, patch)

		return working, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveWrite(string(models.OperationDesired), time.Since(start))

	return doc, nil
}

// GetShadow reads through to the store. ErrShadowNotFound when the device
// has never reported or been assigned a desired state.
func (c *Coordinator) GetShadow(ctx context.Context, deviceID string) (*models.ShadowDocument, error) {
	doc, found, err := c.store.Get(ctx, deviceID)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentCoordinator)

		return nil, fmt.Errorf("failed to read shadow for %s: %w", deviceID, err)
	}

	if !found {
		return nil, shadowerrors.ErrShadowNotFound
	}

	return doc, nil
}

// GetDelta returns the current desired-vs-reported delta and the version it
// was computed at, serving from the transient cache when it is fresh.
func (c *Coordinator) GetDelta(ctx context.Context, deviceID string) (models.PropertyMap, int64, error) {
	doc, err := c.GetShadow(ctx, deviceID)
	if err != nil {
		return nil, 0, err
	}

	if cached, ok := c.deltaCache.Load(deviceID); ok && (*cached).Version == doc.Version {
		return (*cached).Delta, doc.Version, nil
	}

	delta := shadow.ComputeDelta(doc.Reported, doc.Desired)
	c.deltaCache.Set(deviceID, cachedDelta{Version: doc.Version, Delta: delta})

	return delta, doc.Version, nil
}

// DeleteShadow decommissions a device. Terminal: subscribers see one
// shadow_deleted notification, then nothing more for this device.
func (c *Coordinator) DeleteShadow(ctx context.Context, deviceID string) error {
	if !c.locks.TryLock(deviceID) {
		metrics.IncErrorCount(metrics.ComponentCoordinator)

		return fmt.Errorf("write path for device %s is busy", deviceID)
	}
	defer c.locks.Unlock(deviceID)

	doc, found, err := c.store.Get(ctx, deviceID)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentCoordinator)

		return fmt.Errorf("failed to read shadow for %s: %w", deviceID, err)
	}

	if !found {
		return shadowerrors.ErrShadowNotFound
	}

	if err := c.store.Delete(ctx, deviceID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return shadowerrors.ErrShadowNotFound
		}

		metrics.IncErrorCount(metrics.ComponentCoordinator)

		return fmt.Errorf("failed to delete shadow for %s: %w", deviceID, err)
	}

	if c.bus != nil {
		c.bus.Publish(models.ChangeEvent{
			DeviceID:  deviceID,
			Version:   doc.Version,
			Timestamp: time.Now().UTC(),
			Delta:     models.PropertyMap{},
			Deleted:   true,
		})
	}

	c.log.Infof("Decommissioned shadow for device %s at version %d", deviceID, doc.Version)

	return nil
}

// writeLocked runs one accepted write under the per-device lock: resolve
// the expected version, swap through the store, and map store errors onto
// the taxonomy. The publish after a successful swap happens before the lock
// is released, which is what keeps per-device events in version order on
// the bus.
func (c *Coordinator) writeLocked(ctx context.Context, deviceID string, expectedVersion *int64, reportedPatch, desiredPatch models.PropertyMap, mutate persistence.Mutator) (*models.ShadowDocument, error) {
	if !c.locks.TryLock(deviceID) {
		metrics.IncErrorCount(metrics.ComponentCoordinator)

		return nil, fmt.Errorf("write path for device %s is busy", deviceID)
	}
	defer c.locks.Unlock(deviceID)

	for attempt := 0; ; attempt++ {
		expected, err := c.resolveVersion(ctx, deviceID, expectedVersion)
		if err != nil {
			return nil, err
		}

		doc, err := c.store.CompareAndSwap(ctx, deviceID, expected, mutate)
		if err == nil {
			c.publish(doc, reportedPatch, desiredPatch)

			return doc, nil
		}

		if errors.Is(err, persistence.ErrVersionConflict) {
			if expectedVersion != nil {
				metrics.IncVersionConflict()

				return nil, shadowerrors.ErrVersionConflict
			}

			// Unconditioned write racing another store client; re-read
			// and retry against the fresh version.
			if attempt < createRetries {
				continue
			}

			metrics.IncVersionConflict()

			return nil, shadowerrors.ErrVersionConflict
		}

		if errors.Is(err, persistence.ErrNotFound) {
			return nil, shadowerrors.ErrShadowNotFound
		}

		metrics.IncErrorCount(metrics.ComponentCoordinator)

		return nil, fmt.Errorf("failed to write shadow for %s: %w", deviceID, err)
	}
}

// resolveVersion turns the caller's precondition into the store's expected
// version. Without a precondition the current version is used, falling back
// to lazy creation when no document exists. A precondition against a
// missing document is reported as ErrShadowNotFound, not a conflict.
func (c *Coordinator) resolveVersion(ctx context.Context, deviceID string, expectedVersion *int64) (int64, error) {
	current, found, err := c.store.Get(ctx, deviceID)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentCoordinator)

		return 0, fmt.Errorf("failed to read shadow for %s: %w", deviceID, err)
	}

	if expectedVersion == nil {
		if !found {
			return persistence.CreateVersion, nil
		}

		return current.Version, nil
	}

	if !found {
		return 0, shadowerrors.ErrShadowNotFound
	}

	if *expectedVersion != current.Version {
		metrics.IncVersionConflict()

		return 0, shadowerrors.ErrVersionConflict
	}

	return *expectedVersion, nil
}

// publish recomputes the delta for the post-merge document, refreshes the
// transient cache, and hands the change event to the bus. Enqueueing never
// blocks, so holding the device lock across this call is cheap.
func (c *Coordinator) publish(doc *models.ShadowDocument, reportedPatch, desiredPatch models.PropertyMap) {
	delta := shadow.ComputeDelta(doc.Reported, doc.Desired)
	c.deltaCache.Set(doc.DeviceID, cachedDelta{Version: doc.Version, Delta: delta})

	if c.bus == nil {
		return
	}

	c.bus.Publish(models.ChangeEvent{
		DeviceID:      doc.DeviceID,
		Version:       doc.Version,
		Timestamp:     doc.UpdatedAt,
		ReportedPatch: reportedPatch,
		DesiredPatch:  desiredPatch,
		Delta:         delta,
	})
}

// stampMetadata records per-property write timestamps for the touched
// namespace. Deleted keys lose their timestamps as well.
func stampMetadata(doc *models.ShadowDocument, section models.Operation, patch models.PropertyMap) {
	if doc.Metadata == nil {
		doc.Metadata = &models.ShadowMetadata{}
	}

	var stamps map[string]time.Time

	if section == models.OperationReported {
		if doc.Metadata.Reported == nil {
			doc.Metadata.Reported = make(map[string]time.Time)
		}

		stamps = doc.Metadata.Reported
	} else {
		if doc.Metadata.Desired == nil {
			doc.Metadata.Desired = make(map[string]time.Time)
		}

		stamps = doc.Metadata.Desired
	}

	now := time.Now().UTC()

	for key, value := range patch {
		if value == nil {
			delete(stamps, key)
			continue
		}

		stamps[key] = now
	}
}
