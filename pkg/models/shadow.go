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

package models

import "time"

// PropertyMap holds one namespace of a shadow document, property name to
// last value. Values are anything JSON-serializable.
type PropertyMap map[string]interface{}

// ShadowDocument is the persisted reported/desired state pair for one device.
//
// Version increases by exactly one per accepted write and never resets.
// The reported and desired namespaces are independent: a write to one never
// mutates the other.
type ShadowDocument struct {
	// DeviceID is the stable, immutable device identifier.
	DeviceID string `json:"deviceId"`
	// Reported is the last-known state as asserted by the device itself.
	Reported PropertyMap `json:"reported"`
	// Desired is the target state asserted by operator clients.
	Desired PropertyMap `json:"desired"`
	// Version is incremented exactly once per accepted write.
	Version int64 `json:"version"`
	// UpdatedAt is the timestamp of the last accepted write.
	UpdatedAt time.Time `json:"updatedAt"`
	// Metadata carries per-property last-write timestamps for conflict
	// diagnostics, keyed the same way as Reported and Desired.
	Metadata *ShadowMetadata `json:"metadata,omitempty"`
}

// ShadowMetadata records when each property was last written.
type ShadowMetadata struct {
	Reported map[string]time.Time `json:"reported,omitempty"`
	Desired  map[string]time.Time `json:"desired,omitempty"`
}

// Clone returns a deep copy of the document so callers can hold onto it
// without observing later writes.
func (d *ShadowDocument) Clone() *ShadowDocument {
	if d == nil {
		return nil
	}

	clone := &ShadowDocument{
		DeviceID:  d.DeviceID,
		Reported:  d.Reported.Clone(),
		Desired:   d.Desired.Clone(),
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
	}

	if d.Metadata != nil {
		clone.Metadata = &ShadowMetadata{
			Reported: cloneTimes(d.Metadata.Reported),
			Desired:  cloneTimes(d.Metadata.Desired),
		}
	}

	return clone
}

// Clone returns a deep copy of the property map. Nested maps and slices are
// copied recursively; scalar values are shared (they are immutable once
// decoded from JSON).
func (m PropertyMap) Clone() PropertyMap {
	if m == nil {
		return nil
	}

	clone := make(PropertyMap, len(m))
	for k, v := range m {
		clone[k] = cloneValue(v)
	}

	return clone
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		nested := make(map[string]interface{}, len(val))
		for k, inner := range val {
			nested[k] = cloneValue(inner)
		}

		return nested
	case []interface{}:
		nested := make([]interface{}, len(val))
		for i, inner := range val {
			nested[i] = cloneValue(inner)
		}

		return nested
	default:
		return v
	}
}

func cloneTimes(m map[string]time.Time) map[string]time.Time {
	if m == nil {
		return nil
	}

	clone := make(map[string]time.Time, len(m))
	for k, v := range m {
		clone[k] = v
	}

	return clone
}
