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

// Package shadow holds the pure document algebra of the shadow core:
// delta computation and patch merging. Nothing in here touches storage,
// locks, or transports, so every function is deterministic and
// unit-testable in isolation.
package shadow

import (
	"reflect"

	"github.com/nexiot/shadow-core/pkg/models"
)

// ComputeDelta returns, for every key in desired that is absent from
// reported or differs from it, the desired value. Equality is exact for
// scalars and deep for nested structures; there is no type coercion, so a
// desired int64(5) does not match a reported float64(5).
//
// The result is empty (never nil) when desired is a subset of reported with
// matching values. Runs in O(|desired|).
func ComputeDelta(reported, desired models.PropertyMap) models.PropertyMap {
	delta := models.PropertyMap{}

	for key, want := range desired {
		have, ok := reported[key]
		if !ok || !reflect.DeepEqual(have, want) {
			delta[key] = want
		}
	}

	return delta
}
