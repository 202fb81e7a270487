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

package shadow

import "github.com/nexiot/shadow-core/pkg/models"

// MergePatch applies patch to base key by key and returns the merged map.
// Patches are shallow: a key present in the patch replaces the base value
// wholesale, a key set to nil (JSON null) removes it, and keys absent from
// the patch are left untouched. Base is never mutated.
func MergePatch(base, patch models.PropertyMap) models.PropertyMap {
	merged := base.Clone()
	if merged == nil {
		merged = models.PropertyMap{}
	}

	for key, value := range patch {
		if value == nil {
			delete(merged, key)
			continue
		}

		merged[key] = value
	}

	return merged
}

// PatchedKeys returns the keys a patch touches, including deletions.
// Used for per-property metadata timestamps.
func PatchedKeys(patch models.PropertyMap) []string {
	keys := make([]string, 0, len(patch))
	for key := range patch {
		keys = append(keys, key)
	}

	return keys
}
