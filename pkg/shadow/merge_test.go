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

package shadow_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexiot/shadow-core/pkg/models"
	"github.com/nexiot/shadow-core/pkg/shadow"
)

var _ = Describe("MergePatch", func() {
	It("should merge new keys into the base", func() {
		base := models.PropertyMap{"temperature": 120.0}
		patch := models.PropertyMap{"status": "ONLINE"}

		merged := shadow.MergePatch(base, patch)
		Expect(merged).To(HaveKeyWithValue("temperature", 120.0))
		Expect(merged).To(HaveKeyWithValue("status", "ONLINE"))
	})

	It("should overwrite existing keys", func() {
		base := models.PropertyMap{"temperature": 120.0}
		patch := models.PropertyMap{"temperature": 125.0}

		merged := shadow.MergePatch(base, patch)
		Expect(merged).To(HaveKeyWithValue("temperature", 125.0))
	})

	It("should leave unspecified keys untouched", func() {
		base := models.PropertyMap{"a": 1.0, "b": 2.0}
		patch := models.PropertyMap{"a": 3.0}

		merged := shadow.MergePatch(base, patch)
		Expect(merged).To(HaveKeyWithValue("b", 2.0))
	})

	Context("with the delete sentinel", func() {
		It("should remove keys patched to nil", func() {
			base := models.PropertyMap{"a": 1.0, "b": 2.0}
			patch := models.PropertyMap{"a": nil}

			merged := shadow.MergePatch(base, patch)
			Expect(merged).ToNot(HaveKey("a"))
			Expect(merged).To(HaveKeyWithValue("b", 2.0))
		})

		It("should tolerate deleting an absent key", func() {
			base := models.PropertyMap{"b": 2.0}
			patch := models.PropertyMap{"a": nil}

			merged := shadow.MergePatch(base, patch)
			Expect(merged).To(HaveLen(1))
		})
	})

	It("should never mutate the base map", func() {
		base := models.PropertyMap{"a": 1.0}
		patch := models.PropertyMap{"a": 2.0, "b": nil}

		_ = shadow.MergePatch(base, patch)
		Expect(base).To(HaveKeyWithValue("a", 1.0))
		Expect(base).To(HaveLen(1))
	})

	It("should replace nested values wholesale, not merge them", func() {
		base := models.PropertyMap{
			"config": map[string]interface{}{"interval": 30.0, "unit": "s"},
		}
		patch := models.PropertyMap{
			"config": map[string]interface{}{"interval": 60.0},
		}

		merged := shadow.MergePatch(base, patch)
		cfg, ok := merged["config"].(map[string]interface{})
		Expect(ok).To(BeTrue())
		Expect(cfg).To(HaveLen(1))
		Expect(cfg).To(HaveKeyWithValue("interval", 60.0))
	})

	It("should start from an empty document when base is nil", func() {
		merged := shadow.MergePatch(nil, models.PropertyMap{"a": 1.0})
		Expect(merged).To(HaveKeyWithValue("a", 1.0))
	})
})
