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

var _ = Describe("ComputeDelta", func() {
	Context("when desired is a subset of reported with matching values", func() {
		It("should return an empty delta", func() {
			reported := models.PropertyMap{"temperature": 125.0, "status": "ONLINE"}
			desired := models.PropertyMap{"temperature": 125.0}

			delta := shadow.ComputeDelta(reported, desired)
			Expect(delta).To(BeEmpty())
		})

		It("should return an empty, non-nil delta for empty desired", func() {
			delta := shadow.ComputeDelta(models.PropertyMap{"a": 1}, models.PropertyMap{})
			Expect(delta).ToNot(BeNil())
			Expect(delta).To(BeEmpty())
		})
	})

	Context("when desired keys are absent from reported", func() {
		It("should include them with the desired value", func() {
			reported := models.PropertyMap{"temperature": 120.0}
			desired := models.PropertyMap{"target_temperature": 125.0}

			delta := shadow.ComputeDelta(reported, desired)
			Expect(delta).To(HaveLen(1))
			Expect(delta).To(HaveKeyWithValue("target_temperature", 125.0))
		})
	})

	Context("when desired values differ from reported", func() {
		It("should include the desired value", func() {
			reported := models.PropertyMap{"fan_speed": 1000.0}
			desired := models.PropertyMap{"fan_speed": 1500.0}

			delta := shadow.ComputeDelta(reported, desired)
			Expect(delta).To(HaveKeyWithValue("fan_speed", 1500.0))
		})

		It("should not coerce types", func() {
			reported := models.PropertyMap{"threshold": 5.0}
			desired := models.PropertyMap{"threshold": int64(5)}

			delta := shadow.ComputeDelta(reported, desired)
			Expect(delta).To(HaveKey("threshold"))
		})
	})

	Context("with nested structures", func() {
		It("should compare them deeply", func() {
			reported := models.PropertyMap{
				"config": map[string]interface{}{"interval": 30.0, "unit": "s"},
			}
			matching := models.PropertyMap{
				"config": map[string]interface{}{"interval": 30.0, "unit": "s"},
			}
			differing := models.PropertyMap{
				"config": map[string]interface{}{"interval": 60.0, "unit": "s"},
			}

			Expect(shadow.ComputeDelta(reported, matching)).To(BeEmpty())
			Expect(shadow.ComputeDelta(reported, differing)).To(HaveKey("config"))
		})
	})

	It("should be deterministic for identical inputs", func() {
		reported := models.PropertyMap{"a": 1.0, "b": "x"}
		desired := models.PropertyMap{"a": 2.0, "c": true}

		first := shadow.ComputeDelta(reported, desired)
		second := shadow.ComputeDelta(reported, desired)
		Expect(first).To(Equal(second))
	})

	It("should ignore reported keys that are not desired", func() {
		reported := models.PropertyMap{"status": "ONLINE", "uptime": 9000.0}
		desired := models.PropertyMap{}

		Expect(shadow.ComputeDelta(reported, desired)).To(BeEmpty())
	})
})
