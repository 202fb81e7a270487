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

package ingest

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexiot/shadow-core/pkg/config"
	"github.com/nexiot/shadow-core/pkg/coordinator"
	"github.com/nexiot/shadow-core/pkg/notifier"
	"github.com/nexiot/shadow-core/pkg/persistence"
	"github.com/nexiot/shadow-core/pkg/shadowerrors"
	"github.com/nexiot/shadow-core/pkg/subscriptions"
	"github.com/nexiot/shadow-core/pkg/watchdog"
)

var _ = Describe("Bridge", func() {
	var (
		store  *persistence.InMemoryStore
		coord  *coordinator.Coordinator
		bridge *Bridge
	)

	BeforeEach(func() {
		store = persistence.NewInMemoryStore()
		reg := subscriptions.NewRegistry(0)
		coord = coordinator.NewCoordinator(store, notifier.NewNotifier(reg, 16))
		bridge = NewBridge(config.MQTTConfig{TopicPrefix: "devices"}, coord, watchdog.NewFakeWatchdog())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("ParseTopic", func() {
		It("should extract the device ID from a reported-state topic", func() {
			deviceID, ok := bridge.ParseTopic("devices/d1/shadow/reported")
			Expect(ok).To(BeTrue())
			Expect(deviceID).To(Equal("d1"))
		})

		It("should reject foreign topics", func() {
			for _, topic := range []string{
				"devices/d1/shadow/desired",
				"devices/d1/telemetry",
				"devices/d1/sub/shadow/reported",
				"things/d1/shadow/reported",
				"devices//shadow/reported",
			} {
				_, ok := bridge.ParseTopic(topic)
				Expect(ok).To(BeFalse(), "topic %s should not match", topic)
			}
		})

		It("should honor a custom topic prefix", func() {
			custom := NewBridge(config.MQTTConfig{TopicPrefix: "fleet/eu"}, coord, watchdog.NewFakeWatchdog())

			deviceID, ok := custom.ParseTopic("fleet/eu/d7/shadow/reported")
			Expect(ok).To(BeTrue())
			Expect(deviceID).To(Equal("d7"))

			_, ok = custom.ParseTopic("devices/d7/shadow/reported")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("processMessage", func() {
		It("should apply a valid patch through the coordinator", func() {
			bridge.processMessage("devices/d1/shadow/reported",
				[]byte(`{"temperature": 120, "status": "ONLINE"}`))

			doc, err := coord.GetShadow(context.Background(), "d1")
			Expect(err).ToNot(HaveOccurred())
			Expect(doc.Version).To(Equal(int64(1)))
			Expect(doc.Reported).To(HaveKeyWithValue("status", "ONLINE"))
		})

		It("should drop messages on foreign topics without touching the store", func() {
			bridge.processMessage("devices/d1/telemetry", []byte(`{"temperature": 120}`))

			_, err := coord.GetShadow(context.Background(), "d1")
			Expect(err).To(MatchError(shadowerrors.ErrShadowNotFound))
		})

		It("should drop unparseable payloads", func() {
			bridge.processMessage("devices/d1/shadow/reported", []byte(`not json`))
			bridge.processMessage("devices/d1/shadow/reported", []byte(`{}`))

			_, err := coord.GetShadow(context.Background(), "d1")
			Expect(err).To(MatchError(shadowerrors.ErrShadowNotFound))
		})
	})
})
