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

package subscriptions_test

import (
	"sync"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexiot/shadow-core/pkg/models"
	"github.com/nexiot/shadow-core/pkg/shadowerrors"
	"github.com/nexiot/shadow-core/pkg/subscriptions"
)

var _ = Describe("Registry", func() {
	var (
		registry *subscriptions.Registry
		conn     uuid.UUID
	)

	BeforeEach(func() {
		registry = subscriptions.NewRegistry(0)
		conn = uuid.New()
	})

	Describe("Subscribe", func() {
		It("should register a connection for devices and operations", func() {
			err := registry.Subscribe(conn, []string{"d1", "d2"},
				[]models.Operation{models.OperationReported, models.OperationDelta})
			Expect(err).ToNot(HaveOccurred())

			subs := registry.SubscribersFor("d1")
			Expect(subs).To(HaveLen(1))
			Expect(subs[0].ConnectionID).To(Equal(conn))
			Expect(subs[0].Operations.Contains(models.OperationReported)).To(BeTrue())
			Expect(subs[0].Operations.Contains(models.OperationDesired)).To(BeFalse())
			Expect(registry.Length()).To(Equal(2))
		})

		It("should reject empty device lists", func() {
			err := registry.Subscribe(conn, nil, []models.Operation{models.OperationDelta})
			Expect(err).To(MatchError(shadowerrors.ErrSubscriptionFailed))
		})

		It("should reject unknown operations", func() {
			err := registry.Subscribe(conn, []string{"d1"}, []models.Operation{"telemetry"})
			Expect(err).To(MatchError(shadowerrors.ErrSubscriptionFailed))
		})

		It("should be idempotent and union operation sets", func() {
			Expect(registry.Subscribe(conn, []string{"d1"},
				[]models.Operation{models.OperationReported})).To(Succeed())
			Expect(registry.Subscribe(conn, []string{"d1"},
				[]models.Operation{models.OperationDesired})).To(Succeed())

			Expect(registry.Length()).To(Equal(1))

			subs := registry.SubscribersFor("d1")
			Expect(subs).To(HaveLen(1))
			Expect(subs[0].Operations.Contains(models.OperationReported)).To(BeTrue())
			Expect(subs[0].Operations.Contains(models.OperationDesired)).To(BeTrue())
		})

		It("should fail when the registry is at capacity", func() {
			registry = subscriptions.NewRegistry(2)

			Expect(registry.Subscribe(conn, []string{"d1", "d2"},
				[]models.Operation{models.OperationDelta})).To(Succeed())

			other := uuid.New()
			err := registry.Subscribe(other, []string{"d3"},
				[]models.Operation{models.OperationDelta})
			Expect(err).To(MatchError(shadowerrors.ErrSubscriptionFailed))

			// The failed call must not leave partial registrations.
			Expect(registry.SubscribersFor("d3")).To(BeEmpty())
			Expect(registry.Devices(other)).To(BeEmpty())
		})

		It("should not double-count re-subscriptions against capacity", func() {
			registry = subscriptions.NewRegistry(1)

			Expect(registry.Subscribe(conn, []string{"d1"},
				[]models.Operation{models.OperationDelta})).To(Succeed())
			Expect(registry.Subscribe(conn, []string{"d1"},
				[]models.Operation{models.OperationReported})).To(Succeed())
		})
	})

	Describe("UnsubscribeAll", func() {
		It("should remove the connection from every device", func() {
			Expect(registry.Subscribe(conn, []string{"d1", "d2", "d3"},
				[]models.Operation{models.OperationDelta})).To(Succeed())

			registry.UnsubscribeAll(conn)

			Expect(registry.SubscribersFor("d1")).To(BeEmpty())
			Expect(registry.SubscribersFor("d2")).To(BeEmpty())
			Expect(registry.SubscribersFor("d3")).To(BeEmpty())
			Expect(registry.Length()).To(Equal(0))
		})

		It("should leave other connections untouched", func() {
			other := uuid.New()
			Expect(registry.Subscribe(conn, []string{"d1"},
				[]models.Operation{models.OperationDelta})).To(Succeed())
			Expect(registry.Subscribe(other, []string{"d1"},
				[]models.Operation{models.OperationReported})).To(Succeed())

			registry.UnsubscribeAll(conn)

			subs := registry.SubscribersFor("d1")
			Expect(subs).To(HaveLen(1))
			Expect(subs[0].ConnectionID).To(Equal(other))
		})

		It("should tolerate unknown connections", func() {
			registry.UnsubscribeAll(uuid.New())
			Expect(registry.Length()).To(Equal(0))
		})

		It("should free capacity for later subscribers", func() {
			registry = subscriptions.NewRegistry(1)

			Expect(registry.Subscribe(conn, []string{"d1"},
				[]models.Operation{models.OperationDelta})).To(Succeed())

			registry.UnsubscribeAll(conn)

			Expect(registry.Subscribe(uuid.New(), []string{"d2"},
				[]models.Operation{models.OperationDelta})).To(Succeed())
		})
	})

	Describe("SubscribersFor", func() {
		It("should return nil for a device without subscribers", func() {
			Expect(registry.SubscribersFor("ghost")).To(BeNil())
		})

		It("should return a snapshot isolated from later unions", func() {
			Expect(registry.Subscribe(conn, []string{"d1"},
				[]models.Operation{models.OperationReported})).To(Succeed())

			snapshot := registry.SubscribersFor("d1")

			Expect(registry.Subscribe(conn, []string{"d1"},
				[]models.Operation{models.OperationDesired})).To(Succeed())

			Expect(snapshot[0].Operations.Contains(models.OperationDesired)).To(BeFalse())
		})
	})

	It("should support concurrent subscribe, lookup, and unsubscribe", func() {
		const workers = 16

		var wg sync.WaitGroup

		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				defer GinkgoRecover()

				id := uuid.New()
				Expect(registry.Subscribe(id, []string{"d1", "d2"},
					[]models.Operation{models.OperationDelta})).To(Succeed())
				_ = registry.SubscribersFor("d1")
				registry.UnsubscribeAll(id)
			}()
		}
		wg.Wait()

		Expect(registry.Length()).To(Equal(0))
	})
})
