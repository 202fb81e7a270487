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

package persistence_test

import (
	"context"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexiot/shadow-core/pkg/models"
	"github.com/nexiot/shadow-core/pkg/persistence"
)

// storeContract runs the Store contract against a backend constructor, so
// the in-memory and SQLite stores are tested through the same behaviours.
func storeContract(name string, newStore func() persistence.Store) {
	Describe(name, func() {
		var (
			store persistence.Store
			ctx   context.Context
		)

		setReported := func(patch models.PropertyMap) persistence.Mutator {
			return func(doc *models.ShadowDocument) (*models.ShadowDocument, error) {
				for k, v := range patch {
					doc.Reported[k] = v
				}

				return doc, nil
			}
		}

		BeforeEach(func() {
			store = newStore()
			ctx = context.Background()
		})

		AfterEach(func() {
			Expect(store.Close()).To(Succeed())
		})

		Describe("Get", func() {
			It("should report absence without error", func() {
				doc, found, err := store.Get(ctx, "d1")
				Expect(err).ToNot(HaveOccurred())
				Expect(found).To(BeFalse())
				Expect(doc).To(BeNil())
			})
		})

		Describe("CompareAndSwap", func() {
			It("should create a document at version 1", func() {
				doc, err := store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
					setReported(models.PropertyMap{"temperature": 120.0}))
				Expect(err).ToNot(HaveOccurred())
				Expect(doc.Version).To(Equal(int64(1)))
				Expect(doc.DeviceID).To(Equal("d1"))
				Expect(doc.Reported).To(HaveKeyWithValue("temperature", 120.0))
			})

			It("should refuse to create over an existing document", func() {
				_, err := store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
					setReported(models.PropertyMap{"a": 1.0}))
				Expect(err).ToNot(HaveOccurred())

				_, err = store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
					setReported(models.PropertyMap{"a": 2.0}))
				Expect(err).To(MatchError(persistence.ErrVersionConflict))
			})

			It("should return ErrNotFound for a non-create swap on a missing document", func() {
				_, err := store.CompareAndSwap(ctx, "ghost", 3,
					setReported(models.PropertyMap{"a": 1.0}))
				Expect(err).To(MatchError(persistence.ErrNotFound))
			})

			It("should increment the version by exactly one per accepted write", func() {
				doc, err := store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
					setReported(models.PropertyMap{"a": 1.0}))
				Expect(err).ToNot(HaveOccurred())

				for i := 0; i < 5; i++ {
					doc, err = store.CompareAndSwap(ctx, "d1", doc.Version,
						setReported(models.PropertyMap{"a": float64(i)}))
					Expect(err).ToNot(HaveOccurred())
				}

				Expect(doc.Version).To(Equal(int64(6)))
			})

			It("should reject stale versions", func() {
				_, err := store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
					setReported(models.PropertyMap{"a": 1.0}))
				Expect(err).ToNot(HaveOccurred())

				_, err = store.CompareAndSwap(ctx, "d1", 1,
					setReported(models.PropertyMap{"a": 2.0}))
				Expect(err).ToNot(HaveOccurred())

				_, err = store.CompareAndSwap(ctx, "d1", 1,
					setReported(models.PropertyMap{"a": 3.0}))
				Expect(err).To(MatchError(persistence.ErrVersionConflict))
			})

			It("should not commit anything when the mutator fails", func() {
				_, err := store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
					func(doc *models.ShadowDocument) (*models.ShadowDocument, error) {
						return nil, context.DeadlineExceeded
					})
				Expect(err).To(MatchError(context.DeadlineExceeded))

				_, found, err := store.Get(ctx, "d1")
				Expect(err).ToNot(HaveOccurred())
				Expect(found).To(BeFalse())
			})

			It("should allow exactly one winner among concurrent same-version swaps", func() {
				_, err := store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
					setReported(models.PropertyMap{"a": 0.0}))
				Expect(err).ToNot(HaveOccurred())

				const writers = 8

				var (
					wg        sync.WaitGroup
					successMu sync.Mutex
					successes int
					conflicts int
				)

				wg.Add(writers)
				for i := 0; i < writers; i++ {
					go func(i int) {
						defer wg.Done()
						defer GinkgoRecover()

						_, err := store.CompareAndSwap(ctx, "d1", 1,
							setReported(models.PropertyMap{"a": float64(i)}))

						successMu.Lock()
						defer successMu.Unlock()
						if err == nil {
							successes++
						} else {
							Expect(err).To(MatchError(persistence.ErrVersionConflict))
							conflicts++
						}
					}(i)
				}
				wg.Wait()

				Expect(successes).To(Equal(1))
				Expect(conflicts).To(Equal(writers - 1))

				doc, found, err := store.Get(ctx, "d1")
				Expect(err).ToNot(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(doc.Version).To(Equal(int64(2)))
			})
		})

		Describe("Delete", func() {
			It("should remove the document permanently", func() {
				_, err := store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
					setReported(models.PropertyMap{"a": 1.0}))
				Expect(err).ToNot(HaveOccurred())

				Expect(store.Delete(ctx, "d1")).To(Succeed())

				_, found, err := store.Get(ctx, "d1")
				Expect(err).ToNot(HaveOccurred())
				Expect(found).To(BeFalse())
			})

			It("should return ErrNotFound for an unknown device", func() {
				Expect(store.Delete(ctx, "ghost")).To(MatchError(persistence.ErrNotFound))
			})
		})

		It("should isolate returned documents from later writes", func() {
			first, err := store.CompareAndSwap(ctx, "d1", persistence.CreateVersion,
				setReported(models.PropertyMap{"a": 1.0}))
			Expect(err).ToNot(HaveOccurred())

			_, err = store.CompareAndSwap(ctx, "d1", 1,
				setReported(models.PropertyMap{"a": 2.0}))
			Expect(err).ToNot(HaveOccurred())

			Expect(first.Reported).To(HaveKeyWithValue("a", 1.0))
		})
	})
}

var _ = Describe("Shadow stores", func() {
	storeContract("InMemoryStore", func() persistence.Store {
		return persistence.NewInMemoryStore()
	})

	storeContract("SQLiteStore", func() persistence.Store {
		store, err := persistence.NewSQLiteStore(filepath.Join(GinkgoT().TempDir(), "shadows.db"))
		Expect(err).ToNot(HaveOccurred())

		return store
	})
})
