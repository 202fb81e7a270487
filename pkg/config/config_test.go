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

package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexiot/shadow-core/pkg/config"
)

var _ = Describe("Config", func() {
	Describe("Load", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("should fall back to defaults when the file does not exist", func() {
			cfg, err := config.Load(filepath.Join(dir, "missing.yaml"))
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg).To(Equal(config.DefaultConfig()))
		})

		It("should read file values over defaults", func() {
			path := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(path, []byte(`
service:
  listenAddr: ":9000"
  metricsPort: 9001
store:
  backend: sqlite
  path: /data/shadows.db
notifier:
  queueSize: 128
`), 0o600)).To(Succeed())

			cfg, err := config.Load(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Service.ListenAddr).To(Equal(":9000"))
			Expect(cfg.Service.MetricsPort).To(Equal(9001))
			Expect(cfg.Store.Backend).To(Equal(config.StoreBackendSQLite))
			Expect(cfg.Store.Path).To(Equal("/data/shadows.db"))
			Expect(cfg.Notifier.QueueSize).To(Equal(128))
			// Untouched sections keep their defaults.
			Expect(cfg.Registry.Capacity).To(Equal(10000))
		})

		It("should let environment variables override the file", func() {
			path := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(path, []byte("service:\n  listenAddr: \":9000\"\n"), 0o600)).To(Succeed())

			GinkgoT().Setenv("LISTEN_ADDR", ":7777")
			GinkgoT().Setenv("MQTT_BROKER_URL", "tcp://broker:1883")

			cfg, err := config.Load(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Service.ListenAddr).To(Equal(":7777"))
			Expect(cfg.MQTT.BrokerURL).To(Equal("tcp://broker:1883"))
		})

		It("should reject an unknown store backend", func() {
			path := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(path, []byte("store:\n  backend: etcd\n"), 0o600)).To(Succeed())

			_, err := config.Load(path)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unknown store backend"))
		})

		It("should reject sqlite without a path", func() {
			path := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(path, []byte("store:\n  backend: sqlite\n"), 0o600)).To(Succeed())

			_, err := config.Load(path)
			Expect(err).To(HaveOccurred())
		})

		It("should reject malformed YAML", func() {
			path := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(path, []byte("service: [..."), 0o600)).To(Succeed())

			_, err := config.Load(path)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should produce an independent deep copy", func() {
			cfg := config.DefaultConfig()
			clone := cfg.Clone()
			Expect(clone.Equal(cfg)).To(BeTrue())

			clone.Service.ListenAddr = ":1"
			clone.MQTT.TopicPrefix = "things"
			Expect(cfg.Service.ListenAddr).To(Equal(":8090"))
			Expect(cfg.MQTT.TopicPrefix).To(Equal("devices"))
		})
	})
})
