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

package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/tiendc/go-deepcopy"
)

// FullConfig is the complete service configuration, loaded once at startup.
type FullConfig struct {
	Service  ServiceConfig  `yaml:"service"`
	Store    StoreConfig    `yaml:"store"`
	Notifier NotifierConfig `yaml:"notifier,omitempty"`
	Registry RegistryConfig `yaml:"registry,omitempty"`
	MQTT     MQTTConfig     `yaml:"mqtt,omitempty"`
}

// ServiceConfig covers the outward-facing listeners.
type ServiceConfig struct {
	// ListenAddr is the address the WebSocket/REST gateway binds to.
	ListenAddr string `yaml:"listenAddr"`
	// MetricsPort is the port the Prometheus endpoint binds to.
	MetricsPort int `yaml:"metricsPort"`
	// ShutdownTimeout bounds graceful shutdown of the listeners.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`
}

type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendSQLite StoreBackend = "sqlite"
)

// StoreConfig selects and parameterizes the shadow persistence backend.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`
	// Path is the SQLite database file, ignored for the memory backend.
	Path string `yaml:"path,omitempty"`
}

// NotifierConfig bounds the change-event fan-out.
type NotifierConfig struct {
	// QueueSize is the per-connection delivery buffer. When a consumer
	// falls behind, the oldest buffered event is dropped first.
	QueueSize int `yaml:"queueSize,omitempty"`
}

// RegistryConfig bounds the subscription registry.
type RegistryConfig struct {
	// Capacity is the maximum number of (device, connection) entries.
	Capacity int `yaml:"capacity,omitempty"`
}

// MQTTConfig configures the reported-state ingest bridge.
// An empty BrokerURL disables the bridge.
type MQTTConfig struct {
	BrokerURL string `yaml:"brokerUrl,omitempty"`
	ClientID  string `yaml:"clientId,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	// TopicPrefix is the first segment of the reported-state topics,
	// i.e. the bridge subscribes to <TopicPrefix>/+/shadow/reported.
	TopicPrefix string `yaml:"topicPrefix,omitempty"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() FullConfig {
	return FullConfig{
		Service: ServiceConfig{
			ListenAddr:      ":8090",
			MetricsPort:     8091,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: StoreBackendMemory,
		},
		Notifier: NotifierConfig{
			QueueSize: 64,
		},
		Registry: RegistryConfig{
			Capacity: 10000,
		},
		MQTT: MQTTConfig{
			ClientID:    "shadow-core",
			TopicPrefix: "devices",
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c FullConfig) Validate() error {
	if c.Service.ListenAddr == "" {
		return fmt.Errorf("service.listenAddr must not be empty")
	}
	if c.Service.MetricsPort <= 0 || c.Service.MetricsPort > 65535 {
		return fmt.Errorf("service.metricsPort %d is out of range", c.Service.MetricsPort)
	}
	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Notifier.QueueSize < 0 {
		return fmt.Errorf("notifier.queueSize must not be negative")
	}
	if c.Registry.Capacity < 0 {
		return fmt.Errorf("registry.capacity must not be negative")
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	if err := deepcopy.Copy(&clone, &c); err != nil {
		// The config is plain data, a copy failure is a programming error.
		panic(fmt.Sprintf("failed to clone config: %v", err))
	}
	return clone
}

// Equal reports whether two configurations are identical.
func (c FullConfig) Equal(other FullConfig) bool {
	return reflect.DeepEqual(c, other)
}
