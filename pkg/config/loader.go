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
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nexiot/shadow-core/pkg/env"
)

// Load reads the config file at path, fills unset fields with defaults and
// applies environment variable overrides. A missing file is not an error,
// the defaults (plus overrides) are used instead.
//
// Order of precedence, highest first:
//  1. Environment variables (LISTEN_ADDR, METRICS_PORT, STORE_BACKEND,
//     STORE_PATH, MQTT_BROKER_URL, MQTT_CLIENT_ID, MQTT_USERNAME,
//     MQTT_PASSWORD)
//  2. Config file values
//  3. Defaults
func Load(path string) (FullConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return FullConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Fresh deployment, run on defaults.
	default:
		return FullConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return FullConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return FullConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *FullConfig) error {
	listenAddr, err := env.GetAsString("LISTEN_ADDR", false, cfg.Service.ListenAddr)
	if err != nil {
		return err
	}
	cfg.Service.ListenAddr = listenAddr

	metricsPort, err := env.GetAsInt("METRICS_PORT", false, cfg.Service.MetricsPort)
	if err != nil {
		return err
	}
	cfg.Service.MetricsPort = metricsPort

	backend, err := env.GetAsString("STORE_BACKEND", false, string(cfg.Store.Backend))
	if err != nil {
		return err
	}
	cfg.Store.Backend = StoreBackend(backend)

	storePath, err := env.GetAsString("STORE_PATH", false, cfg.Store.Path)
	if err != nil {
		return err
	}
	cfg.Store.Path = storePath

	brokerURL, err := env.GetAsString("MQTT_BROKER_URL", false, cfg.MQTT.BrokerURL)
	if err != nil {
		return err
	}
	cfg.MQTT.BrokerURL = brokerURL

	clientID, err := env.GetAsString("MQTT_CLIENT_ID", false, cfg.MQTT.ClientID)
	if err != nil {
		return err
	}
	cfg.MQTT.ClientID = clientID

	username, err := env.GetAsString("MQTT_USERNAME", false, cfg.MQTT.Username)
	if err != nil {
		return err
	}
	cfg.MQTT.Username = username

	password, err := env.GetAsString("MQTT_PASSWORD", false, cfg.MQTT.Password)
	if err != nil {
		return err
	}
	cfg.MQTT.Password = password

	return nil
}
