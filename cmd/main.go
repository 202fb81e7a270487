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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexiot/shadow-core/pkg/config"
	"github.com/nexiot/shadow-core/pkg/coordinator"
	"github.com/nexiot/shadow-core/pkg/env"
	"github.com/nexiot/shadow-core/pkg/gateway"
	"github.com/nexiot/shadow-core/pkg/ingest"
	"github.com/nexiot/shadow-core/pkg/logger"
	"github.com/nexiot/shadow-core/pkg/metrics"
	"github.com/nexiot/shadow-core/pkg/notifier"
	"github.com/nexiot/shadow-core/pkg/persistence"
	"github.com/nexiot/shadow-core/pkg/subscriptions"
	"github.com/nexiot/shadow-core/pkg/watchdog"
)

const defaultConfigPath = "/data/config.yaml"

func main() {
	// Initialize the global logger first thing
	logger.Initialize()
	defer logger.Sync()

	log := logger.For(logger.ComponentCore)
	log.Info("Starting shadow-core...")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath, err := env.GetAsString("CONFIG_PATH", false, defaultConfigPath)
	if err != nil {
		log.Errorf("Failed to resolve config path: %v", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Service.MetricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shutdown metrics server: %v", err)
		}
	}()

	store, err := newStore(cfg.Store)
	if err != nil {
		log.Errorf("Failed to open shadow store: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Failed to close shadow store: %v", err)
		}
	}()

	registry := subscriptions.NewRegistry(cfg.Registry.Capacity)
	bus := notifier.NewNotifier(registry, cfg.Notifier.QueueSize)
	coord := coordinator.NewCoordinator(store, bus)
	gw := gateway.NewGateway(coord, registry, bus)

	dog := watchdog.NewWatchdog(ctx, time.NewTicker(10*time.Second), logger.For(logger.ComponentCore))
	go dog.Start()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Infof("Gateway listening on %s", cfg.Service.ListenAddr)
		return gw.Serve(groupCtx, cfg.Service.ListenAddr, cfg.Service.ShutdownTimeout)
	})

	if cfg.MQTT.BrokerURL != "" {
		bridge := ingest.NewBridge(cfg.MQTT, coord, dog)
		group.Go(func() error {
			log.Infof("Ingest bridge connecting to %s", cfg.MQTT.BrokerURL)
			return bridge.Start(groupCtx)
		})
	} else {
		log.Info("No MQTT broker configured, ingest bridge disabled")
	}

	if err := group.Wait(); err != nil {
		log.Errorf("Service failed: %v", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

func newStore(cfg config.StoreConfig) (persistence.Store, error) {
	switch cfg.Backend {
	case config.StoreBackendSQLite:
		return persistence.NewSQLiteStore(cfg.Path)
	default:
		return persistence.NewInMemoryStore(), nil
	}
}
