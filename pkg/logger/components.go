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

package logger

// Component names used with For() across the service.
const (
	// ComponentCore is the name of the main service loop
	ComponentCore = "core"

	// ComponentCoordinator is the name of the update coordinator
	ComponentCoordinator = "coordinator"

	// ComponentNotifier is the name of the change notifier
	ComponentNotifier = "notifier"

	// ComponentGateway is the name of the websocket connection gateway
	ComponentGateway = "gateway"

	// ComponentIngest is the name of the MQTT ingestion bridge
	ComponentIngest = "ingest"

	// ComponentStore is the name of the shadow store
	ComponentStore = "store"

	// ComponentConfigManager is the name of the configuration loader
	ComponentConfigManager = "config"
)
