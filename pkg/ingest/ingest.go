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

// Package ingest bridges device-side MQTT traffic into the shadow core.
// Devices publish partial reported-state patches to
// <prefix>/<deviceID>/shadow/reported; the bridge applies each patch through
// the update coordinator, which versions it and fans out change events.
package ingest

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/nexiot/shadow-core/pkg/config"
	"github.com/nexiot/shadow-core/pkg/coordinator"
	"github.com/nexiot/shadow-core/pkg/logger"
	"github.com/nexiot/shadow-core/pkg/metrics"
	"github.com/nexiot/shadow-core/pkg/models"
	"github.com/nexiot/shadow-core/pkg/safejson"
	"github.com/nexiot/shadow-core/pkg/watchdog"
)

// Ingest outcome labels for the messages counter.
const (
	OutcomeAccepted       = "accepted"
	OutcomeInvalidTopic   = "invalid_topic"
	OutcomeInvalidPayload = "invalid_payload"
	OutcomeRejected       = "rejected"
)

// updateTimeout bounds a single coordinator write triggered by a message.
const updateTimeout = 10 * time.Second

// Bridge is the MQTT to shadow-core ingest pump.
type Bridge struct {
	cfg         config.MQTTConfig
	coordinator *coordinator.Coordinator
	dog         watchdog.Iface

	client  MQTT.Client
	topicRe *regexp.Regexp
	topic   string
	log     *zap.SugaredLogger
}

func NewBridge(cfg config.MQTTConfig, coord *coordinator.Coordinator, dog watchdog.Iface) *Bridge {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "devices"
	}

	return &Bridge{
		cfg:         cfg,
		coordinator: coord,
		dog:         dog,
		topicRe:     regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `/([^/]+)/shadow/reported$`),
		topic:       prefix + "/+/shadow/reported",
		log:         logger.For(logger.ComponentIngest),
	}
}

// Start connects to the broker and pumps messages until ctx is cancelled.
// It blocks; run it under the service's errgroup.
func (b *Bridge) Start(ctx context.Context) error {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(b.cfg.BrokerURL)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
	}
	if b.cfg.Password != "" {
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	// Subscribing in the connect handler re-establishes the subscription
	// after every reconnect.
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	b.client = MQTT.NewClient(opts)

	connect := func() error {
		token := b.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			b.log.Warnf("Broker connect failed, backing off: %v", err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", b.cfg.BrokerURL, err)
	}

	heartbeat := b.dog.RegisterHeartbeat("mqtt-ingest", 10, 60)
	defer b.dog.UnregisterHeartbeat(heartbeat)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.client.Disconnect(1000)
			b.log.Infof("Ingest bridge stopped")
			return nil
		case <-ticker.C:
			if b.client.IsConnected() {
				b.dog.ReportHeartbeatStatus(heartbeat, watchdog.HEARTBEAT_STATUS_OK)
			} else {
				b.dog.ReportHeartbeatStatus(heartbeat, watchdog.HEARTBEAT_STATUS_WARNING)
			}
		}
	}
}

func (b *Bridge) onConnect(c MQTT.Client) {
	optionsReader := c.OptionsReader()
	b.log.Infof("Connected to MQTT broker (%s)", optionsReader.ClientID())

	if token := c.Subscribe(b.topic, 1, b.onMessage); token.Wait() && token.Error() != nil {
		b.log.Errorf("Failed to subscribe to %s: %s", b.topic, token.Error())
		metrics.IncErrorCount(metrics.ComponentIngest)
	}
}

func (b *Bridge) onConnectionLost(c MQTT.Client, err error) {
	optionsReader := c.OptionsReader()
	b.log.Warnf("Connection lost, auto-reconnecting (%v) (%s)", err, optionsReader.ClientID())
}

func (b *Bridge) onMessage(client MQTT.Client, message MQTT.Message) {
	go b.processMessage(message.Topic(), message.Payload())
}

func (b *Bridge) processMessage(topic string, payload []byte) {
	deviceID, ok := b.ParseTopic(topic)
	if !ok {
		metrics.IncIngestMessage(OutcomeInvalidTopic)
		b.log.Debugf("Ignoring message on unexpected topic %s", topic)
		return
	}

	var patch models.PropertyMap
	if err := safejson.Unmarshal(payload, &patch); err != nil || len(patch) == 0 {
		metrics.IncIngestMessage(OutcomeInvalidPayload)
		b.log.Warnf("Invalid reported-state payload from device %s: %v", deviceID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	doc, err := b.coordinator.UpdateReported(ctx, deviceID, patch)
	if err != nil {
		metrics.IncIngestMessage(OutcomeRejected)
		metrics.IncErrorCount(metrics.ComponentIngest)
		b.log.Errorf("Reported update for device %s failed: %v", deviceID, err)
		return
	}

	metrics.IncIngestMessage(OutcomeAccepted)
	b.log.Debugf("Applied reported patch for device %s (version %d)", deviceID, doc.Version)
}

// ParseTopic extracts the device ID from a reported-state topic.
func (b *Bridge) ParseTopic(topic string) (string, bool) {
	match := b.topicRe.FindStringSubmatch(topic)
	if match == nil {
		return "", false
	}

	return match[1], true
}
