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

package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/nexiot/shadow-core/pkg/coordinator"
	"github.com/nexiot/shadow-core/pkg/logger"
	"github.com/nexiot/shadow-core/pkg/metrics"
	"github.com/nexiot/shadow-core/pkg/models"
	"github.com/nexiot/shadow-core/pkg/notifier"
	"github.com/nexiot/shadow-core/pkg/safejson"
	"github.com/nexiot/shadow-core/pkg/shadowerrors"
	"github.com/nexiot/shadow-core/pkg/subscriptions"
)

// Session lifecycle states.
const (
	StateConnecting = "connecting"
	StateActive     = "active"
	StateClosed     = "closed"
)

// Session lifecycle events.
const (
	EventEstablish = "establish"
	EventClose     = "close"
)

const (
	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second
	// pongWait is how long the session survives without a pong.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames.
	maxMessageSize = 512 * 1024
	// sendBufferSize bounds outbound frames pending on the socket.
	sendBufferSize = 64
)

// Session is one live WebSocket connection. Inbound frames are handled on
// the read pump, outbound frames (replies and pushed events) are funneled
// through the send channel and written by the write pump.
type Session struct {
	id          uuid.UUID
	conn        *websocket.Conn
	coordinator *coordinator.Coordinator
	registry    *subscriptions.Registry
	bus         *notifier.Notifier

	machine *fsm.FSM
	send    chan []byte
	done    chan struct{}

	closeOnce sync.Once
	log       *zap.SugaredLogger
}

func newSession(conn *websocket.Conn, coord *coordinator.Coordinator, registry *subscriptions.Registry, bus *notifier.Notifier) *Session {
	s := &Session{
		id:          uuid.New(),
		conn:        conn,
		coordinator: coord,
		registry:    registry,
		bus:         bus,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
	}
	s.log = logger.For(logger.ComponentGateway).With("session", s.id.String())

	s.machine = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: EventEstablish, Src: []string{StateConnecting}, Dst: StateActive},
			{Name: EventClose, Src: []string{StateConnecting, StateActive}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_" + StateActive: func(ctx context.Context, e *fsm.Event) {
				s.log.Infof("Session established")
			},
			"enter_" + StateClosed: func(ctx context.Context, e *fsm.Event) {
				s.log.Infof("Session closed")
			},
		},
	)

	return s
}

// ID returns the connection identifier used in registry and notifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() string {
	return s.machine.Current()
}

// Run services the session until the peer disconnects or ctx is cancelled.
// It blocks; the gateway calls it from the upgrade handler's goroutine.
func (s *Session) Run(ctx context.Context) {
	if err := s.machine.Event(ctx, EventEstablish); err != nil {
		s.log.Errorf("Session state transition failed: %v", err)
		return
	}

	metrics.SessionOpened()
	listener := s.bus.Register(s.id)

	go s.writePump()
	go s.pushPump(listener)

	s.readPump(ctx)
	s.close(ctx)
}

// close tears the session down exactly once: subscriptions are removed and
// the listener unregistered before the socket closes, so no event can be
// routed to a dead connection.
func (s *Session) close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.registry.UnsubscribeAll(s.id)
		s.bus.Unregister(s.id)
		metrics.SetSubscriptions(s.registry.Length())
		metrics.SessionClosed()

		if err := s.machine.Event(ctx, EventClose); err != nil {
			s.log.Debugf("Session state transition on close: %v", err)
		}

		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageType, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Infof("Read error: %v", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		for _, reply := range s.handleMessage(ctx, raw) {
			if !s.enqueue(reply) {
				return
			}
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Infof("Write error: %v", err)
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// pushPump converts routed change events into wire messages. It exits when
// the listener channel closes, which happens on Unregister.
func (s *Session) pushPump(listener *notifier.Listener) {
	for {
		select {
		case <-s.done:
			return
		case delivery, ok := <-listener.Deliveries():
			if !ok {
				return
			}

			for _, message := range deliveryMessages(delivery) {
				if !s.enqueue(message) {
					return
				}
			}
		}
	}
}

func (s *Session) enqueue(message []byte) bool {
	select {
	case s.send <- message:
		return true
	case <-s.done:
		return false
	}
}

// handleMessage parses and dispatches one inbound frame, returning the
// frames to send back. Malformed input never kills the session, it only
// produces an error message.
func (s *Session) handleMessage(ctx context.Context, raw []byte) [][]byte {
	var msg models.ClientMessage
	if err := safejson.Unmarshal(raw, &msg); err != nil {
		metrics.IncErrorCount(metrics.ComponentGateway)
		return [][]byte{errorFrame(shadowerrors.CodeInternal, "malformed message", "")}
	}

	switch msg.Type {
	case models.MessageTypeSubscribe:
		return s.handleSubscribe(msg)
	case models.MessageTypeUpdateShadow:
		return s.handleUpdateShadow(ctx, msg)
	case models.MessageTypeGetShadow:
		return s.handleGetShadow(ctx, msg)
	default:
		return [][]byte{errorFrame(shadowerrors.CodeInternal,
			fmt.Sprintf("unknown message type %q", msg.Type), "")}
	}
}

func (s *Session) handleSubscribe(msg models.ClientMessage) [][]byte {
	if msg.Target != models.SubscribeTarget {
		return [][]byte{errorFrame(shadowerrors.CodeSubscriptionFailed,
			fmt.Sprintf("unknown subscription target %q", msg.Target), "")}
	}

	if err := s.registry.Subscribe(s.id, msg.DeviceIDs, msg.Operations); err != nil {
		metrics.IncErrorCount(metrics.ComponentGateway)
		return [][]byte{errorFrame(shadowerrors.WireCode(err), err.Error(), "")}
	}

	metrics.SetSubscriptions(s.registry.Length())
	s.log.Debugf("Subscribed to %d device(s)", len(msg.DeviceIDs))
	return nil
}

func (s *Session) handleUpdateShadow(ctx context.Context, msg models.ClientMessage) [][]byte {
	if msg.DeviceID == "" || len(msg.Data) == 0 {
		return [][]byte{errorFrame(shadowerrors.CodeInternal, "deviceId and data are required", msg.DeviceID)}
	}

	var (
		doc *models.ShadowDocument
		err error
	)

	switch msg.Operation {
	case models.OperationReported:
		doc, err = s.coordinator.UpdateReported(ctx, msg.DeviceID, msg.Data)
	case models.OperationDesired:
		doc, err = s.coordinator.UpdateDesired(ctx, msg.DeviceID, msg.Data, msg.ExpectedVersion)
	default:
		return [][]byte{errorFrame(shadowerrors.CodeInternal,
			fmt.Sprintf("operation %q is not writable", msg.Operation), msg.DeviceID)}
	}

	if err != nil {
		metrics.IncErrorCount(metrics.ComponentGateway)
		return [][]byte{errorFrame(shadowerrors.WireCode(err), err.Error(), msg.DeviceID)}
	}

	return [][]byte{stateFrame(doc)}
}

func (s *Session) handleGetShadow(ctx context.Context, msg models.ClientMessage) [][]byte {
	if msg.DeviceID == "" {
		return [][]byte{errorFrame(shadowerrors.CodeInternal, "deviceId is required", "")}
	}

	doc, err := s.coordinator.GetShadow(ctx, msg.DeviceID)
	if err != nil {
		return [][]byte{errorFrame(shadowerrors.WireCode(err), err.Error(), msg.DeviceID)}
	}

	return [][]byte{stateFrame(doc)}
}

// deliveryMessages expands one routed change event into the frames the
// subscriber asked for. Patch frames are sent only when the write touched
// the section; the delta frame is sent on every accepted write so clients
// can observe convergence when it empties.
func deliveryMessages(d notifier.Delivery) [][]byte {
	timestamp := d.Event.Timestamp.UTC().Format(time.RFC3339Nano)

	if d.Event.Deleted {
		return [][]byte{safejson.MustMarshal(models.ShadowDeletedMessage{
			Type:      models.MessageTypeShadowDeleted,
			DeviceID:  d.Event.DeviceID,
			Timestamp: timestamp,
			Version:   d.Event.Version,
		})}
	}

	var frames [][]byte

	if d.Operations.Contains(models.OperationReported) && len(d.Event.ReportedPatch) > 0 {
		frames = append(frames, safejson.MustMarshal(models.ShadowUpdateMessage{
			Type:      models.MessageTypeShadowUpdate,
			DeviceID:  d.Event.DeviceID,
			Timestamp: timestamp,
			Operation: models.OperationReported,
			Version:   d.Event.Version,
			Data:      d.Event.ReportedPatch,
		}))
	}

	if d.Operations.Contains(models.OperationDesired) && len(d.Event.DesiredPatch) > 0 {
		frames = append(frames, safejson.MustMarshal(models.ShadowUpdateMessage{
			Type:      models.MessageTypeShadowUpdate,
			DeviceID:  d.Event.DeviceID,
			Timestamp: timestamp,
			Operation: models.OperationDesired,
			Version:   d.Event.Version,
			Data:      d.Event.DesiredPatch,
		}))
	}

	if d.Operations.Contains(models.OperationDelta) {
		frames = append(frames, safejson.MustMarshal(models.ShadowUpdateMessage{
			Type:      models.MessageTypeShadowUpdate,
			DeviceID:  d.Event.DeviceID,
			Timestamp: timestamp,
			Operation: models.OperationDelta,
			Version:   d.Event.Version,
			Data:      d.Event.Delta,
		}))
	}

	return frames
}

func errorFrame(code, message, deviceID string) []byte {
	return safejson.MustMarshal(models.ErrorMessage{
		Type:     models.MessageTypeError,
		Code:     code,
		Message:  message,
		DeviceID: deviceID,
	})
}

func stateFrame(doc *models.ShadowDocument) []byte {
	return safejson.MustMarshal(models.ShadowStateMessage{
		Type:   models.MessageTypeShadowState,
		Shadow: doc,
	})
}
