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

// Package watchdog supervises the long-running pump goroutines (MQTT ingest,
// event fan-out). Each pump registers a heartbeat and reports its status on
// every loop iteration. A heartbeat that goes stale past its timeout, or that
// reports too many consecutive warnings, crashes the process so the
// supervisor can restart it with a clean slate.
package watchdog

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeartbeatStatus is the status a routine reports on each loop.
type HeartbeatStatus int

const (
	// HEARTBEAT_STATUS_OK marks a healthy loop iteration.
	HEARTBEAT_STATUS_OK HeartbeatStatus = iota
	// HEARTBEAT_STATUS_WARNING marks a degraded iteration. Enough
	// consecutive warnings fail the heartbeat.
	HEARTBEAT_STATUS_WARNING
	// HEARTBEAT_STATUS_ERROR fails the heartbeat immediately.
	HEARTBEAT_STATUS_ERROR
)

type Iface interface {
	Start()
	RegisterHeartbeat(name string, warningsUntilFailure uint64, timeout uint64) uuid.UUID
	UnregisterHeartbeat(uniqueIdentifier uuid.UUID)
	ReportHeartbeatStatus(uniqueIdentifier uuid.UUID, status HeartbeatStatus)
}

type heartbeat struct {
	uniqueIdentifier     uuid.UUID
	lastHeartbeatTime    atomic.Int64
	file                 string
	line                 int
	warningCount         atomic.Uint32
	warningsUntilFailure uint64
	timeout              uint64
	heartbeatsReceived   atomic.Uint64
}

// Watchdog checks all registered heartbeats on every ticker tick.
type Watchdog struct {
	registeredHeartbeats      map[string]*heartbeat
	registeredHeartbeatsMutex sync.Mutex
	badHeartbeatChan          chan uuid.UUID
	ctx                       context.Context
	ticker                    *time.Ticker
	watchdogID                uuid.UUID
	logger                    *zap.SugaredLogger
}

func NewWatchdog(ctx context.Context, ticker *time.Ticker, logger *zap.SugaredLogger) *Watchdog {
	return &Watchdog{
		registeredHeartbeats: make(map[string]*heartbeat),
		// Buffered so that routines can report a bad heartbeat before
		// Start has been called without blocking.
		badHeartbeatChan: make(chan uuid.UUID, 100),
		ctx:              ctx,
		ticker:           ticker,
		watchdogID:       uuid.New(),
		logger:           logger,
	}
}

// Start runs the check loop until the context is cancelled. Run it in its
// own goroutine.
func (s *Watchdog) Start() {
	for {
		select {
		case uniqueIdentifier := <-s.badHeartbeatChan:
			name := s.getHeartbeatNameByUUID(uniqueIdentifier)
			panic(fmt.Sprintf("Heartbeat errored: [%s] %s (%s)", s.watchdogID, name, uniqueIdentifier))
		case <-s.ticker.C:
			now := time.Now().UTC().Unix()
			s.registeredHeartbeatsMutex.Lock()

			var overdueMsg string

			for name, hb := range s.registeredHeartbeats {
				sinceLast := now - hb.lastHeartbeatTime.Load()
				if sinceLast < 0 {
					s.logger.Warnf("Time went backwards: [%s]", s.watchdogID)
				}
				// timeout = 0 disables the staleness check
				if hb.timeout != 0 && sinceLast > int64(hb.timeout) {
					overdueMsg = fmt.Sprintf(
						"Heartbeat too old: [%s] %s (%s) registered at %s:%d [Lifetime heartbeats: %d] (%d seconds overdue)",
						s.watchdogID, name, hb.uniqueIdentifier, hb.file, hb.line,
						hb.heartbeatsReceived.Load(), sinceLast-int64(hb.timeout))
					delete(s.registeredHeartbeats, name)
					break
				}
			}

			// Unlock before any potential panic
			s.registeredHeartbeatsMutex.Unlock()

			if overdueMsg != "" {
				panic(overdueMsg)
			}

			s.logger.Debugf("Heartbeats are ok: [%s]", s.watchdogID)
		case <-s.ctx.Done():
			s.logger.Infof("Watchdog context done: [%s]", s.watchdogID)
			return
		}
	}
}

// RegisterHeartbeat registers a new heartbeat and returns its identifier.
// Keep the identifier to report status and to unregister on clean exit.
// Registering the same name twice is a programming error and panics.
func (s *Watchdog) RegisterHeartbeat(name string, warningsUntilFailure uint64, timeout uint64) uuid.UUID {
	uniqueIdentifier := uuid.New()
	_, file, line, ok := runtime.Caller(1)

	hb := heartbeat{
		uniqueIdentifier:     uniqueIdentifier,
		warningsUntilFailure: warningsUntilFailure,
		timeout:              timeout,
	}
	hb.lastHeartbeatTime.Store(time.Now().UTC().Unix())
	if ok {
		hb.file = file
		hb.line = line
	}

	s.registeredHeartbeatsMutex.Lock()
	if v, ok := s.registeredHeartbeats[name]; ok {
		s.registeredHeartbeatsMutex.Unlock()
		panic(fmt.Sprintf("Heartbeat already registered: %s (%s)", name, v.uniqueIdentifier))
	}
	s.registeredHeartbeats[name] = &hb
	s.registeredHeartbeatsMutex.Unlock()

	s.logger.Infof("[%s] Registered heartbeat %s (%s)", s.watchdogID, name, uniqueIdentifier)
	return uniqueIdentifier
}

// UnregisterHeartbeat removes a heartbeat. Call it when the routine exits
// normally.
func (s *Watchdog) UnregisterHeartbeat(uniqueIdentifier uuid.UUID) {
	name := s.getHeartbeatNameByUUID(uniqueIdentifier)
	if name == "" {
		s.logger.Warnf("[%s] Unregister heartbeat called with unknown identifier: %s", s.watchdogID, uniqueIdentifier)
		return
	}

	s.registeredHeartbeatsMutex.Lock()
	delete(s.registeredHeartbeats, name)
	s.registeredHeartbeatsMutex.Unlock()
	s.logger.Infof("[%s] Unregistered heartbeat %s", s.watchdogID, uniqueIdentifier)
}

// ReportHeartbeatStatus records a status for the heartbeat. OK resets the
// warning counter, WARNING increments it, ERROR fails the heartbeat right
// away.
func (s *Watchdog) ReportHeartbeatStatus(uniqueIdentifier uuid.UUID, status HeartbeatStatus) {
	name := s.getHeartbeatNameByUUID(uniqueIdentifier)
	if name == "" {
		s.logger.Errorf("[%s] Report heartbeat called with unknown identifier: %s", s.watchdogID, uniqueIdentifier)
		return
	}

	s.registeredHeartbeatsMutex.Lock()
	hb := s.registeredHeartbeats[name]
	if hb == nil {
		s.registeredHeartbeatsMutex.Unlock()
		return
	}

	hb.lastHeartbeatTime.Store(time.Now().UTC().Unix())
	hb.heartbeatsReceived.Add(1)

	var warnings uint32
	switch status {
	case HEARTBEAT_STATUS_WARNING:
		warnings = hb.warningCount.Add(1)
	case HEARTBEAT_STATUS_OK:
		hb.warningCount.Store(0)
	}
	// warningsUntilFailure == 0 disables this check
	if hb.warningsUntilFailure != 0 && warnings >= uint32(hb.warningsUntilFailure) {
		s.logger.Errorf("[%s] Heartbeat %s (%s) sent too many consecutive warnings (%d/%d)",
			s.watchdogID, name, uniqueIdentifier, warnings, hb.warningsUntilFailure)
		s.badHeartbeatChan <- uniqueIdentifier
	}
	s.registeredHeartbeatsMutex.Unlock()

	if status == HEARTBEAT_STATUS_ERROR {
		s.logger.Errorf("[%s] Heartbeat %s (%s) reported an error", s.watchdogID, name, uniqueIdentifier)
		s.badHeartbeatChan <- uniqueIdentifier
	}
}

func (s *Watchdog) getHeartbeatNameByUUID(uniqueIdentifier uuid.UUID) string {
	s.registeredHeartbeatsMutex.Lock()
	defer s.registeredHeartbeatsMutex.Unlock()

	for name, v := range s.registeredHeartbeats {
		if v.uniqueIdentifier == uniqueIdentifier {
			return name
		}
	}
	return ""
}
