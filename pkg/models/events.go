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

package models

import "time"

// Operation identifies which section of a shadow an event or subscription
// refers to.
type Operation string

const (
	OperationReported Operation = "reported"
	OperationDesired  Operation = "desired"
	OperationDelta    Operation = "delta"
)

// ValidOperation reports whether op is one of the known shadow sections.
func ValidOperation(op Operation) bool {
	switch op {
	case OperationReported, OperationDesired, OperationDelta:
		return true
	default:
		return false
	}
}

// ChangeEvent is emitted by the update coordinator after every accepted
// write and fanned out by the notifier. ReportedPatch and DesiredPatch carry
// only the keys the write touched; Delta is the freshly recomputed
// desired-vs-reported difference for the whole document.
type ChangeEvent struct {
	DeviceID      string      `json:"deviceId"`
	Version       int64       `json:"version"`
	Timestamp     time.Time   `json:"timestamp"`
	ReportedPatch PropertyMap `json:"reportedPatch,omitempty"`
	DesiredPatch  PropertyMap `json:"desiredPatch,omitempty"`
	Delta         PropertyMap `json:"delta"`
	// Deleted marks the terminal decommissioning event for a device.
	// No further events follow for this DeviceID.
	Deleted bool `json:"deleted,omitempty"`
}
