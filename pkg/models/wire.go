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

// WebSocket wire protocol. One JSON message per frame, discriminated by the
// `type` field. Unknown types and operations are rejected with an explicit
// error message rather than silently ignored.

// Client → server message types.
const (
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUpdateShadow = "update_shadow"
	MessageTypeGetShadow    = "get_shadow"
)

// Server → client message types.
const (
	MessageTypeShadowUpdate  = "shadow_update"
	MessageTypeShadowDeleted = "shadow_deleted"
	MessageTypeShadowState   = "shadow_state"
	MessageTypeError         = "error"
)

// SubscribeTarget is the only subscription target the gateway supports.
const SubscribeTarget = "shadow"

// ClientMessage is the envelope for everything a client sends. Fields are
// populated depending on Type; the gateway validates per type before acting.
type ClientMessage struct {
	Type       string      `json:"type"`
	Target     string      `json:"target,omitempty"`
	DeviceIDs  []string    `json:"deviceIds,omitempty"`
	Operations []Operation `json:"operations,omitempty"`
	DeviceID   string      `json:"deviceId,omitempty"`
	Operation  Operation   `json:"operation,omitempty"`
	Data       PropertyMap `json:"data,omitempty"`
	// ExpectedVersion gates desired-state updates with optimistic
	// concurrency. Nil means no precondition.
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

// ShadowUpdateMessage pushes one shadow section change to a subscriber.
type ShadowUpdateMessage struct {
	Type      string      `json:"type"`
	DeviceID  string      `json:"deviceId"`
	Timestamp string      `json:"timestamp"`
	Operation Operation   `json:"operation"`
	Version   int64       `json:"version"`
	Data      PropertyMap `json:"data"`
}

// ShadowDeletedMessage is the terminal notification for a decommissioned
// device. No further messages follow for this DeviceID.
type ShadowDeletedMessage struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
	Version   int64  `json:"version"`
}

// ShadowStateMessage is the reply to get_shadow and to a successful
// update_shadow, carrying the full document.
type ShadowStateMessage struct {
	Type   string          `json:"type"`
	Shadow *ShadowDocument `json:"shadow"`
}

// ErrorMessage reports a failed client request. Code is one of the wire
// error codes; DeviceID is set when the failure is device-scoped.
type ErrorMessage struct {
	Type     string `json:"type"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	DeviceID string `json:"deviceId,omitempty"`
}
