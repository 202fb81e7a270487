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

// Package shadowerrors defines the error taxonomy of the shadow core.
//
// Store-layer errors are never handed to clients raw: the coordinator maps
// them onto these sentinels, and the gateway is the only place where they
// are translated into wire error codes.
package shadowerrors

import "errors"

var (
	// ErrShadowNotFound is returned when no shadow document exists for a
	// device. Recoverable: a first reported or desired write creates one.
	ErrShadowNotFound = errors.New("shadow not found")

	// ErrVersionConflict is returned when a desired-state write carries a
	// stale expected version. Callers should re-fetch and retry; the
	// conflict is never auto-merged.
	ErrVersionConflict = errors.New("shadow version conflict")

	// ErrSubscriptionFailed is returned when the subscription registry is
	// at capacity or the subscribe request is malformed. The connection
	// stays open.
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrShadowDeleted is returned for writes against a device that has
	// been decommissioned in the same call.
	ErrShadowDeleted = errors.New("shadow deleted")
)

// Wire error codes as they appear in the `error` message `code` field.
const (
	CodeShadowNotFound     = "SHADOW_NOT_FOUND"
	CodeVersionConflict    = "VERSION_CONFLICT"
	CodeSubscriptionFailed = "SUBSCRIPTION_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

// WireCode maps a taxonomy error to its wire code. Anything outside the
// taxonomy is reported as a generic internal failure so that store-level
// detail never leaks to clients.
func WireCode(err error) string {
	switch {
	case errors.Is(err, ErrShadowNotFound):
		return CodeShadowNotFound
	case errors.Is(err, ErrVersionConflict):
		return CodeVersionConflict
	case errors.Is(err, ErrSubscriptionFailed):
		return CodeSubscriptionFailed
	default:
		return CodeInternal
	}
}
