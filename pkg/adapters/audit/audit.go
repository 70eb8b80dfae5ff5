// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-hsm.
//
// go-hsm is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package audit provides an adapter interface for audit logging, allowing
// applications embedding the core to implement custom audit trail
// strategies. In-memory and append-only file adapters are provided for
// common cases.
package audit

import (
	"context"
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	// Key lifecycle events.
	EventKeyGenerate EventType = "key.generate"
	EventKeyImport   EventType = "key.import"
	EventKeyExport   EventType = "key.export"
	EventKeyDelete   EventType = "key.delete"
	EventKeyDerive   EventType = "key.derive"

	// Cryptographic operation events.
	EventEncrypt EventType = "crypto.encrypt"
	EventDecrypt EventType = "crypto.decrypt"
	EventSign    EventType = "crypto.sign"
	EventVerify  EventType = "crypto.verify"

	// Random number generator events.
	EventRNGRead   EventType = "rng.read"
	EventRNGReseed EventType = "rng.reseed"

	// Authorization events.
	EventAccessDenied EventType = "authz.deny"

	// System events.
	EventSystemStart EventType = "system.start"
	EventSystemStop  EventType = "system.stop"
	EventSystemHalt  EventType = "system.halt"
)

// EventOutcome indicates the result of an operation.
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeDenied  EventOutcome = "denied"
)

// Event is a single audit log entry.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// EventType categorizes the event.
	EventType EventType `json:"event_type"`

	// Outcome indicates whether the operation succeeded.
	Outcome EventOutcome `json:"outcome"`

	// ClientID identifies the channel endpoint the request arrived on.
	// Negative when the event is not tied to a client.
	ClientID int `json:"client_id"`

	// CorrelationID is the request's correlation id, zero for system
	// events.
	CorrelationID uint32 `json:"correlation_id,omitempty"`

	// KeyID is the textual form of the key handle involved, empty when
	// no key was touched.
	KeyID string `json:"key_id,omitempty"`

	// Algorithm names the algorithm involved, empty when none.
	Algorithm string `json:"algorithm,omitempty"`

	// Status is the wire status returned to the client.
	Status string `json:"status,omitempty"`

	// Detail carries additional human-readable context.
	Detail string `json:"detail,omitempty"`
}

// Query filters retrieved audit events.
type Query struct {
	// EventTypes filters by event type. Empty matches all.
	EventTypes []EventType

	// Outcomes filters by outcome. Empty matches all.
	Outcomes []EventOutcome

	// ClientID filters by client, nil matches all.
	ClientID *int

	// KeyID filters by key handle, empty matches all.
	KeyID string

	// StartTime includes only events at or after this time.
	StartTime *time.Time

	// EndTime includes only events before this time.
	EndTime *time.Time

	// Limit bounds the number of results, zero for unlimited.
	Limit int

	// Offset skips the first N results.
	Offset int
}

// Adapter provides audit logging. Implementations must be safe for
// concurrent use; LogEvent is called from the core's dispatch loop and
// must not block indefinitely.
type Adapter interface {
	// LogEvent records an audit event. A zero ID or Timestamp is filled
	// in by the adapter.
	LogEvent(ctx context.Context, event *Event) error

	// GetEvents retrieves events matching the query, newest first.
	GetEvents(ctx context.Context, query *Query) ([]*Event, error)

	// Close releases adapter resources.
	Close() error
}

// matches reports whether event satisfies every filter in query.
func matches(event *Event, query *Query) bool {
	if query == nil {
		return true
	}
	if len(query.EventTypes) > 0 && !containsType(query.EventTypes, event.EventType) {
		return false
	}
	if len(query.Outcomes) > 0 && !containsOutcome(query.Outcomes, event.Outcome) {
		return false
	}
	if query.ClientID != nil && event.ClientID != *query.ClientID {
		return false
	}
	if query.KeyID != "" && event.KeyID != query.KeyID {
		return false
	}
	if query.StartTime != nil && event.Timestamp.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && !event.Timestamp.Before(*query.EndTime) {
		return false
	}
	return true
}

func containsType(set []EventType, t EventType) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

func containsOutcome(set []EventOutcome, o EventOutcome) bool {
	for _, v := range set {
		if v == o {
			return true
		}
	}
	return false
}
