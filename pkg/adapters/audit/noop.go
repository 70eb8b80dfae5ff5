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

package audit

import "context"

// NoopAdapter implements Adapter by discarding every event. Used when
// auditing is disabled.
type NoopAdapter struct{}

// NewNoopAdapter creates an adapter that discards all events.
func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{}
}

// LogEvent discards the event.
func (*NoopAdapter) LogEvent(context.Context, *Event) error { return nil }

// GetEvents always returns an empty result.
func (*NoopAdapter) GetEvents(context.Context, *Query) ([]*Event, error) {
	return []*Event{}, nil
}

// Close is a no-op.
func (*NoopAdapter) Close() error { return nil }

// Verify interface compliance at compile time
var _ Adapter = (*NoopAdapter)(nil)
