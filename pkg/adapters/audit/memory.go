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

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAdapter implements Adapter with in-memory storage. Thread-safe
// and suitable for development and testing; events are lost on process
// restart.
type MemoryAdapter struct {
	mu     sync.RWMutex
	events []*Event
	closed bool
}

// NewMemoryAdapter creates a new in-memory audit adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		events: make([]*Event, 0, 1024),
	}
}

// LogEvent records an audit event in memory.
func (m *MemoryAdapter) LogEvent(_ context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("audit: event cannot be nil")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("audit: adapter is closed")
	}
	m.events = append(m.events, event)
	return nil
}

// GetEvents retrieves events matching the query, newest first.
func (m *MemoryAdapter) GetEvents(_ context.Context, query *Query) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Event
	// Stored oldest first; walk backwards for newest-first results.
	for i := len(m.events) - 1; i >= 0; i-- {
		if matches(m.events[i], query) {
			results = append(results, m.events[i])
		}
	}

	if query != nil {
		if query.Offset > 0 {
			if query.Offset >= len(results) {
				return []*Event{}, nil
			}
			results = results[query.Offset:]
		}
		if query.Limit > 0 && len(results) > query.Limit {
			results = results[:query.Limit]
		}
	}
	return results, nil
}

// Len returns the number of stored events.
func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Close marks the adapter closed. Stored events remain queryable.
func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Verify interface compliance at compile time
var _ Adapter = (*MemoryAdapter)(nil)
