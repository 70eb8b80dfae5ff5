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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileAdapter implements Adapter with an append-only JSON Lines file.
// Each event is one JSON object per line, flushed on every write so the
// trail survives a crash.
type FileAdapter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// NewFileAdapter opens (or creates) path for appending audit events.
func NewFileAdapter(path string) (*FileAdapter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileAdapter{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// LogEvent appends one JSON line to the file.
func (a *FileAdapter) LogEvent(_ context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("audit: event cannot be nil")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("audit: adapter is closed")
	}
	if _, err := a.writer.Write(line); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	if err := a.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return a.writer.Flush()
}

// GetEvents reads the file back and returns events matching the query,
// newest first. Intended for tooling and tests rather than hot paths.
func (a *FileAdapter) GetEvents(_ context.Context, query *Query) ([]*Event, error) {
	a.mu.Lock()
	path := a.file.Name()
	a.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var all []*Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("audit: corrupt event record: %w", err)
		}
		all = append(all, &ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", path, err)
	}

	var results []*Event
	for i := len(all) - 1; i >= 0; i-- {
		if matches(all[i], query) {
			results = append(results, all[i])
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

// Close flushes and closes the underlying file.
func (a *FileAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.writer.Flush(); err != nil {
		a.file.Close()
		return fmt.Errorf("audit: flush: %w", err)
	}
	return a.file.Close()
}

// Verify interface compliance at compile time
var _ Adapter = (*FileAdapter)(nil)
