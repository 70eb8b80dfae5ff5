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

package hsm

import "time"

// entryState tracks a request through the dispatch pipeline.
type entryState uint8

const (
	// entryReceived: frame decoded, not yet authorized.
	entryReceived entryState = iota
	// entryKeyResolved: key authorized and resolvable, ready to execute.
	entryKeyResolved
	// entryDispatched: executing, or parked waiting on an accelerator
	// completion.
	entryDispatched
	// entryCompleted: response built, waiting to be enqueued.
	entryCompleted
	// entryFailed: response carrying an error status, waiting to be
	// enqueued.
	entryFailed
)

func (s entryState) String() string {
	switch s {
	case entryReceived:
		return "received"
	case entryKeyResolved:
		return "key_resolved"
	case entryDispatched:
		return "dispatched"
	case entryCompleted:
		return "completed"
	case entryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// entry is one tracked request. Entries live in a fixed-capacity table;
// a request arriving with no free entry is rejected with EngineBusy.
type entry struct {
	state    entryState
	client   int
	corr     uint32
	op       string
	token    uint64 // accelerator token while parked at entryDispatched
	frame    []byte // encoded response once completed or failed
	started  time.Time
	occupied bool
}

// inflightTable is a fixed-size request table with a free list. Owned by
// the dispatch goroutine; no locking.
type inflightTable struct {
	entries []entry
	free    []int
}

func newInflightTable(capacity int) *inflightTable {
	t := &inflightTable{
		entries: make([]entry, capacity),
		free:    make([]int, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

// acquire takes a free entry, returning its index, or false when full.
func (t *inflightTable) acquire(client int, corr uint32, now time.Time) (int, bool) {
	if len(t.free) == 0 {
		return 0, false
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.entries[idx] = entry{
		state:    entryReceived,
		client:   client,
		corr:     corr,
		started:  now,
		occupied: true,
	}
	return idx, true
}

// release returns an entry to the free list.
func (t *inflightTable) release(idx int) {
	t.entries[idx] = entry{}
	t.free = append(t.free, idx)
}

// used returns the number of occupied entries.
func (t *inflightTable) used() int {
	return len(t.entries) - len(t.free)
}

// byToken finds the parked entry matching an accelerator token.
func (t *inflightTable) byToken(token uint64) (int, bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.occupied && e.state == entryDispatched && e.token == token {
			return i, true
		}
	}
	return 0, false
}

// pending returns the indexes of entries holding a response that could
// not be enqueued yet.
func (t *inflightTable) pending() []int {
	var out []int
	for i := range t.entries {
		e := &t.entries[i]
		if e.occupied && (e.state == entryCompleted || e.state == entryFailed) {
			out = append(out, i)
		}
	}
	return out
}
