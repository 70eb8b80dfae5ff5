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

// Package keystore implements the fixed-capacity table owning all secret
// key material in the core.
//
// Every slot holds a bounded material buffer, an algorithm tag, a usage
// mask and a use counter. Material never leaves the store except through
// the scoped borrow of WithMaterial, which copies into a scratch buffer
// that is zeroized when the borrow ends, or through an explicitly
// Export-flagged operation at the dispatcher. Deletion zeroizes the slot
// synchronously and bumps its generation counter so stale handles fail
// with ErrKeyNotFound instead of addressing the successor key.
//
// All mutating operations run inside the store's critical section. The
// lock is never held across an engine call: borrows copy out under the
// lock and release it before the caller's function runs.
package keystore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-hsm/pkg/types"
)

var (
	// ErrKeyNotFound is returned when a handle resolves to no live key.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrKeyStoreFull is returned when no free slot exists.
	ErrKeyStoreFull = errors.New("keystore: key store full")

	// ErrInvalidKeyMaterial is returned when material length does not
	// match the declared algorithm.
	ErrInvalidKeyMaterial = errors.New("keystore: invalid key material")

	// ErrPermissionDenied is returned when a key's usage mask forbids the
	// requested operation.
	ErrPermissionDenied = errors.New("keystore: permission denied by usage mask")

	// ErrClosed is returned after the store has been shut down.
	ErrClosed = errors.New("keystore: store closed")
)

// KeyInfo is the non-secret metadata of a key slot.
type KeyInfo struct {
	ID        types.KeyID
	Algorithm types.Algorithm
	Usage     types.KeyUsage
	UseCount  uint64
	CreatedAt time.Time
}

type slot struct {
	occupied   bool
	generation uint16
	algorithm  types.Algorithm
	usage      types.KeyUsage
	useCount   uint64
	createdAt  time.Time
	length     int
	material   [types.MaxKeyMaterial]byte
}

// Store is the fixed-capacity key table. Safe for use from the dispatcher
// goroutine and from interrupt-context analogs (the entropy reseed path);
// every access is serialized by one bounded critical section.
type Store struct {
	mu     sync.Mutex
	slots  []slot
	free   []uint16
	closed bool
	now    func() time.Time
}

// New creates a store with the given fixed slot capacity.
func New(capacity int) (*Store, error) {
	if capacity < 1 || capacity > 0xffff {
		return nil, fmt.Errorf("keystore: capacity must be 1..65535, got %d", capacity)
	}
	s := &Store{
		slots: make([]slot, capacity),
		free:  make([]uint16, 0, capacity),
		now:   time.Now,
	}
	// First generation issued is 1, so the zero KeyID never resolves.
	for i := capacity - 1; i >= 0; i-- {
		s.slots[i].generation = 0
		s.free = append(s.free, uint16(i))
	}
	return s, nil
}

// Insert installs key material in a free slot and returns its handle.
// The material is copied; the caller should zeroize its own copy.
// Material length is validated against the algorithm before any slot is
// consumed.
func (s *Store) Insert(alg types.Algorithm, usage types.KeyUsage, material []byte) (types.KeyID, error) {
	if !alg.Keyed() {
		return 0, fmt.Errorf("%w: algorithm %s holds no key", ErrInvalidKeyMaterial, alg)
	}
	if len(material) != alg.KeySize() {
		return 0, fmt.Errorf("%w: %s requires %d bytes, got %d",
			ErrInvalidKeyMaterial, alg, alg.KeySize(), len(material))
	}
	if !usage.Valid() {
		return 0, fmt.Errorf("%w: usage mask %#x", ErrInvalidKeyMaterial, uint16(usage))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if len(s.free) == 0 {
		return 0, ErrKeyStoreFull
	}

	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	sl := &s.slots[idx]
	sl.occupied = true
	sl.generation++
	sl.algorithm = alg
	sl.usage = usage
	sl.useCount = 0
	sl.createdAt = s.now()
	sl.length = copy(sl.material[:], material)

	return types.NewKeyID(idx, sl.generation), nil
}

// Delete zeroizes a slot in place and returns it to the free list. The
// erasure is synchronous: by the time Delete returns, the material is gone.
func (s *Store) Delete(id types.KeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	sl, err := s.resolve(id)
	if err != nil {
		return err
	}

	Zeroize(sl.material[:])
	sl.occupied = false
	sl.length = 0
	sl.algorithm = types.AlgNone
	sl.usage = 0
	s.free = append(s.free, id.Slot())
	return nil
}

// Info returns the non-secret metadata for a key.
func (s *Store) Info(id types.KeyID) (KeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return KeyInfo{}, ErrClosed
	}
	sl, err := s.resolve(id)
	if err != nil {
		return KeyInfo{}, err
	}
	return s.info(id, sl), nil
}

// Authorize checks the key's usage mask against the requested operation.
// Operations not gated by a usage bit are always permitted. The mismatch
// surfaces as ErrPermissionDenied at the dispatcher, before any engine
// code runs.
func (s *Store) Authorize(id types.KeyID, op types.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	sl, err := s.resolve(id)
	if err != nil {
		return err
	}
	required := types.UsageFor(op)
	if required != 0 && !sl.usage.Has(required) {
		return fmt.Errorf("%w: %s requires %s, key allows %s",
			ErrPermissionDenied, op, required, sl.usage)
	}
	return nil
}

// WithMaterial borrows a key's material for the span of one engine call.
//
// The material is copied into a scratch buffer under the store lock, the
// lock is released, fn runs, and the scratch is zeroized before return.
// fn must not retain the slice. The key's use counter is incremented once
// per borrow.
func (s *Store) WithMaterial(id types.KeyID, fn func(material []byte, info KeyInfo) error) error {
	var scratch [types.MaxKeyMaterial]byte

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sl, err := s.resolve(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	n := copy(scratch[:], sl.material[:sl.length])
	sl.useCount++
	info := s.info(id, sl)
	s.mu.Unlock()

	defer Zeroize(scratch[:n])
	return fn(scratch[:n], info)
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) - len(s.free)
}

// Capacity returns the fixed slot count.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// List returns metadata for every live key, in slot order.
func (s *Store) List() []KeyInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]KeyInfo, 0, len(s.slots)-len(s.free))
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.occupied {
			out = append(out, s.info(types.NewKeyID(uint16(i), sl.generation), sl))
		}
	}
	return out
}

// Close zeroizes every slot and marks the store unusable. Keys are
// volatile: nothing survives shutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	for i := range s.slots {
		Zeroize(s.slots[i].material[:])
		s.slots[i].occupied = false
		s.slots[i].length = 0
	}
	s.closed = true
	return nil
}

// resolve maps a handle to its live slot. Caller holds s.mu.
func (s *Store) resolve(id types.KeyID) (*slot, error) {
	idx := id.Slot()
	if int(idx) >= len(s.slots) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	sl := &s.slots[idx]
	if !sl.occupied || sl.generation != id.Generation() {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	return sl, nil
}

func (s *Store) info(id types.KeyID, sl *slot) KeyInfo {
	return KeyInfo{
		ID:        id,
		Algorithm: sl.algorithm,
		Usage:     sl.usage,
		UseCount:  sl.useCount,
		CreatedAt: sl.createdAt,
	}
}
