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

package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/jeremyhahn/go-hsm/pkg/entropy"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	drbgKeySize = chacha20.KeySize

	// drbgRekeyBytes is how much keystream is issued before the state is
	// rolled forward from its own output (fast key erasure). Reseeding
	// from the entropy source is separate and driven by the core's
	// reseed interval.
	drbgRekeyBytes = 1 << 20
)

// DRBG is a deterministic random bit generator built on the ChaCha20
// keystream, seeded and periodically reseeded from the external entropy
// collaborator.
//
// A reseed failure is sticky: every subsequent call fails with
// ErrEntropyFailure and the core is expected to halt. The generator never
// silently degrades.
type DRBG struct {
	mu        sync.Mutex
	source    entropy.Source
	stream    *chacha20.Cipher
	key       [drbgKeySize]byte
	nonceCtr  uint64
	generated int
	reseeds   uint64
	failed    bool
}

// NewDRBG creates a generator and performs the initial seed. Seed failure
// is fatal: no generator is returned.
func NewDRBG(source entropy.Source) (*DRBG, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: nil entropy source", ErrEntropyFailure)
	}
	d := &DRBG{source: source}
	if err := d.Reseed(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reseed mixes fresh entropy into the generator state. Invoked by the
// core on its reseed interval and on demand by the entropy collaborator;
// may run from an interrupt-context analog, so the critical section is
// held only for the state swap.
func (d *DRBG) Reseed() error {
	var fresh [drbgKeySize]byte
	if err := d.source.Gather(fresh[:]); err != nil {
		d.mu.Lock()
		d.failed = true
		d.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrEntropyFailure, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failed {
		return ErrEntropyFailure
	}

	// Chain the old key through HKDF so a reseed never reduces entropy,
	// only adds it.
	kdf := hkdf.New(sha256.New, fresh[:], d.key[:], []byte("go-hsm drbg v1"))
	if _, err := io.ReadFull(kdf, d.key[:]); err != nil {
		d.failed = true
		return fmt.Errorf("%w: %v", ErrEntropyFailure, err)
	}
	keystore.Zeroize(fresh[:])
	d.reseeds++
	return d.rekeyLocked()
}

// Read fills p with generator output. Implements io.Reader so the
// standard library key generators can draw from the DRBG directly.
func (d *DRBG) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failed {
		return 0, ErrEntropyFailure
	}
	for i := range p {
		p[i] = 0
	}
	d.stream.XORKeyStream(p, p)
	d.generated += len(p)

	if d.generated >= drbgRekeyBytes {
		// Roll the key forward from our own keystream so prior output
		// cannot be reconstructed from captured state.
		var next [drbgKeySize]byte
		d.stream.XORKeyStream(next[:], next[:])
		copy(d.key[:], next[:])
		keystore.Zeroize(next[:])
		if err := d.rekeyLocked(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Reseeds returns how many successful reseeds have occurred.
func (d *DRBG) Reseeds() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reseeds
}

// Failed reports whether the generator has entered the sticky failure
// state.
func (d *DRBG) Failed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

// rekeyLocked rebuilds the keystream cipher from d.key with a fresh
// nonce. Caller holds d.mu.
func (d *DRBG) rekeyLocked() error {
	var nonce [chacha20.NonceSize]byte
	d.nonceCtr++
	binary.BigEndian.PutUint64(nonce[4:], d.nonceCtr)

	stream, err := chacha20.NewUnauthenticatedCipher(d.key[:], nonce[:])
	if err != nil {
		d.failed = true
		return fmt.Errorf("%w: %v", ErrEntropyFailure, err)
	}
	d.stream = stream
	d.generated = 0
	return nil
}

// Verify interface compliance at compile time
var _ io.Reader = (*DRBG)(nil)
