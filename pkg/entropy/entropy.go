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

// Package entropy defines the external entropy collaborator that seeds
// and reseeds the core's DRBG.
//
// The core treats entropy failure as fatal: issuing weak randomness is
// considered worse than losing availability, so a failing source halts
// the core instead of degrading it.
package entropy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrSourceFailure is returned when the entropy source cannot deliver
// full-strength entropy. Wrap it from custom sources so the core can
// recognize the fatal condition.
var ErrSourceFailure = errors.New("entropy: source failure")

// Source delivers raw entropy into a caller-provided buffer. Gather must
// either fill the entire buffer or fail; partial fills are failures.
// Implementations must be safe for calls from the dispatcher goroutine
// and from interrupt-context analogs (timer-driven reseed).
type Source interface {
	Gather(buf []byte) error
}

// SystemSource draws from the platform CSPRNG (crypto/rand).
type SystemSource struct{}

// NewSystemSource returns a Source backed by the operating system.
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

// Gather fills buf from the platform CSPRNG.
func (s *SystemSource) Gather(buf []byte) error {
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceFailure, err)
	}
	return nil
}

// Verify interface compliance at compile time
var _ Source = (*SystemSource)(nil)
