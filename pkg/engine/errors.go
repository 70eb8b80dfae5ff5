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

import "errors"

var (
	// ErrDecryptionFailed is returned on AEAD tag mismatch or invalid
	// block padding. The tag comparison is constant time and no partial
	// plaintext is ever returned; the error is deliberately generic.
	ErrDecryptionFailed = errors.New("engine: decryption failed")

	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("engine: invalid signature")

	// ErrInvalidParameters is returned for malformed nonce/length
	// combinations, wrong key sizes, and (algorithm, operation) pairs
	// outside the closed dispatch table.
	ErrInvalidParameters = errors.New("engine: invalid parameters")

	// ErrEntropyFailure is returned when the DRBG cannot be seeded or
	// reseeded. It is the only unrecoverable engine error: the core
	// halts rather than issue weak randomness.
	ErrEntropyFailure = errors.New("engine: entropy source failure")

	// ErrAcceleratorBusy is returned when the hardware accelerator
	// cannot accept another job. The dispatcher surfaces it as
	// EngineBusy and the client retries.
	ErrAcceleratorBusy = errors.New("engine: accelerator busy")
)
