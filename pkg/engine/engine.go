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

// Package engine implements the closed set of cryptographic primitives the
// dispatcher executes: AEAD and CBC ciphers, ECDSA and Ed25519 signatures,
// ECDH and X25519 key agreement, hashing, and a ChaCha20-based DRBG. Every
// operation takes explicit key material; the engine holds no key state of
// its own.
package engine

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/jeremyhahn/go-hsm/pkg/entropy"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// Config holds the engine's collaborators.
type Config struct {
	// Source feeds the DRBG. Required.
	Source entropy.Source

	// Accelerator optionally offloads jobs to an asynchronous backend.
	Accelerator Accelerator
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Source == nil {
		return fmt.Errorf("%w: entropy source is required", ErrInvalidParameters)
	}
	return nil
}

// Job is one unit of work for Execute or an Accelerator. The dispatcher
// resolves key handles before building a Job, so Key always carries raw
// material (borrowed from the store or supplied inline by the caller).
type Job struct {
	Operation types.Operation
	Algorithm types.Algorithm

	// Key is the secret material for the operation, nil for keyless
	// operations (hash, random).
	Key []byte

	// Nonce is the AEAD nonce or CBC IV.
	Nonce []byte

	// AAD is additional authenticated data for AEAD operations.
	AAD []byte

	// Input is the operation payload: plaintext, ciphertext, message,
	// or peer public key for key derivation.
	Input []byte

	// Signature is the signature to check for verify operations.
	Signature []byte

	// OutputLen is the requested output size for random generation and
	// key derivation.
	OutputLen int
}

// Engine executes jobs synchronously and owns the module's DRBG.
type Engine struct {
	drbg  *DRBG
	accel Accelerator
}

// New constructs an Engine and seeds its DRBG from the configured source.
func New(config *Config) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidParameters)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	drbg, err := NewDRBG(config.Source)
	if err != nil {
		return nil, err
	}
	return &Engine{drbg: drbg, accel: config.Accelerator}, nil
}

// Execute runs one job to completion and returns its output. Verify
// returns an empty output on success. Key lifecycle operations are not
// engine work and are rejected.
func (e *Engine) Execute(job Job) ([]byte, error) {
	if !job.Algorithm.Valid() && job.Operation != types.OpGetRandom {
		return nil, fmt.Errorf("%w: unknown algorithm", ErrInvalidParameters)
	}

	switch job.Operation {
	case types.OpEncrypt:
		switch {
		case job.Algorithm.IsAEAD():
			return aeadSeal(job.Algorithm, job.Key, job.Nonce, job.AAD, job.Input)
		case job.Algorithm.IsBlockMode():
			return cbcEncrypt(job.Algorithm, job.Key, job.Nonce, job.Input)
		default:
			return nil, fmt.Errorf("%w: %s cannot encrypt", ErrInvalidParameters, job.Algorithm)
		}

	case types.OpDecrypt:
		switch {
		case job.Algorithm.IsAEAD():
			return aeadOpen(job.Algorithm, job.Key, job.Nonce, job.AAD, job.Input)
		case job.Algorithm.IsBlockMode():
			return cbcDecrypt(job.Algorithm, job.Key, job.Nonce, job.Input)
		default:
			return nil, fmt.Errorf("%w: %s cannot decrypt", ErrInvalidParameters, job.Algorithm)
		}

	case types.OpSign:
		return signMessage(job.Algorithm, job.Key, job.Input, e.drbg)

	case types.OpVerify:
		if err := verifyMessage(job.Algorithm, job.Key, job.Input, job.Signature); err != nil {
			return nil, err
		}
		return nil, nil

	case types.OpDeriveKey:
		return deriveKeyMaterial(job.Algorithm, job.Key, job.Input, job.OutputLen)

	case types.OpHash:
		return hashMessage(job.Algorithm, job.Input)

	case types.OpGetRandom:
		return e.Random(job.OutputLen)

	case types.OpGetPublicKey:
		return publicKeyBytes(job.Algorithm, job.Key)

	default:
		return nil, fmt.Errorf("%w: %s is not an engine operation", ErrInvalidParameters, job.Operation)
	}
}

// Random returns n bytes from the DRBG.
func (e *Engine) Random(n int) ([]byte, error) {
	if n <= 0 || n > types.MaxRandomRequest {
		return nil, fmt.Errorf("%w: random request of %d bytes out of range", ErrInvalidParameters, n)
	}
	out := make([]byte, n)
	if _, err := e.drbg.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateKeyMaterial produces fresh secret material for alg in its
// stored form: raw bytes for symmetric keys and seeds, the big-endian
// scalar for ECDSA, the fixed-size private scalar for key agreement.
func (e *Engine) GenerateKeyMaterial(alg types.Algorithm) ([]byte, error) {
	switch {
	case alg.IsSymmetric() || alg == types.AlgEd25519:
		out := make([]byte, alg.KeySize())
		if _, err := e.drbg.Read(out); err != nil {
			return nil, err
		}
		return out, nil

	case alg == types.AlgECDSAP256 || alg == types.AlgECDSAP384:
		curve, err := ecdsaCurve(alg)
		if err != nil {
			return nil, err
		}
		priv, err := ecdsa.GenerateKey(curve, e.drbg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEntropyFailure, err)
		}
		out := make([]byte, alg.KeySize())
		priv.D.FillBytes(out)
		priv.D.SetInt64(0)
		return out, nil

	case alg.IsKeyAgreement():
		curve, err := agreementCurve(alg)
		if err != nil {
			return nil, err
		}
		priv, err := curve.GenerateKey(e.drbg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEntropyFailure, err)
		}
		secret := priv.Bytes()
		out := make([]byte, len(secret))
		copy(out, secret)
		keystore.Zeroize(secret)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: cannot generate material for %s", ErrInvalidParameters, alg)
	}
}

// Reseed forces a DRBG reseed from the entropy source.
func (e *Engine) Reseed() error {
	return e.drbg.Reseed()
}

// Reseeds reports how many successful reseeds the DRBG has performed.
func (e *Engine) Reseeds() uint64 {
	return e.drbg.Reseeds()
}

// Failed reports whether the DRBG has entered its permanent failure
// state after an entropy source error.
func (e *Engine) Failed() bool {
	return e.drbg.Failed()
}

// TryOffload submits the job to the accelerator if one is configured and
// willing to take it. The returned token identifies the job in a later
// PollAccelerator completion.
func (e *Engine) TryOffload(job Job) (uint64, bool) {
	if e.accel == nil {
		return 0, false
	}
	return e.accel.Submit(job)
}

// PollAccelerator retrieves one finished accelerator job, if any.
func (e *Engine) PollAccelerator() (AcceleratorResult, bool) {
	if e.accel == nil {
		return AcceleratorResult{}, false
	}
	return e.accel.Poll()
}
