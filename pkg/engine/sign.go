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
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"
	"math/big"

	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// Signature keys are stored as their compact secret form: the big-endian
// scalar for ECDSA (32 bytes P-256, 48 bytes P-384) and the 32-byte seed
// for Ed25519. Public keys and full key objects are reconstructed on
// demand so the key store only ever holds fixed-size secret material.

func ecdsaCurve(alg types.Algorithm) (elliptic.Curve, error) {
	switch alg {
	case types.AlgECDSAP256:
		return elliptic.P256(), nil
	case types.AlgECDSAP384:
		return elliptic.P384(), nil
	default:
		return nil, fmt.Errorf("%w: %s is not an ECDSA algorithm", ErrInvalidParameters, alg)
	}
}

// signDigest hashes the message with the curve's paired hash. P-256 pairs
// with SHA-256 and P-384 with SHA-384.
func signDigest(alg types.Algorithm, message []byte) []byte {
	if alg == types.AlgECDSAP384 {
		sum := sha512.Sum384(message)
		return sum[:]
	}
	sum := sha256.Sum256(message)
	return sum[:]
}

func ecdsaPrivateKey(alg types.Algorithm, scalar []byte) (*ecdsa.PrivateKey, error) {
	curve, err := ecdsaCurve(alg)
	if err != nil {
		return nil, err
	}
	if len(scalar) != alg.KeySize() {
		return nil, fmt.Errorf("%w: %s requires a %d-byte scalar, got %d",
			ErrInvalidParameters, alg, alg.KeySize(), len(scalar))
	}
	d := new(big.Int).SetBytes(scalar)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range for %s", ErrInvalidParameters, alg)
	}
	priv := &ecdsa.PrivateKey{D: d}
	priv.Curve = curve
	priv.X, priv.Y = curve.ScalarBaseMult(scalar)
	return priv, nil
}

// signMessage produces a signature over message with the stored secret.
// ECDSA signatures are ASN.1 DER; Ed25519 signatures are the raw 64 bytes.
func signMessage(alg types.Algorithm, secret, message []byte, rand io.Reader) ([]byte, error) {
	switch {
	case alg == types.AlgEd25519:
		if len(secret) != ed25519.SeedSize {
			return nil, fmt.Errorf("%w: Ed25519 requires a %d-byte seed, got %d",
				ErrInvalidParameters, ed25519.SeedSize, len(secret))
		}
		priv := ed25519.NewKeyFromSeed(secret)
		return ed25519.Sign(priv, message), nil

	case alg.IsSignature():
		priv, err := ecdsaPrivateKey(alg, secret)
		if err != nil {
			return nil, err
		}
		sig, err := ecdsa.SignASN1(rand, priv, signDigest(alg, message))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
		return sig, nil

	default:
		return nil, fmt.Errorf("%w: %s is not a signature algorithm", ErrInvalidParameters, alg)
	}
}

// verifyMessage checks signature over message against the stored secret's
// public half. A well-formed request with a bad signature returns
// ErrInvalidSignature; malformed inputs return ErrInvalidParameters.
func verifyMessage(alg types.Algorithm, secret, message, signature []byte) error {
	switch {
	case alg == types.AlgEd25519:
		if len(secret) != ed25519.SeedSize {
			return fmt.Errorf("%w: Ed25519 requires a %d-byte seed, got %d",
				ErrInvalidParameters, ed25519.SeedSize, len(secret))
		}
		priv := ed25519.NewKeyFromSeed(secret)
		if !ed25519.Verify(priv.Public().(ed25519.PublicKey), message, signature) {
			return ErrInvalidSignature
		}
		return nil

	case alg.IsSignature():
		priv, err := ecdsaPrivateKey(alg, secret)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(&priv.PublicKey, signDigest(alg, message), signature) {
			return ErrInvalidSignature
		}
		return nil

	default:
		return fmt.Errorf("%w: %s is not a signature algorithm", ErrInvalidParameters, alg)
	}
}

// publicKeyBytes derives the public key for a stored secret. ECDSA and
// ECDH keys return the uncompressed SEC 1 point, Ed25519 and X25519 the
// raw 32-byte public key.
func publicKeyBytes(alg types.Algorithm, secret []byte) ([]byte, error) {
	switch {
	case alg == types.AlgEd25519:
		if len(secret) != ed25519.SeedSize {
			return nil, fmt.Errorf("%w: Ed25519 requires a %d-byte seed, got %d",
				ErrInvalidParameters, ed25519.SeedSize, len(secret))
		}
		priv := ed25519.NewKeyFromSeed(secret)
		pub := priv.Public().(ed25519.PublicKey)
		return append([]byte(nil), pub...), nil

	case alg == types.AlgECDSAP256 || alg == types.AlgECDSAP384:
		priv, err := ecdsaPrivateKey(alg, secret)
		if err != nil {
			return nil, err
		}
		return elliptic.Marshal(priv.Curve, priv.X, priv.Y), nil

	case alg.IsKeyAgreement():
		return agreementPublicKey(alg, secret)

	default:
		return nil, fmt.Errorf("%w: %s has no public key", ErrInvalidParameters, alg)
	}
}
