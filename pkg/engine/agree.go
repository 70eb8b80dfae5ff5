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
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// deriveInfo domain-separates derived keys from every other HKDF use in
// the module.
const deriveInfo = "go-hsm derive v1"

func agreementCurve(alg types.Algorithm) (ecdh.Curve, error) {
	switch alg {
	case types.AlgECDHP256:
		return ecdh.P256(), nil
	case types.AlgECDHP384:
		return ecdh.P384(), nil
	case types.AlgX25519:
		return ecdh.X25519(), nil
	default:
		return nil, fmt.Errorf("%w: %s is not a key agreement algorithm", ErrInvalidParameters, alg)
	}
}

func agreementPrivateKey(alg types.Algorithm, secret []byte) (*ecdh.PrivateKey, error) {
	curve, err := agreementCurve(alg)
	if err != nil {
		return nil, err
	}
	if len(secret) != alg.KeySize() {
		return nil, fmt.Errorf("%w: %s requires a %d-byte secret, got %d",
			ErrInvalidParameters, alg, alg.KeySize(), len(secret))
	}
	priv, err := curve.NewPrivateKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return priv, nil
}

func agreementPublicKey(alg types.Algorithm, secret []byte) ([]byte, error) {
	priv, err := agreementPrivateKey(alg, secret)
	if err != nil {
		return nil, err
	}
	return priv.PublicKey().Bytes(), nil
}

// deriveKeyMaterial runs the key agreement against peerPublic and expands
// the shared secret through HKDF-SHA256 to outputLen bytes. The peer key
// uses the curve's standard encoding: uncompressed SEC 1 point for the
// NIST curves, raw 32 bytes for X25519.
func deriveKeyMaterial(alg types.Algorithm, secret, peerPublic []byte, outputLen int) ([]byte, error) {
	priv, err := agreementPrivateKey(alg, secret)
	if err != nil {
		return nil, err
	}
	if outputLen <= 0 || outputLen > types.MaxKeyMaterial {
		return nil, fmt.Errorf("%w: derived key length %d out of range", ErrInvalidParameters, outputLen)
	}

	curve, _ := agreementCurve(alg)
	peer, err := curve.NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: peer public key: %v", ErrInvalidParameters, err)
	}

	shared, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	defer keystore.Zeroize(shared)

	out := make([]byte, outputLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(deriveInfo)), out); err != nil {
		keystore.Zeroize(out)
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return out, nil
}
