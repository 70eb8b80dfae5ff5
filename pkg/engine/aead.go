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
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/jeremyhahn/go-hsm/pkg/types"
	"github.com/pion/dtls/v2/pkg/crypto/ccm"
	"golang.org/x/crypto/chacha20poly1305"
)

// aeadFor constructs the AEAD instance for an algorithm and key. Key and
// algorithm mismatches surface as ErrInvalidParameters before any crypto
// runs.
func aeadFor(alg types.Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != alg.KeySize() {
		return nil, fmt.Errorf("%w: %s requires a %d-byte key, got %d",
			ErrInvalidParameters, alg, alg.KeySize(), len(key))
	}

	switch alg {
	case types.AlgAES128GCM, types.AlgAES192GCM, types.AlgAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
		return cipher.NewGCM(block)

	case types.AlgAES128CCM, types.AlgAES256CCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
		// 13-byte nonces leave a 2-byte length field (L=2), 16-byte tag.
		a, err := ccm.NewCCM(block, 16, 13)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
		return a, nil

	case types.AlgChaCha20Poly1305:
		return chacha20poly1305.New(key)

	default:
		return nil, fmt.Errorf("%w: %s is not an AEAD", ErrInvalidParameters, alg)
	}
}

// aeadSeal encrypts and authenticates plaintext. Output is
// ciphertext‖tag; the caller-supplied nonce is not echoed back.
func aeadSeal(alg types.Algorithm, key, nonce, aad, plaintext []byte) ([]byte, error) {
	a, err := aeadFor(alg, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != a.NonceSize() {
		return nil, fmt.Errorf("%w: %s requires a %d-byte nonce, got %d",
			ErrInvalidParameters, alg, a.NonceSize(), len(nonce))
	}
	return a.Seal(nil, nonce, plaintext, aad), nil
}

// aeadOpen verifies and decrypts ciphertext‖tag. A tag mismatch is
// verified in constant time by the underlying AEAD and reported as the
// generic ErrDecryptionFailed with no partial plaintext. Inputs shorter
// than the tag fail the same way, so the error reveals nothing about
// where verification broke.
func aeadOpen(alg types.Algorithm, key, nonce, aad, ciphertext []byte) ([]byte, error) {
	a, err := aeadFor(alg, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != a.NonceSize() {
		return nil, fmt.Errorf("%w: %s requires a %d-byte nonce, got %d",
			ErrInvalidParameters, alg, a.NonceSize(), len(nonce))
	}
	plaintext, err := a.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
