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

package types

// Algorithm identifies one member of the closed engine set.
type Algorithm uint8

const (
	// AlgNone is used by operations that take no algorithm (DeleteKey,
	// ExportKey, GetRandom).
	AlgNone Algorithm = iota

	// AEAD ciphers.
	AlgAES128GCM
	AlgAES192GCM
	AlgAES256GCM
	AlgAES128CCM
	AlgAES256CCM
	AlgChaCha20Poly1305

	// Block-cipher modes.
	AlgAES128CBC
	AlgAES192CBC
	AlgAES256CBC

	// Signature schemes.
	AlgECDSAP256
	AlgECDSAP384
	AlgEd25519

	// Key agreement.
	AlgECDHP256
	AlgECDHP384
	AlgX25519

	// Hash functions.
	AlgSHA256
	AlgSHA384
	AlgSHA512
	AlgSHA3256
	AlgSHA3512
	AlgBLAKE3

	algMax
)

// Valid reports whether a is a member of the closed algorithm set.
// AlgNone is valid; operations that require a concrete algorithm
// additionally check the class predicates below.
func (a Algorithm) Valid() bool {
	return a < algMax
}

// String returns the canonical lower-case algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgNone:
		return "none"
	case AlgAES128GCM:
		return "aes128-gcm"
	case AlgAES192GCM:
		return "aes192-gcm"
	case AlgAES256GCM:
		return "aes256-gcm"
	case AlgAES128CCM:
		return "aes128-ccm"
	case AlgAES256CCM:
		return "aes256-ccm"
	case AlgChaCha20Poly1305:
		return "chacha20-poly1305"
	case AlgAES128CBC:
		return "aes128-cbc"
	case AlgAES192CBC:
		return "aes192-cbc"
	case AlgAES256CBC:
		return "aes256-cbc"
	case AlgECDSAP256:
		return "ecdsa-p256"
	case AlgECDSAP384:
		return "ecdsa-p384"
	case AlgEd25519:
		return "ed25519"
	case AlgECDHP256:
		return "ecdh-p256"
	case AlgECDHP384:
		return "ecdh-p384"
	case AlgX25519:
		return "x25519"
	case AlgSHA256:
		return "sha256"
	case AlgSHA384:
		return "sha384"
	case AlgSHA512:
		return "sha512"
	case AlgSHA3256:
		return "sha3-256"
	case AlgSHA3512:
		return "sha3-512"
	case AlgBLAKE3:
		return "blake3"
	default:
		return "unknown"
	}
}

// IsAEAD reports whether a is an authenticated cipher.
func (a Algorithm) IsAEAD() bool {
	switch a {
	case AlgAES128GCM, AlgAES192GCM, AlgAES256GCM,
		AlgAES128CCM, AlgAES256CCM, AlgChaCha20Poly1305:
		return true
	default:
		return false
	}
}

// IsBlockMode reports whether a is an unauthenticated block-cipher mode.
func (a Algorithm) IsBlockMode() bool {
	switch a {
	case AlgAES128CBC, AlgAES192CBC, AlgAES256CBC:
		return true
	default:
		return false
	}
}

// IsSymmetric reports whether a uses symmetric key material.
func (a Algorithm) IsSymmetric() bool {
	return a.IsAEAD() || a.IsBlockMode()
}

// IsSignature reports whether a is a sign/verify scheme.
func (a Algorithm) IsSignature() bool {
	switch a {
	case AlgECDSAP256, AlgECDSAP384, AlgEd25519:
		return true
	default:
		return false
	}
}

// IsKeyAgreement reports whether a is a key agreement scheme.
func (a Algorithm) IsKeyAgreement() bool {
	switch a {
	case AlgECDHP256, AlgECDHP384, AlgX25519:
		return true
	default:
		return false
	}
}

// IsAsymmetric reports whether a uses asymmetric key material.
func (a Algorithm) IsAsymmetric() bool {
	return a.IsSignature() || a.IsKeyAgreement()
}

// IsHash reports whether a is a digest algorithm.
func (a Algorithm) IsHash() bool {
	switch a {
	case AlgSHA256, AlgSHA384, AlgSHA512, AlgSHA3256, AlgSHA3512, AlgBLAKE3:
		return true
	default:
		return false
	}
}

// Keyed reports whether the algorithm operates on stored key material.
func (a Algorithm) Keyed() bool {
	return a.IsSymmetric() || a.IsAsymmetric()
}

// KeySize returns the private key material size in bytes, or zero for
// unkeyed algorithms. For asymmetric schemes this is the scalar or seed
// the key store holds; public halves are recomputed on demand.
func (a Algorithm) KeySize() int {
	switch a {
	case AlgAES128GCM, AlgAES128CCM, AlgAES128CBC:
		return 16
	case AlgAES192GCM, AlgAES192CBC:
		return 24
	case AlgAES256GCM, AlgAES256CCM, AlgAES256CBC, AlgChaCha20Poly1305:
		return 32
	case AlgECDSAP256, AlgECDHP256:
		return 32
	case AlgECDSAP384, AlgECDHP384:
		return 48
	case AlgEd25519:
		return 32 // seed form
	case AlgX25519:
		return 32
	default:
		return 0
	}
}

// NonceSize returns the required nonce/IV size in bytes, or zero when the
// algorithm takes none.
func (a Algorithm) NonceSize() int {
	switch a {
	case AlgAES128GCM, AlgAES192GCM, AlgAES256GCM, AlgChaCha20Poly1305:
		return 12
	case AlgAES128CCM, AlgAES256CCM:
		return 13
	case AlgAES128CBC, AlgAES192CBC, AlgAES256CBC:
		return 16
	default:
		return 0
	}
}

// TagSize returns the AEAD authentication tag size appended to ciphertext.
func (a Algorithm) TagSize() int {
	if a.IsAEAD() {
		return 16
	}
	return 0
}

// DigestSize returns the output size of a hash algorithm, or zero.
func (a Algorithm) DigestSize() int {
	switch a {
	case AlgSHA256, AlgSHA3256, AlgBLAKE3:
		return 32
	case AlgSHA384:
		return 48
	case AlgSHA512, AlgSHA3512:
		return 64
	default:
		return 0
	}
}
