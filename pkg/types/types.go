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

// Package types defines the core data model shared by every layer of the
// HSM core: key handles, operations, algorithms, usage masks, the
// request/response job structures and the core configuration.
//
// The type set is deliberately closed. Operations and algorithms are
// enumerated, exhaustively matched by the engine dispatch table, and
// validated at the protocol boundary before any cryptographic code runs.
package types

import (
	"fmt"
	"time"
)

// KeyID is an opaque handle identifying a key store slot.
//
// The low 16 bits address the slot, the high 16 bits carry the slot's
// generation counter. The generation increments every time a slot is
// deleted, so a handle held across a delete/reuse cycle resolves to
// KeyNotFound rather than to the successor key.
type KeyID uint32

// NewKeyID builds a KeyID from a slot index and generation counter.
func NewKeyID(slot, generation uint16) KeyID {
	return KeyID(uint32(generation)<<16 | uint32(slot))
}

// Slot returns the key store slot index addressed by this handle.
func (id KeyID) Slot() uint16 {
	return uint16(id & 0xffff)
}

// Generation returns the slot generation this handle was issued for.
func (id KeyID) Generation() uint16 {
	return uint16(id >> 16)
}

// IsZero reports whether the handle is the zero value, which never
// addresses a live key.
func (id KeyID) IsZero() bool {
	return id == 0
}

func (id KeyID) String() string {
	return fmt.Sprintf("key-%d.%d", id.Slot(), id.Generation())
}

// Operation identifies one of the closed set of core operations.
type Operation uint8

const (
	// OpGenerateKey creates a new key from DRBG output.
	OpGenerateKey Operation = iota + 1
	// OpImportKey creates a new key from caller-supplied material.
	OpImportKey
	// OpDeleteKey zeroizes and frees a key slot.
	OpDeleteKey
	// OpExportKey returns raw key material. Requires the Export usage bit.
	OpExportKey
	// OpGetPublicKey returns the public half of an asymmetric key.
	// Public material is not secret and is not gated by the Export bit.
	OpGetPublicKey
	// OpEncrypt performs AEAD or block-mode encryption.
	OpEncrypt
	// OpDecrypt performs AEAD or block-mode decryption.
	OpDecrypt
	// OpSign produces a signature over the input.
	OpSign
	// OpVerify checks a signature over the input.
	OpVerify
	// OpDeriveKey performs key agreement (ECDH/X25519) followed by
	// HKDF-SHA256, storing the derived key or returning it raw.
	OpDeriveKey
	// OpHash digests the input.
	OpHash
	// OpGetRandom returns DRBG output.
	OpGetRandom
)

// String returns the operation name used in logs, metrics and audit records.
func (op Operation) String() string {
	switch op {
	case OpGenerateKey:
		return "generate_key"
	case OpImportKey:
		return "import_key"
	case OpDeleteKey:
		return "delete_key"
	case OpExportKey:
		return "export_key"
	case OpGetPublicKey:
		return "get_public_key"
	case OpEncrypt:
		return "encrypt"
	case OpDecrypt:
		return "decrypt"
	case OpSign:
		return "sign"
	case OpVerify:
		return "verify"
	case OpDeriveKey:
		return "derive_key"
	case OpHash:
		return "hash"
	case OpGetRandom:
		return "get_random"
	default:
		return "unknown"
	}
}

// Valid reports whether op is a member of the closed operation set.
func (op Operation) Valid() bool {
	return op >= OpGenerateKey && op <= OpGetRandom
}

// KeyUsage is a bitmask restricting the operations a key may serve.
// The mask is fixed at key creation and enforced by the dispatcher
// before the engine is invoked.
type KeyUsage uint16

const (
	// UsageEncrypt permits the key in Encrypt requests.
	UsageEncrypt KeyUsage = 1 << iota
	// UsageDecrypt permits the key in Decrypt requests.
	UsageDecrypt
	// UsageSign permits the key in Sign requests.
	UsageSign
	// UsageVerify permits the key in Verify requests.
	UsageVerify
	// UsageDerive permits the key in DeriveKey requests.
	UsageDerive
	// UsageExport permits raw key material export. Without this bit the
	// material never leaves the key store.
	UsageExport

	usageAll = UsageEncrypt | UsageDecrypt | UsageSign | UsageVerify |
		UsageDerive | UsageExport
)

// Has reports whether every bit of u2 is set in u.
func (u KeyUsage) Has(u2 KeyUsage) bool {
	return u&u2 == u2
}

// Valid reports whether the mask contains only defined bits and is non-empty.
func (u KeyUsage) Valid() bool {
	return u != 0 && u&^usageAll == 0
}

func (u KeyUsage) String() string {
	if u == 0 {
		return "none"
	}
	names := []struct {
		bit  KeyUsage
		name string
	}{
		{UsageEncrypt, "encrypt"},
		{UsageDecrypt, "decrypt"},
		{UsageSign, "sign"},
		{UsageVerify, "verify"},
		{UsageDerive, "derive"},
		{UsageExport, "export"},
	}
	out := ""
	for _, n := range names {
		if u.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

// UsageFor returns the usage bit an operation requires, or zero when the
// operation is not gated by the usage mask.
func UsageFor(op Operation) KeyUsage {
	switch op {
	case OpEncrypt:
		return UsageEncrypt
	case OpDecrypt:
		return UsageDecrypt
	case OpSign:
		return UsageSign
	case OpVerify:
		return UsageVerify
	case OpDeriveKey:
		return UsageDerive
	case OpExportKey:
		return UsageExport
	default:
		return 0
	}
}

// Status is the definite outcome carried on every response.
type Status uint8

const (
	// StatusOK indicates the operation completed successfully.
	StatusOK Status = iota
	// StatusProtocolError indicates a malformed or out-of-range request.
	StatusProtocolError
	// StatusKeyNotFound indicates the key reference resolves to no live key.
	StatusKeyNotFound
	// StatusKeyStoreFull indicates no free key slot exists.
	StatusKeyStoreFull
	// StatusInvalidKeyMaterial indicates imported material does not match
	// the declared algorithm.
	StatusInvalidKeyMaterial
	// StatusPermissionDenied indicates the key's usage mask forbids the
	// requested operation.
	StatusPermissionDenied
	// StatusDecryptionFailed indicates an AEAD tag mismatch. The
	// comparison is constant time and no partial plaintext is returned.
	StatusDecryptionFailed
	// StatusInvalidSignature indicates signature verification failed.
	StatusInvalidSignature
	// StatusInvalidParameters indicates a malformed nonce/length combination.
	StatusInvalidParameters
	// StatusEngineBusy indicates the in-flight table is full; retry later.
	StatusEngineBusy
	// StatusChannelFull indicates a response channel was full; retry
	// later. The core itself never emits this status: completions that
	// find a full channel are held and retried, and busy rejects use
	// StatusEngineBusy. It stays in the wire vocabulary for other
	// producers of the protocol, and removing it would renumber
	// StatusInternalError.
	StatusChannelFull
	// StatusInternalError indicates an unexpected engine failure.
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusProtocolError:
		return "protocol_error"
	case StatusKeyNotFound:
		return "key_not_found"
	case StatusKeyStoreFull:
		return "key_store_full"
	case StatusInvalidKeyMaterial:
		return "invalid_key_material"
	case StatusPermissionDenied:
		return "permission_denied"
	case StatusDecryptionFailed:
		return "decryption_failed"
	case StatusInvalidSignature:
		return "invalid_signature"
	case StatusInvalidParameters:
		return "invalid_parameters"
	case StatusEngineBusy:
		return "engine_busy"
	case StatusChannelFull:
		return "channel_full"
	case StatusInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// RequestFlags modify request interpretation.
type RequestFlags uint8

const (
	// FlagInlineKey indicates the request carries raw key material instead
	// of a KeyID. Supported for symmetric encrypt/decrypt only.
	FlagInlineKey RequestFlags = 1 << iota
	// FlagRawOutput makes DeriveKey return the derived bytes to the caller
	// instead of installing them as a new key store entry.
	FlagRawOutput
)

// Valid reports whether only defined flag bits are set.
func (f RequestFlags) Valid() bool {
	return f&^(FlagInlineKey|FlagRawOutput) == 0
}

// Request is one decoded client job. Buffers are caller-owned and bounded;
// the core borrows them for the span of a single dispatch.
type Request struct {
	// CorrelationID is chosen by the client and echoed verbatim on the
	// response, allowing out-of-order client-side matching.
	CorrelationID uint32

	// Operation selects the core operation.
	Operation Operation

	// Algorithm selects the engine variant. May be zero for DeleteKey and
	// ExportKey, which operate on whatever algorithm the key carries.
	Algorithm Algorithm

	// Flags modify request interpretation.
	Flags RequestFlags

	// KeyID references a key store slot. Zero when the operation takes no
	// key or the request carries inline material.
	KeyID KeyID

	// Usage is the usage mask for GenerateKey/ImportKey and for the key
	// installed by DeriveKey.
	Usage KeyUsage

	// Key is inline key material: imported material for ImportKey, or a
	// caller-supplied key for FlagInlineKey symmetric operations.
	Key []byte

	// Nonce is the nonce or IV for AEAD and block-mode operations.
	Nonce []byte

	// AAD is the associated data for AEAD operations.
	AAD []byte

	// Input is the primary payload: plaintext, ciphertext or message
	// material depending on the operation. DeriveKey carries the peer
	// public key here. Verify carries message followed by signature,
	// with the signature length in OutputLen.
	Input []byte

	// OutputLen is the requested byte count for GetRandom, the derived
	// key length for DeriveKey, and the trailing signature length within
	// Input for Verify.
	OutputLen uint16
}

// Response is the definite outcome of one accepted request.
type Response struct {
	// CorrelationID echoes the request's correlation id verbatim.
	CorrelationID uint32

	// Status is the typed outcome.
	Status Status

	// KeyID carries the handle created by GenerateKey, ImportKey or
	// DeriveKey.
	KeyID KeyID

	// Output carries ciphertext, plaintext, signatures, digests, random
	// bytes or exported material depending on the operation.
	Output []byte
}

// OK reports whether the response carries a successful outcome.
func (r *Response) OK() bool {
	return r.Status == StatusOK
}

// Bounds fixed by the data model rather than configuration.
const (
	// MaxKeyMaterial bounds stored key material. Large enough for a P-384
	// scalar and every supported symmetric key.
	MaxKeyMaterial = 64

	// MaxNonce bounds the nonce/IV field. CBC IVs are the largest at 16
	// bytes; DeriveKey peer public keys travel in Input instead.
	MaxNonce = 16

	// MaxPeerPublicKey bounds a peer public key for key agreement
	// (uncompressed P-384 point).
	MaxPeerPublicKey = 97

	// MaxRandomRequest bounds a single GetRandom request.
	MaxRandomRequest = 1024
)

// Config fixes the dimensions of a core instance. It is validated once at
// initialization and never reloaded.
type Config struct {
	// MaxClients is the number of client channel endpoints.
	MaxClients int `yaml:"max_clients"`

	// KeyStoreCapacity is the number of key slots.
	KeyStoreCapacity int `yaml:"key_store_capacity"`

	// ChannelDepth is the fixed depth of each request and response queue.
	ChannelDepth int `yaml:"channel_depth"`

	// MaxInFlight bounds concurrently tracked requests. Requests arriving
	// with a full table are rejected with EngineBusy.
	MaxInFlight int `yaml:"max_in_flight"`

	// RNGReseedInterval is how often the DRBG is reseeded from the
	// entropy source. Reseed failure is fatal to the core.
	RNGReseedInterval time.Duration `yaml:"rng_reseed_interval"`

	// MaxPayload bounds the input buffer of a single request.
	MaxPayload int `yaml:"max_payload"`
}

// DefaultConfig returns a configuration suitable for a small embedded host.
func DefaultConfig() Config {
	return Config{
		MaxClients:        4,
		KeyStoreCapacity:  32,
		ChannelDepth:      8,
		MaxInFlight:       8,
		RNGReseedInterval: time.Minute,
		MaxPayload:        4096,
	}
}

// Validate checks the configuration dimensions.
func (c *Config) Validate() error {
	if c.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1, got %d", c.MaxClients)
	}
	if c.KeyStoreCapacity < 1 || c.KeyStoreCapacity > 0xffff {
		return fmt.Errorf("key_store_capacity must be 1..65535, got %d", c.KeyStoreCapacity)
	}
	if c.ChannelDepth < 1 {
		return fmt.Errorf("channel_depth must be at least 1, got %d", c.ChannelDepth)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight must be at least 1, got %d", c.MaxInFlight)
	}
	if c.RNGReseedInterval <= 0 {
		return fmt.Errorf("rng_reseed_interval must be positive, got %s", c.RNGReseedInterval)
	}
	if c.MaxPayload < 1 {
		return fmt.Errorf("max_payload must be at least 1, got %d", c.MaxPayload)
	}
	return nil
}
