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

package rest

import "time"

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// GenerateKeyRequest asks the core to generate a key.
type GenerateKeyRequest struct {
	Algorithm string   `json:"algorithm"`
	Usage     []string `json:"usage"`
}

// ImportKeyRequest installs caller-supplied key material.
type ImportKeyRequest struct {
	Algorithm string   `json:"algorithm"`
	Usage     []string `json:"usage"`
	Material  []byte   `json:"material"`
}

// KeyResponse describes one stored key. Material never appears here.
type KeyResponse struct {
	KeyID     string    `json:"key_id"`
	Algorithm string    `json:"algorithm"`
	Usage     string    `json:"usage"`
	UseCount  uint64    `json:"use_count,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ListKeysResponse lists all live keys.
type ListKeysResponse struct {
	Keys  []KeyResponse `json:"keys"`
	Count int           `json:"count"`
}

// ExportKeyResponse carries exported key material.
type ExportKeyResponse struct {
	KeyID    string `json:"key_id"`
	Material []byte `json:"material"`
}

// PublicKeyResponse carries the public half of an asymmetric key.
type PublicKeyResponse struct {
	KeyID     string `json:"key_id"`
	PublicKey []byte `json:"public_key"`
}

// CipherRequest is the payload for encrypt and decrypt operations.
type CipherRequest struct {
	Algorithm string `json:"algorithm"`
	Nonce     []byte `json:"nonce"`
	AAD       []byte `json:"aad,omitempty"`
	Input     []byte `json:"input"`
}

// CipherResponse carries the cipher output.
type CipherResponse struct {
	Output []byte `json:"output"`
}

// SignRequest is the payload for sign operations.
type SignRequest struct {
	Message []byte `json:"message"`
}

// SignResponse carries a signature.
type SignResponse struct {
	Signature []byte `json:"signature"`
}

// VerifyRequest is the payload for verify operations.
type VerifyRequest struct {
	Message   []byte `json:"message"`
	Signature []byte `json:"signature"`
}

// VerifyResponse reports signature validity.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// DeriveKeyRequest runs key agreement against a peer public key. When Raw
// is set the derived bytes are returned; otherwise they are installed as
// a new key with the given usage.
type DeriveKeyRequest struct {
	PeerPublicKey []byte   `json:"peer_public_key"`
	Length        int      `json:"length"`
	Usage         []string `json:"usage,omitempty"`
	Raw           bool     `json:"raw,omitempty"`
}

// DeriveKeyResponse carries the derivation result: a key handle or,
// for raw requests, the derived bytes.
type DeriveKeyResponse struct {
	KeyID  string `json:"key_id,omitempty"`
	Output []byte `json:"output,omitempty"`
}

// HashRequest is the payload for hash operations.
type HashRequest struct {
	Algorithm string `json:"algorithm"`
	Message   []byte `json:"message"`
}

// HashResponse carries a digest.
type HashResponse struct {
	Digest []byte `json:"digest"`
}

// RandomRequest asks the core DRBG for random bytes.
type RandomRequest struct {
	Length int `json:"length"`
}

// RandomResponse carries DRBG output.
type RandomResponse struct {
	Random []byte `json:"random"`
}

// InfoResponse describes the running core.
type InfoResponse struct {
	Version          string `json:"version"`
	Healthy          bool   `json:"healthy"`
	MaxClients       int    `json:"max_clients"`
	KeyStoreCapacity int    `json:"key_store_capacity"`
	ChannelDepth     int    `json:"channel_depth"`
	MaxInFlight      int    `json:"max_in_flight"`
	MaxPayload       int    `json:"max_payload"`
}
