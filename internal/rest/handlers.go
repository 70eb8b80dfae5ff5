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

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-hsm/pkg/adapters/audit"
	"github.com/jeremyhahn/go-hsm/pkg/client"
	"github.com/jeremyhahn/go-hsm/pkg/health"
	"github.com/jeremyhahn/go-hsm/pkg/hsm"
	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// HandlerContext carries the dependencies shared by all request handlers.
// The HTTP layer is one client of the core: every cryptographic operation
// travels through the channel interface like any other caller's.
type HandlerContext struct {
	core    *hsm.Core
	client  *client.Client
	version string

	// HealthChecker is optional; health endpoints report healthy without it.
	HealthChecker *health.Checker
}

// NewHandlerContext creates a handler context bound to one core endpoint.
func NewHandlerContext(core *hsm.Core, cl *client.Client, version string) *HandlerContext {
	return &HandlerContext{
		core:    core,
		client:  cl,
		version: version,
	}
}

// formatKeyID renders a key handle as fixed-width hex, generation then slot.
func formatKeyID(id types.KeyID) string {
	return fmt.Sprintf("%08x", uint32(id))
}

// parseKeyID parses the hex key handle from the URL.
func parseKeyID(r *http.Request) (types.KeyID, error) {
	raw := chi.URLParam(r, "id")
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKeyID, raw)
	}
	return types.KeyID(v), nil
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// GenerateKeyHandler handles POST /api/v1/keys requests.
func (h *HandlerContext) GenerateKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req GenerateKeyRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	alg, err := types.ParseAlgorithm(req.Algorithm)
	if err != nil {
		handleError(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	usage, err := types.ParseKeyUsage(req.Usage)
	if err != nil {
		handleError(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	id, err := h.client.GenerateKey(r.Context(), alg, usage)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, KeyResponse{
		KeyID:     formatKeyID(id),
		Algorithm: alg.String(),
		Usage:     usage.String(),
	}, http.StatusCreated)
}

// ImportKeyHandler handles POST /api/v1/keys/import requests.
func (h *HandlerContext) ImportKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req ImportKeyRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	alg, err := types.ParseAlgorithm(req.Algorithm)
	if err != nil {
		handleError(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	usage, err := types.ParseKeyUsage(req.Usage)
	if err != nil {
		handleError(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if len(req.Material) == 0 {
		handleError(w, fmt.Errorf("%w: material is required", ErrInvalidRequest))
		return
	}

	id, err := h.client.ImportKey(r.Context(), alg, usage, req.Material)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, KeyResponse{
		KeyID:     formatKeyID(id),
		Algorithm: alg.String(),
		Usage:     usage.String(),
	}, http.StatusCreated)
}

// ListKeysHandler handles GET /api/v1/keys requests. Key metadata is read
// directly off the core; no key material is involved.
func (h *HandlerContext) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	infos := h.core.Keys()

	keys := make([]KeyResponse, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, KeyResponse{
			KeyID:     formatKeyID(info.ID),
			Algorithm: info.Algorithm.String(),
			Usage:     info.Usage.String(),
			UseCount:  info.UseCount,
			CreatedAt: info.CreatedAt,
		})
	}

	writeJSON(w, ListKeysResponse{Keys: keys, Count: len(keys)}, http.StatusOK)
}

// DeleteKeyHandler handles DELETE /api/v1/keys/{id} requests.
func (h *HandlerContext) DeleteKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.client.DeleteKey(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportKeyHandler handles POST /api/v1/keys/{id}/export requests. The
// core refuses keys that lack the export usage bit.
func (h *HandlerContext) ExportKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	material, err := h.client.ExportKey(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, ExportKeyResponse{
		KeyID:    formatKeyID(id),
		Material: material,
	}, http.StatusOK)
}

// GetPublicKeyHandler handles GET /api/v1/keys/{id}/public requests.
func (h *HandlerContext) GetPublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	publicKey, err := h.client.GetPublicKey(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, PublicKeyResponse{
		KeyID:     formatKeyID(id),
		PublicKey: publicKey,
	}, http.StatusOK)
}

// EncryptHandler handles POST /api/v1/keys/{id}/encrypt requests.
func (h *HandlerContext) EncryptHandler(w http.ResponseWriter, r *http.Request) {
	h.cipherHandler(w, r, true)
}

// DecryptHandler handles POST /api/v1/keys/{id}/decrypt requests.
func (h *HandlerContext) DecryptHandler(w http.ResponseWriter, r *http.Request) {
	h.cipherHandler(w, r, false)
}

func (h *HandlerContext) cipherHandler(w http.ResponseWriter, r *http.Request, encrypt bool) {
	id, err := parseKeyID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req CipherRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	alg, err := types.ParseAlgorithm(req.Algorithm)
	if err != nil {
		handleError(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	var output []byte
	if encrypt {
		output, err = h.client.Encrypt(r.Context(), id, alg, req.Nonce, req.AAD, req.Input)
	} else {
		output, err = h.client.Decrypt(r.Context(), id, alg, req.Nonce, req.AAD, req.Input)
	}
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, CipherResponse{Output: output}, http.StatusOK)
}

// SignHandler handles POST /api/v1/keys/{id}/sign requests.
func (h *HandlerContext) SignHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req SignRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	signature, err := h.client.Sign(r.Context(), id, req.Message)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, SignResponse{Signature: signature}, http.StatusOK)
}

// VerifyHandler handles POST /api/v1/keys/{id}/verify requests. An invalid
// signature is a successful verification with a negative result, not an
// HTTP error.
func (h *HandlerContext) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req VerifyRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if len(req.Signature) == 0 {
		handleError(w, fmt.Errorf("%w: signature is required", ErrInvalidRequest))
		return
	}

	err = h.client.Verify(r.Context(), id, req.Message, req.Signature)
	if err != nil {
		var statusErr *client.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == types.StatusInvalidSignature {
			writeJSON(w, VerifyResponse{Valid: false}, http.StatusOK)
			return
		}
		handleError(w, err)
		return
	}

	writeJSON(w, VerifyResponse{Valid: true}, http.StatusOK)
}

// DeriveKeyHandler handles POST /api/v1/keys/{id}/derive requests.
func (h *HandlerContext) DeriveKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseKeyID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req DeriveKeyRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if len(req.PeerPublicKey) == 0 {
		handleError(w, fmt.Errorf("%w: peer_public_key is required", ErrInvalidRequest))
		return
	}
	if req.Length <= 0 {
		handleError(w, fmt.Errorf("%w: length must be positive", ErrInvalidRequest))
		return
	}

	if req.Raw {
		output, err := h.client.DeriveKeyRaw(r.Context(), id, req.PeerPublicKey, req.Length)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, DeriveKeyResponse{Output: output}, http.StatusOK)
		return
	}

	usage, err := types.ParseKeyUsage(req.Usage)
	if err != nil {
		handleError(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	derived, err := h.client.DeriveKey(r.Context(), id, req.PeerPublicKey, req.Length, usage)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, DeriveKeyResponse{KeyID: formatKeyID(derived)}, http.StatusCreated)
}

// HashHandler handles POST /api/v1/hash requests.
func (h *HandlerContext) HashHandler(w http.ResponseWriter, r *http.Request) {
	var req HashRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	alg, err := types.ParseAlgorithm(req.Algorithm)
	if err != nil {
		handleError(w, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	digest, err := h.client.Hash(r.Context(), alg, req.Message)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, HashResponse{Digest: digest}, http.StatusOK)
}

// RandomHandler handles POST /api/v1/random requests.
func (h *HandlerContext) RandomHandler(w http.ResponseWriter, r *http.Request) {
	var req RandomRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if req.Length <= 0 || req.Length > types.MaxRandomRequest {
		handleError(w, fmt.Errorf("%w: length must be in 1..%d", ErrInvalidRequest, types.MaxRandomRequest))
		return
	}

	random, err := h.client.GetRandom(r.Context(), req.Length)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, RandomResponse{Random: random}, http.StatusOK)
}

// AuditHandler handles GET /api/v1/audit requests. Filters arrive as query
// parameters; events return newest first.
func (h *HandlerContext) AuditHandler(w http.ResponseWriter, r *http.Request) {
	query := &audit.Query{Limit: 100}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			handleError(w, fmt.Errorf("%w: invalid limit", ErrInvalidRequest))
			return
		}
		query.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			handleError(w, fmt.Errorf("%w: invalid offset", ErrInvalidRequest))
			return
		}
		query.Offset = offset
	}
	for _, v := range q["type"] {
		query.EventTypes = append(query.EventTypes, audit.EventType(v))
	}
	for _, v := range q["outcome"] {
		query.Outcomes = append(query.Outcomes, audit.EventOutcome(v))
	}
	if v := q.Get("key_id"); v != "" {
		query.KeyID = v
	}

	events, err := h.core.Audit().GetEvents(r.Context(), query)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
	}, http.StatusOK)
}

// InfoHandler handles GET /api/v1/info requests.
func (h *HandlerContext) InfoHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.core.Config()
	writeJSON(w, InfoResponse{
		Version:          h.version,
		Healthy:          h.core.Healthy(),
		MaxClients:       cfg.MaxClients,
		KeyStoreCapacity: cfg.KeyStoreCapacity,
		ChannelDepth:     cfg.ChannelDepth,
		MaxInFlight:      cfg.MaxInFlight,
		MaxPayload:       cfg.MaxPayload,
	}, http.StatusOK)
}

// HealthHandler handles GET /health requests (legacy flat endpoint).
func (h *HandlerContext) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !h.core.Healthy() {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, map[string]string{
		"status":  status,
		"version": h.version,
	}, code)
}
