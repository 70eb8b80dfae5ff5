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

// Package client provides a typed API over one core channel endpoint. It
// encodes requests, assigns correlation ids, and matches responses that
// may arrive out of order.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-hsm/pkg/transport"
	"github.com/jeremyhahn/go-hsm/pkg/types"
	"github.com/jeremyhahn/go-hsm/pkg/wire"
)

// ErrBusy is returned when the core rejected a request for lack of
// capacity. Callers should back off and retry.
var ErrBusy = errors.New("client: core busy, retry later")

// responsePollInterval is how long Await sleeps between empty polls.
const responsePollInterval = 50 * time.Microsecond

// StatusError carries a non-OK wire status as a Go error.
type StatusError struct {
	Status types.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: request failed: %s", e.Status)
}

// Client drives one channel endpoint. Safe for concurrent use: multiple
// goroutines may submit and await independently; responses are matched by
// correlation id.
type Client struct {
	ep       *transport.Endpoint
	nextCorr atomic.Uint32

	mu      sync.Mutex
	stashed map[uint32]*types.Response
}

// New wraps an endpoint obtained from the core.
func New(ep *transport.Endpoint) *Client {
	return &Client{
		ep:      ep,
		stashed: make(map[uint32]*types.Response),
	}
}

// Submit encodes and enqueues a request, assigning a correlation id when
// the request carries none. Returns the correlation id to await on.
func (c *Client) Submit(req *types.Request) (uint32, error) {
	if req.CorrelationID == 0 {
		req.CorrelationID = c.nextCorr.Add(1)
	}
	frame, err := wire.EncodeRequest(req)
	if err != nil {
		return 0, fmt.Errorf("client: encode: %w", err)
	}
	if err := c.ep.Submit(frame); err != nil {
		return 0, fmt.Errorf("client: submit: %w", err)
	}
	return req.CorrelationID, nil
}

// Poll decodes at most one pending response frame without blocking.
func (c *Client) Poll() (*types.Response, bool, error) {
	frame, ok := c.ep.Poll()
	if !ok {
		return nil, false, nil
	}
	resp, err := wire.DecodeResponse(frame)
	if err != nil {
		return nil, false, fmt.Errorf("client: decode: %w", err)
	}
	return resp, true, nil
}

// Await blocks until the response matching corr arrives or ctx is done.
// Responses for other correlation ids observed along the way are stashed
// for their own waiters.
func (c *Client) Await(ctx context.Context, corr uint32) (*types.Response, error) {
	for {
		c.mu.Lock()
		if resp, ok := c.stashed[corr]; ok {
			delete(c.stashed, corr)
			c.mu.Unlock()
			return resp, nil
		}

		resp, ok, err := c.Poll()
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if ok {
			if resp.CorrelationID == corr {
				c.mu.Unlock()
				return resp, nil
			}
			c.stashed[resp.CorrelationID] = resp
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(responsePollInterval):
		}
	}
}

// call submits a request and waits for its matching response, converting
// non-OK statuses to errors.
func (c *Client) call(ctx context.Context, req *types.Request) (*types.Response, error) {
	corr, err := c.Submit(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.Await(ctx, corr)
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case types.StatusOK:
		return resp, nil
	case types.StatusEngineBusy, types.StatusChannelFull:
		return nil, fmt.Errorf("%w: %s", ErrBusy, resp.Status)
	default:
		return nil, &StatusError{Status: resp.Status}
	}
}

// GenerateKey creates a key inside the core and returns its handle.
func (c *Client) GenerateKey(ctx context.Context, alg types.Algorithm, usage types.KeyUsage) (types.KeyID, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpGenerateKey,
		Algorithm: alg,
		Usage:     usage,
	})
	if err != nil {
		return 0, err
	}
	return resp.KeyID, nil
}

// ImportKey installs caller-supplied key material.
func (c *Client) ImportKey(ctx context.Context, alg types.Algorithm, usage types.KeyUsage, material []byte) (types.KeyID, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpImportKey,
		Algorithm: alg,
		Usage:     usage,
		Key:       material,
	})
	if err != nil {
		return 0, err
	}
	return resp.KeyID, nil
}

// DeleteKey destroys a key. The material is zeroized and the handle
// becomes permanently invalid.
func (c *Client) DeleteKey(ctx context.Context, id types.KeyID) error {
	_, err := c.call(ctx, &types.Request{Operation: types.OpDeleteKey, KeyID: id})
	return err
}

// ExportKey returns the raw material of a key carrying the export usage.
func (c *Client) ExportKey(ctx context.Context, id types.KeyID) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{Operation: types.OpExportKey, KeyID: id})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// GetPublicKey returns the public half of a stored asymmetric key.
func (c *Client) GetPublicKey(ctx context.Context, id types.KeyID) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{Operation: types.OpGetPublicKey, KeyID: id})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// Encrypt seals plaintext with a stored key.
func (c *Client) Encrypt(ctx context.Context, id types.KeyID, alg types.Algorithm, nonce, aad, plaintext []byte) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpEncrypt,
		Algorithm: alg,
		KeyID:     id,
		Nonce:     nonce,
		AAD:       aad,
		Input:     plaintext,
	})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// EncryptWithKey seals plaintext with caller-supplied symmetric key
// material instead of a stored key.
func (c *Client) EncryptWithKey(ctx context.Context, alg types.Algorithm, key, nonce, aad, plaintext []byte) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpEncrypt,
		Algorithm: alg,
		Flags:     types.FlagInlineKey,
		Key:       key,
		Nonce:     nonce,
		AAD:       aad,
		Input:     plaintext,
	})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// Decrypt opens ciphertext with a stored key.
func (c *Client) Decrypt(ctx context.Context, id types.KeyID, alg types.Algorithm, nonce, aad, ciphertext []byte) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpDecrypt,
		Algorithm: alg,
		KeyID:     id,
		Nonce:     nonce,
		AAD:       aad,
		Input:     ciphertext,
	})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// DecryptWithKey opens ciphertext with caller-supplied symmetric key
// material.
func (c *Client) DecryptWithKey(ctx context.Context, alg types.Algorithm, key, nonce, aad, ciphertext []byte) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpDecrypt,
		Algorithm: alg,
		Flags:     types.FlagInlineKey,
		Key:       key,
		Nonce:     nonce,
		AAD:       aad,
		Input:     ciphertext,
	})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// Sign signs message with a stored key.
func (c *Client) Sign(ctx context.Context, id types.KeyID, message []byte) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpSign,
		KeyID:     id,
		Input:     message,
	})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// Verify checks signature over message with a stored key. A nil return
// means the signature is valid; an invalid one surfaces as a StatusError
// carrying the invalid-signature status.
func (c *Client) Verify(ctx context.Context, id types.KeyID, message, signature []byte) error {
	_, err := c.call(ctx, &types.Request{
		Operation: types.OpVerify,
		KeyID:     id,
		Input:     append(append([]byte(nil), message...), signature...),
		OutputLen: uint16(len(signature)),
	})
	return err
}

// DeriveKey runs key agreement against peerPublic and installs the
// derived secret as a new store key with the given usage.
func (c *Client) DeriveKey(ctx context.Context, id types.KeyID, peerPublic []byte, length int, usage types.KeyUsage) (types.KeyID, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpDeriveKey,
		KeyID:     id,
		Usage:     usage,
		Input:     peerPublic,
		OutputLen: uint16(length),
	})
	if err != nil {
		return 0, err
	}
	return resp.KeyID, nil
}

// DeriveKeyRaw runs key agreement against peerPublic and returns the
// derived bytes to the caller instead of installing them.
func (c *Client) DeriveKeyRaw(ctx context.Context, id types.KeyID, peerPublic []byte, length int) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpDeriveKey,
		Flags:     types.FlagRawOutput,
		KeyID:     id,
		Input:     peerPublic,
		OutputLen: uint16(length),
	})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// Hash digests message inside the core.
func (c *Client) Hash(ctx context.Context, alg types.Algorithm, message []byte) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpHash,
		Algorithm: alg,
		Input:     message,
	})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}

// GetRandom returns n bytes from the core's DRBG.
func (c *Client) GetRandom(ctx context.Context, n int) ([]byte, error) {
	resp, err := c.call(ctx, &types.Request{
		Operation: types.OpGetRandom,
		OutputLen: uint16(n),
	})
	if err != nil {
		return nil, err
	}
	return resp.Output, nil
}
