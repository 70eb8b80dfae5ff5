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

package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-hsm/pkg/hsm"
	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// newTestClient starts a core loop in the background and returns a client
// bound to its first endpoint.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	core, err := hsm.New(&hsm.Config{
		Config: types.Config{
			MaxClients:        2,
			KeyStoreCapacity:  8,
			ChannelDepth:      8,
			MaxInFlight:       8,
			RNGReseedInterval: time.Hour,
			MaxPayload:        4096,
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = core.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = core.Shutdown()
	})

	ep, err := core.Endpoint(0)
	require.NoError(t, err)
	return New(ep)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientEncryptDecrypt(t *testing.T) {
	c := newTestClient(t)
	ctx := testCtx(t)

	key, err := c.GenerateKey(ctx, types.AlgAES256GCM, types.UsageEncrypt|types.UsageDecrypt)
	require.NoError(t, err)
	require.NotZero(t, key)

	nonce := bytes.Repeat([]byte{0x24}, 12)
	plaintext := []byte("client round trip")

	ct, err := c.Encrypt(ctx, key, types.AlgAES256GCM, nonce, nil, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ct)

	pt, err := c.Decrypt(ctx, key, types.AlgAES256GCM, nonce, nil, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestClientStatusError(t *testing.T) {
	c := newTestClient(t)
	ctx := testCtx(t)

	nonce := bytes.Repeat([]byte{0x01}, 12)
	_, err := c.Encrypt(ctx, types.KeyID(0x00010003), types.AlgAES256GCM, nonce, nil, []byte("x"))
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, types.StatusKeyNotFound, statusErr.Status)
}

func TestClientSignVerify(t *testing.T) {
	c := newTestClient(t)
	ctx := testCtx(t)

	key, err := c.GenerateKey(ctx, types.AlgEd25519, types.UsageSign|types.UsageVerify)
	require.NoError(t, err)

	message := []byte("attest me")
	sig, err := c.Sign(ctx, key, message)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	require.NoError(t, c.Verify(ctx, key, message, sig))

	bad := append([]byte(nil), sig...)
	bad[0] ^= 0x80
	err = c.Verify(ctx, key, message, bad)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, types.StatusInvalidSignature, statusErr.Status)
}

func TestClientImportExportDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := testCtx(t)

	material := bytes.Repeat([]byte{0x5A}, 32)
	key, err := c.ImportKey(ctx, types.AlgChaCha20Poly1305,
		types.UsageEncrypt|types.UsageDecrypt|types.UsageExport, material)
	require.NoError(t, err)

	exported, err := c.ExportKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, material, exported)

	require.NoError(t, c.DeleteKey(ctx, key))

	_, err = c.ExportKey(ctx, key)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, types.StatusKeyNotFound, statusErr.Status)
}

func TestClientDeriveKeyAgreement(t *testing.T) {
	c := newTestClient(t)
	ctx := testCtx(t)

	alice, err := c.GenerateKey(ctx, types.AlgX25519, types.UsageDerive)
	require.NoError(t, err)
	bob, err := c.GenerateKey(ctx, types.AlgX25519, types.UsageDerive)
	require.NoError(t, err)

	alicePub, err := c.GetPublicKey(ctx, alice)
	require.NoError(t, err)
	bobPub, err := c.GetPublicKey(ctx, bob)
	require.NoError(t, err)

	aliceShared, err := c.DeriveKeyRaw(ctx, alice, bobPub, 32)
	require.NoError(t, err)
	bobShared, err := c.DeriveKeyRaw(ctx, bob, alicePub, 32)
	require.NoError(t, err)
	assert.Equal(t, aliceShared, bobShared)

	// Installing the derived secret yields a usable symmetric key.
	session, err := c.DeriveKey(ctx, alice, bobPub, 32, types.UsageEncrypt|types.UsageDecrypt)
	require.NoError(t, err)
	require.NotZero(t, session)

	nonce := bytes.Repeat([]byte{0x07}, 12)
	ct, err := c.Encrypt(ctx, session, types.AlgAES256GCM, nonce, nil, []byte("session data"))
	require.NoError(t, err)
	pt, err := c.Decrypt(ctx, session, types.AlgAES256GCM, nonce, nil, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("session data"), pt)
}

func TestClientInlineKey(t *testing.T) {
	c := newTestClient(t)
	ctx := testCtx(t)

	key := bytes.Repeat([]byte{0x42}, 32)
	nonce := bytes.Repeat([]byte{0x11}, 12)

	ct, err := c.EncryptWithKey(ctx, types.AlgAES256GCM, key, nonce, []byte("aad"), []byte("inline"))
	require.NoError(t, err)
	pt, err := c.DecryptWithKey(ctx, types.AlgAES256GCM, key, nonce, []byte("aad"), ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("inline"), pt)
}

func TestClientHashAndRandom(t *testing.T) {
	c := newTestClient(t)
	ctx := testCtx(t)

	digest, err := c.Hash(ctx, types.AlgSHA256, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		hex.EncodeToString(digest))

	r1, err := c.GetRandom(ctx, 48)
	require.NoError(t, err)
	require.Len(t, r1, 48)
	r2, err := c.GetRandom(ctx, 48)
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)
}

func TestClientConcurrentCallers(t *testing.T) {
	c := newTestClient(t)
	ctx := testCtx(t)

	key, err := c.GenerateKey(ctx, types.AlgAES128GCM, types.UsageEncrypt|types.UsageDecrypt)
	require.NoError(t, err)

	// Out-of-order completion: responses for one goroutine's requests may
	// be polled by another and must land with the right waiter.
	const workers = 4
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(n byte) {
			nonce := bytes.Repeat([]byte{n}, 12)
			plaintext := []byte{n, n, n}
			ct, err := c.Encrypt(ctx, key, types.AlgAES128GCM, nonce, nil, plaintext)
			if err != nil {
				errs <- err
				return
			}
			pt, err := c.Decrypt(ctx, key, types.AlgAES128GCM, nonce, nil, ct)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(pt, plaintext) {
				errs <- errors.New("plaintext mismatch")
				return
			}
			errs <- nil
		}(byte(i + 1))
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-errs)
	}
}

func TestClientAwaitContextCancelled(t *testing.T) {
	c := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Correlation id that no request was submitted for never arrives.
	_, err := c.Await(ctx, 0xFFFF)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
