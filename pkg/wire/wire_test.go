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

package wire

import (
	"encoding/binary"
	"testing"

	"github.com/jeremyhahn/go-hsm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxPayload = 4096

func TestRequestRoundTrip(t *testing.T) {
	req := &types.Request{
		CorrelationID: 0xdeadbeef,
		Operation:     types.OpEncrypt,
		Algorithm:     types.AlgAES256GCM,
		KeyID:         types.NewKeyID(3, 1),
		Nonce:         []byte("012345678901"),
		AAD:           []byte("header"),
		Input:         []byte("hello world"),
	}

	frame, err := EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(frame, testMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, req.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, req.Operation, decoded.Operation)
	assert.Equal(t, req.Algorithm, decoded.Algorithm)
	assert.Equal(t, req.KeyID, decoded.KeyID)
	assert.Equal(t, req.Nonce, decoded.Nonce)
	assert.Equal(t, req.AAD, decoded.AAD)
	assert.Equal(t, req.Input, decoded.Input)
	assert.Nil(t, decoded.Key)
}

func TestRequestRoundTripInlineKey(t *testing.T) {
	req := &types.Request{
		CorrelationID: 7,
		Operation:     types.OpDecrypt,
		Algorithm:     types.AlgAES128GCM,
		Flags:         types.FlagInlineKey,
		Key:           make([]byte, 16),
		Nonce:         make([]byte, 12),
		Input:         []byte("ciphertext-with-tag............."),
	}

	frame, err := EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(frame, testMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, types.FlagInlineKey, decoded.Flags)
	assert.Equal(t, req.Key, decoded.Key)
}

func TestRequestRoundTripGenerate(t *testing.T) {
	req := &types.Request{
		CorrelationID: 1,
		Operation:     types.OpGenerateKey,
		Algorithm:     types.AlgEd25519,
		Usage:         types.UsageSign | types.UsageVerify,
	}

	frame, err := EncodeRequest(req)
	require.NoError(t, err)
	assert.Len(t, frame, RequestHeaderSize)

	decoded, err := DecodeRequest(frame, testMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, req.Usage, decoded.Usage)
	assert.True(t, decoded.KeyID.IsZero())
}

func TestDecodeRequestMalformed(t *testing.T) {
	valid := func() []byte {
		frame, err := EncodeRequest(&types.Request{
			CorrelationID: 9,
			Operation:     types.OpHash,
			Algorithm:     types.AlgSHA256,
			Input:         []byte("abc"),
		})
		require.NoError(t, err)
		return frame
	}

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{"short frame", func(b []byte) []byte { return b[:10] }, ErrTruncated},
		{"empty frame", func(b []byte) []byte { return nil }, ErrTruncated},
		{"bad magic", func(b []byte) []byte { b[0] = 0xff; return b }, ErrBadMagic},
		{"bad version", func(b []byte) []byte { b[2] = 9; return b }, ErrBadVersion},
		{"unknown op", func(b []byte) []byte { b[3] = 200; return b }, ErrFieldRange},
		{"zero op", func(b []byte) []byte { b[3] = 0; return b }, ErrFieldRange},
		{"unknown alg", func(b []byte) []byte { b[4] = 250; return b }, ErrFieldRange},
		{"undefined flags", func(b []byte) []byte { b[5] = 0x80; return b }, ErrFieldRange},
		{"oversize nonce len", func(b []byte) []byte { b[16] = 200; return b }, ErrFieldRange},
		{"oversize key len", func(b []byte) []byte { b[19] = 255; return b }, ErrFieldRange},
		{"input exceeds limit", func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[22:26], testMaxPayload+1)
			return b
		}, ErrFieldRange},
		{"length mismatch", func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[22:26], 2)
			return b
		}, ErrLengthMismatch},
		{"trailing garbage", func(b []byte) []byte { return append(b, 0) }, ErrLengthMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.mutate(valid()), testMaxPayload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &types.Response{
		CorrelationID: 42,
		Status:        types.StatusOK,
		KeyID:         types.NewKeyID(7, 0),
		Output:        []byte("ciphertext"),
	}

	decoded, err := DecodeResponse(EncodeResponse(resp))
	require.NoError(t, err)
	assert.Equal(t, resp.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, resp.Status, decoded.Status)
	assert.Equal(t, resp.KeyID, decoded.KeyID)
	assert.Equal(t, resp.Output, decoded.Output)
}

func TestResponseRoundTripError(t *testing.T) {
	resp := &types.Response{
		CorrelationID: 3,
		Status:        types.StatusKeyNotFound,
	}

	decoded, err := DecodeResponse(EncodeResponse(resp))
	require.NoError(t, err)
	assert.Equal(t, types.StatusKeyNotFound, decoded.Status)
	assert.Empty(t, decoded.Output)
}

func TestDecodeResponseMalformed(t *testing.T) {
	frame := EncodeResponse(&types.Response{CorrelationID: 1, Output: []byte("x")})

	_, err := DecodeResponse(frame[:8])
	assert.ErrorIs(t, err, ErrTruncated)

	bad := append([]byte(nil), frame...)
	bad[1] = 0
	_, err = DecodeResponse(bad)
	assert.ErrorIs(t, err, ErrBadMagic)

	short := append([]byte(nil), frame...)
	binary.BigEndian.PutUint32(short[12:16], 100)
	_, err = DecodeResponse(short)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestPeekCorrelationID(t *testing.T) {
	frame, err := EncodeRequest(&types.Request{
		CorrelationID: 0xabad1dea,
		Operation:     types.OpGetRandom,
		OutputLen:     16,
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(0xabad1dea), PeekCorrelationID(frame))
	assert.Equal(t, uint32(0), PeekCorrelationID(frame[:4]))
	assert.Equal(t, uint32(0), PeekCorrelationID(nil))
}

func TestEncodeRequestRejectsOversizeFields(t *testing.T) {
	_, err := EncodeRequest(&types.Request{
		Operation: types.OpEncrypt,
		Algorithm: types.AlgAES256GCM,
		Nonce:     make([]byte, types.MaxNonce+1),
	})
	assert.ErrorIs(t, err, ErrFieldRange)

	_, err = EncodeRequest(&types.Request{
		Operation: types.OpImportKey,
		Algorithm: types.AlgAES256GCM,
		Key:       make([]byte, types.MaxPeerPublicKey+1),
	})
	assert.ErrorIs(t, err, ErrFieldRange)

	_, err = EncodeRequest(&types.Request{
		Operation: types.Operation(99),
	})
	assert.ErrorIs(t, err, ErrFieldRange)
}
