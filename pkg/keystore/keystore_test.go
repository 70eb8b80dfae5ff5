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

package keystore

import (
	"bytes"
	"testing"

	"github.com/jeremyhahn/go-hsm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaterial(n int) []byte {
	m := make([]byte, n)
	for i := range m {
		m[i] = byte(i + 1)
	}
	return m
}

func TestInsertAndBorrow(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	defer s.Close()

	material := testMaterial(32)
	id, err := s.Insert(types.AlgAES256GCM, types.UsageEncrypt|types.UsageDecrypt, material)
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	var seen []byte
	err = s.WithMaterial(id, func(m []byte, info KeyInfo) error {
		seen = append([]byte(nil), m...)
		assert.Equal(t, types.AlgAES256GCM, info.Algorithm)
		assert.Equal(t, uint64(1), info.UseCount)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, material, seen)
}

func TestInsertValidatesMaterialLength(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	defer s.Close()

	tests := []struct {
		name string
		alg  types.Algorithm
		size int
	}{
		{"aes256 short", types.AlgAES256GCM, 16},
		{"aes128 long", types.AlgAES128GCM, 32},
		{"ed25519 wrong", types.AlgEd25519, 31},
		{"empty", types.AlgChaCha20Poly1305, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Insert(tt.alg, types.UsageEncrypt, testMaterial(tt.size))
			assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
		})
	}

	// unkeyed algorithms hold no material
	_, err = s.Insert(types.AlgSHA256, types.UsageEncrypt, testMaterial(32))
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)

	// usage mask must be non-empty and defined
	_, err = s.Insert(types.AlgAES256GCM, 0, testMaterial(32))
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)

	// nothing was consumed by the failures
	assert.Equal(t, 0, s.Len())
}

func TestCapacityExhaustionAndRecovery(t *testing.T) {
	const capacity = 4
	s, err := New(capacity)
	require.NoError(t, err)
	defer s.Close()

	ids := make([]types.KeyID, 0, capacity)
	for i := 0; i < capacity; i++ {
		id, err := s.Insert(types.AlgAES128GCM, types.UsageEncrypt, testMaterial(16))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, capacity, s.Len())

	_, err = s.Insert(types.AlgAES128GCM, types.UsageEncrypt, testMaterial(16))
	assert.ErrorIs(t, err, ErrKeyStoreFull)

	require.NoError(t, s.Delete(ids[1]))
	_, err = s.Insert(types.AlgAES128GCM, types.UsageEncrypt, testMaterial(16))
	assert.NoError(t, err)
}

func TestDeleteThenUseFails(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Insert(types.AlgAES256GCM, types.UsageEncrypt, testMaterial(32))
	require.NoError(t, err)
	require.NoError(t, s.Delete(id))

	assert.ErrorIs(t, s.Delete(id), ErrKeyNotFound)
	_, err = s.Info(id)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, s.Authorize(id, types.OpEncrypt), ErrKeyNotFound)
	err = s.WithMaterial(id, func([]byte, KeyInfo) error { return nil })
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	s, err := New(1)
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Insert(types.AlgAES256GCM, types.UsageEncrypt, testMaterial(32))
	require.NoError(t, err)
	require.NoError(t, s.Delete(first))

	second, err := s.Insert(types.AlgAES256GCM, types.UsageEncrypt, testMaterial(32))
	require.NoError(t, err)

	// same slot, new generation: the stale handle must not reach the new key
	assert.Equal(t, first.Slot(), second.Slot())
	assert.NotEqual(t, first, second)
	_, err = s.Info(first)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = s.Info(second)
	assert.NoError(t, err)
}

func TestAuthorize(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Insert(types.AlgEd25519, types.UsageSign, testMaterial(32))
	require.NoError(t, err)

	assert.NoError(t, s.Authorize(id, types.OpSign))
	assert.ErrorIs(t, s.Authorize(id, types.OpEncrypt), ErrPermissionDenied)
	assert.ErrorIs(t, s.Authorize(id, types.OpVerify), ErrPermissionDenied)
	assert.ErrorIs(t, s.Authorize(id, types.OpExportKey), ErrPermissionDenied)

	// delete is not usage-gated
	assert.NoError(t, s.Authorize(id, types.OpDeleteKey))
}

func TestUseCountIncrements(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Insert(types.AlgAES256GCM, types.UsageEncrypt, testMaterial(32))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.WithMaterial(id, func([]byte, KeyInfo) error { return nil }))
	}
	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.UseCount)
}

func TestBorrowedScratchIsZeroizedAfterUse(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Insert(types.AlgAES256GCM, types.UsageEncrypt, testMaterial(32))
	require.NoError(t, err)

	var borrowed []byte
	require.NoError(t, s.WithMaterial(id, func(m []byte, _ KeyInfo) error {
		borrowed = m // deliberately retained to observe the erasure
		return nil
	}))
	assert.True(t, bytes.Equal(borrowed, make([]byte, 32)),
		"scratch buffer must be zeroized once the borrow ends")
}

func TestList(t *testing.T) {
	s, err := New(8)
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.List())

	a, err := s.Insert(types.AlgAES128GCM, types.UsageEncrypt, testMaterial(16))
	require.NoError(t, err)
	b, err := s.Insert(types.AlgEd25519, types.UsageSign, testMaterial(32))
	require.NoError(t, err)

	infos := s.List()
	require.Len(t, infos, 2)
	ids := []types.KeyID{infos[0].ID, infos[1].ID}
	assert.Contains(t, ids, a)
	assert.Contains(t, ids, b)
}

func TestCloseRejectsFurtherOperations(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)

	id, err := s.Insert(types.AlgAES256GCM, types.UsageEncrypt, testMaterial(32))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	_, err = s.Insert(types.AlgAES256GCM, types.UsageEncrypt, testMaterial(32))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete(id), ErrClosed)
	_, err = s.Info(id)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewValidatesCapacity(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
	_, err = New(0x10000)
	assert.Error(t, err)
	_, err = New(1)
	assert.NoError(t, err)
}

func TestZeroize(t *testing.T) {
	b := testMaterial(16)
	Zeroize(b)
	assert.Equal(t, make([]byte, 16), b)
}
