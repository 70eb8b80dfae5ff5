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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	// Every algorithm round-trips through its canonical name.
	for a := AlgNone; a < algMax; a++ {
		parsed, err := ParseAlgorithm(a.String())
		require.NoError(t, err, "algorithm %s", a)
		assert.Equal(t, a, parsed)
	}

	parsed, err := ParseAlgorithm("  AES256-GCM ")
	require.NoError(t, err)
	assert.Equal(t, AlgAES256GCM, parsed)

	_, err = ParseAlgorithm("rot13")
	assert.Error(t, err)
}

func TestParseKeyUsage(t *testing.T) {
	usage, err := ParseKeyUsage([]string{"encrypt", "Decrypt"})
	require.NoError(t, err)
	assert.Equal(t, UsageEncrypt|UsageDecrypt, usage)

	usage, err = ParseKeyUsage([]string{"sign", "verify", "derive", "export"})
	require.NoError(t, err)
	assert.Equal(t, UsageSign|UsageVerify|UsageDerive|UsageExport, usage)

	_, err = ParseKeyUsage([]string{"encrypt", "launch"})
	assert.Error(t, err)

	_, err = ParseKeyUsage(nil)
	assert.Error(t, err)
}
