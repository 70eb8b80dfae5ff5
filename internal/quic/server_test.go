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

package quic

import (
	"crypto/tls"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerValidation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	t.Run("requires config", func(t *testing.T) {
		_, err := NewServer(nil)
		assert.Error(t, err)
	})

	t.Run("requires handler", func(t *testing.T) {
		_, err := NewServer(&Config{TLSConfig: tlsConfig})
		assert.Error(t, err)
	})

	t.Run("requires TLS", func(t *testing.T) {
		_, err := NewServer(&Config{Handler: handler})
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		s, err := NewServer(&Config{Handler: handler, TLSConfig: tlsConfig})
		require.NoError(t, err)
		assert.Equal(t, "localhost:8444", s.Addr())
	})

	t.Run("forces h3 ALPN and TLS 1.3", func(t *testing.T) {
		s, err := NewServer(&Config{Handler: handler, TLSConfig: tlsConfig})
		require.NoError(t, err)
		assert.Equal(t, []string{"h3"}, s.tlsConfig.NextProtos)
		assert.EqualValues(t, tls.VersionTLS13, s.tlsConfig.MinVersion)
	})
}
