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

package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityContext(t *testing.T) {
	identity := &Identity{Subject: "operator"}
	ctx := WithIdentity(context.Background(), identity)
	assert.Equal(t, identity, GetIdentity(ctx))
	assert.Nil(t, GetIdentity(context.Background()))
}

func TestIdentityRolesAndPermissions(t *testing.T) {
	identity := &Identity{
		Subject: "svc",
		Claims: map[string]interface{}{
			"roles":       []string{"admin"},
			"permissions": []interface{}{"keys:write"},
		},
	}
	assert.True(t, identity.HasRole("admin"))
	assert.False(t, identity.HasRole("auditor"))
	assert.True(t, identity.HasPermission("keys:write"))
	assert.False(t, identity.HasPermission("keys:delete"))

	var nilIdentity *Identity
	assert.False(t, nilIdentity.HasRole("admin"))
	assert.False(t, nilIdentity.HasPermission("keys:write"))
}

func TestNoOpAuthenticator(t *testing.T) {
	a := NewNoOpAuthenticator()
	assert.Equal(t, "noop", a.Name())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	identity, err := a.AuthenticateHTTP(r)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", identity.Subject)
	assert.Equal(t, "none", identity.Attributes["auth_method"])
}

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator(&APIKeyConfig{
		Keys: map[string]*Identity{
			"secret-key": {
				Subject: "svc-a",
				Claims:  map[string]interface{}{"roles": []string{"operator"}},
			},
		},
	})
	assert.Equal(t, "apikey", a.Name())

	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-API-Key", "secret-key")
		identity, err := a.AuthenticateHTTP(r)
		require.NoError(t, err)
		assert.Equal(t, "svc-a", identity.Subject)
		assert.Equal(t, "apikey", identity.Attributes["auth_method"])
	})

	t.Run("bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer secret-key")
		identity, err := a.AuthenticateHTTP(r)
		require.NoError(t, err)
		assert.Equal(t, "svc-a", identity.Subject)
	})

	t.Run("query param", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/?api_key=secret-key", nil)
		identity, err := a.AuthenticateHTTP(r)
		require.NoError(t, err)
		assert.Equal(t, "svc-a", identity.Subject)
	})

	t.Run("missing key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})

	t.Run("invalid key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-API-Key", "wrong")
		_, err := a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})

	t.Run("clone protects identity", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-API-Key", "secret-key")
		identity, err := a.AuthenticateHTTP(r)
		require.NoError(t, err)
		identity.Claims["roles"] = []string{"tampered"}

		again, err := a.AuthenticateHTTP(r)
		require.NoError(t, err)
		assert.Equal(t, []string{"operator"}, again.Claims["roles"])
	})

	t.Run("add and remove", func(t *testing.T) {
		a.AddKey("temp", &Identity{Subject: "temp-svc"})
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-API-Key", "temp")
		_, err := a.AuthenticateHTTP(r)
		require.NoError(t, err)

		a.RemoveKey("temp")
		_, err = a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})
}

func signedToken(t *testing.T, key ed25519.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTAuthenticator(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	a, err := NewJWTAuthenticator(&JWTConfig{
		PublicKey: pub,
		Issuer:    "go-hsm",
		Audience:  []string{"hsm-api"},
	})
	require.NoError(t, err)
	assert.Equal(t, "jwt", a.Name())

	valid := jwt.MapClaims{
		"sub": "operator",
		"iss": "go-hsm",
		"aud": "hsm-api",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+signedToken(t, priv, valid))
		identity, err := a.AuthenticateHTTP(r)
		require.NoError(t, err)
		assert.Equal(t, "operator", identity.Subject)
		assert.Equal(t, "jwt", identity.Attributes["auth_method"])
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := jwt.MapClaims{
			"sub": "operator", "iss": "someone-else", "aud": "hsm-api",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+signedToken(t, priv, claims))
		_, err := a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := jwt.MapClaims{
			"sub": "operator", "iss": "go-hsm", "aud": "other-api",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+signedToken(t, priv, claims))
		_, err := a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := jwt.MapClaims{
			"sub": "operator", "iss": "go-hsm", "aud": "hsm-api",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+signedToken(t, priv, claims))
		_, err := a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+signedToken(t, otherPriv, valid))
		_, err = a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})

	t.Run("no header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewJWTAuthenticator(nil)
		assert.Error(t, err)
		_, err = NewJWTAuthenticator(&JWTConfig{})
		assert.Error(t, err)
	})
}

func clientCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Automate The Things"},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(time.Hour),
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestMTLSAuthenticator(t *testing.T) {
	a := NewMTLSAuthenticator(nil)
	assert.Equal(t, "mtls", a.Name())

	t.Run("client certificate", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.TLS = &tls.ConnectionState{
			PeerCertificates: []*x509.Certificate{clientCert(t, "client.example.com")},
		}
		identity, err := a.AuthenticateHTTP(r)
		require.NoError(t, err)
		assert.Equal(t, "client.example.com", identity.Subject)
		assert.Equal(t, "mtls", identity.Attributes["auth_method"])
		assert.Equal(t, "42", identity.Attributes["cert_serial"])
		assert.Contains(t, identity.Claims["permissions"], "client_auth")
	})

	t.Run("no certificate", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := a.AuthenticateHTTP(r)
		assert.Error(t, err)
	})

	t.Run("custom subject extractor", func(t *testing.T) {
		custom := NewMTLSAuthenticator(&MTLSConfig{
			ExtractSubject: func(cert *x509.Certificate) string {
				return "custom:" + cert.Subject.CommonName
			},
		})
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.TLS = &tls.ConnectionState{
			PeerCertificates: []*x509.Certificate{clientCert(t, "svc")},
		}
		identity, err := custom.AuthenticateHTTP(r)
		require.NoError(t, err)
		assert.Equal(t, "custom:svc", identity.Subject)
	})
}
