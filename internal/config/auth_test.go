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

package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAuthenticatorDisabled(t *testing.T) {
	cfg := &AuthConfig{Enabled: false, Type: "apikey"}
	a, err := cfg.CreateAuthenticator()
	if err != nil {
		t.Fatalf("CreateAuthenticator() error = %v", err)
	}
	if a.Name() != "noop" {
		t.Errorf("Name() = %v, want noop when auth disabled", a.Name())
	}
}

func TestCreateAuthenticatorNoop(t *testing.T) {
	for _, typ := range []string{"noop", "none", ""} {
		cfg := &AuthConfig{Enabled: true, Type: typ}
		a, err := cfg.CreateAuthenticator()
		if err != nil {
			t.Fatalf("CreateAuthenticator(%q) error = %v", typ, err)
		}
		if a.Name() != "noop" {
			t.Errorf("Name() = %v, want noop for type %q", a.Name(), typ)
		}
	}
}

func TestCreateAuthenticatorAPIKey(t *testing.T) {
	cfg := &AuthConfig{
		Enabled: true,
		Type:    "apikey",
		APIKeys: map[string]APIKeyConfig{
			"key-123": {Subject: "svc-a", Roles: []string{"operator"}},
		},
	}
	a, err := cfg.CreateAuthenticator()
	if err != nil {
		t.Fatalf("CreateAuthenticator() error = %v", err)
	}
	if a.Name() != "apikey" {
		t.Errorf("Name() = %v, want apikey", a.Name())
	}
}

func TestCreateAuthenticatorAPIKeyEmpty(t *testing.T) {
	cfg := &AuthConfig{Enabled: true, Type: "apikey"}
	if _, err := cfg.CreateAuthenticator(); err == nil {
		t.Error("CreateAuthenticator() with no API keys should fail")
	}
}

func TestCreateAuthenticatorMTLS(t *testing.T) {
	cfg := &AuthConfig{Enabled: true, Type: "mtls", MTLS: true}
	a, err := cfg.CreateAuthenticator()
	if err != nil {
		t.Fatalf("CreateAuthenticator() error = %v", err)
	}
	if a.Name() != "mtls" {
		t.Errorf("Name() = %v, want mtls", a.Name())
	}

	cfg.MTLS = false
	if _, err := cfg.CreateAuthenticator(); err == nil {
		t.Error("CreateAuthenticator() with mtls disabled should fail")
	}
}

func TestCreateAuthenticatorJWT(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	keyFile := filepath.Join(t.TempDir(), "jwt.pub")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if err := os.WriteFile(keyFile, pemData, 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &AuthConfig{
		Enabled: true,
		Type:    "jwt",
		JWT: &JWTConfig{
			PublicKeyFile: keyFile,
			Issuer:        "go-hsm",
		},
	}
	a, err := cfg.CreateAuthenticator()
	if err != nil {
		t.Fatalf("CreateAuthenticator() error = %v", err)
	}
	if a.Name() != "jwt" {
		t.Errorf("Name() = %v, want jwt", a.Name())
	}
}

func TestCreateAuthenticatorJWTErrors(t *testing.T) {
	cfg := &AuthConfig{Enabled: true, Type: "jwt"}
	if _, err := cfg.CreateAuthenticator(); err == nil {
		t.Error("CreateAuthenticator() without jwt section should fail")
	}

	cfg.JWT = &JWTConfig{}
	if _, err := cfg.CreateAuthenticator(); err == nil {
		t.Error("CreateAuthenticator() without public key file should fail")
	}

	cfg.JWT.PublicKeyFile = "/nonexistent/key.pub"
	if _, err := cfg.CreateAuthenticator(); err == nil {
		t.Error("CreateAuthenticator() with missing key file should fail")
	}

	badFile := filepath.Join(t.TempDir(), "bad.pub")
	if err := os.WriteFile(badFile, []byte("not pem"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg.JWT.PublicKeyFile = badFile
	if _, err := cfg.CreateAuthenticator(); err == nil {
		t.Error("CreateAuthenticator() with invalid PEM should fail")
	}
}

func TestCreateAuthenticatorUnknownType(t *testing.T) {
	cfg := &AuthConfig{Enabled: true, Type: "oauth2"}
	if _, err := cfg.CreateAuthenticator(); err == nil {
		t.Error("CreateAuthenticator() with unknown type should fail")
	}
}
