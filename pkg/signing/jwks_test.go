package signing

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestPublishJWKS(t *testing.T) {
	m := NewManager(Config{KeyDir: t.TempDir()}, testLogger())

	jwks, err := m.PublishJWKS()
	if err != nil {
		t.Fatalf("PublishJWKS failed: %v", err)
	}
	if len(jwks.Keys) != 1 {
		t.Fatalf("expected a single key, got %d", len(jwks.Keys))
	}

	key := jwks.Keys[0]
	if key.Kty != "RSA" || key.Use != "sig" || key.Alg != "RS256" {
		t.Errorf("unexpected key metadata: %+v", key)
	}

	kid, _ := m.KeyID()
	if key.Kid != kid {
		t.Errorf("kid mismatch: %q vs %q", key.Kid, kid)
	}

	n, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		t.Fatalf("modulus not base64url: %v", err)
	}
	if len(n) != 256 {
		t.Errorf("expected 256 modulus bytes for a 2048-bit key, got %d", len(n))
	}
	e, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		t.Fatalf("exponent not base64url: %v", err)
	}
	if len(e) != 3 {
		t.Errorf("expected 3 exponent bytes for 65537, got %d", len(e))
	}

	// Round trip: the reconstructed key equals the verification key.
	pub, err := key.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey failed: %v", err)
	}
	actual, _ := m.VerificationKey()
	if pub.N.Cmp(actual.N) != 0 || pub.E != actual.E {
		t.Error("reconstructed key does not match the verification key")
	}
}

func TestJWK_PublicKeyRejectsNonRSA(t *testing.T) {
	_, err := JWK{Kty: "EC"}.PublicKey()
	if err == nil {
		t.Error("expected error for non-RSA key type")
	}
}

func TestPublishOpenIDConfiguration(t *testing.T) {
	m := NewManager(Config{KeyDir: t.TempDir()}, testLogger())

	doc := m.PublishOpenIDConfiguration("https://auth.example.com")
	if doc.Issuer != "https://auth.example.com" {
		t.Errorf("unexpected issuer: %q", doc.Issuer)
	}
	if doc.JWKSURI != "https://auth.example.com/.well-known/jwks.json" {
		t.Errorf("unexpected jwks_uri: %q", doc.JWKSURI)
	}
	found := false
	for _, alg := range doc.IDTokenSigningAlgValuesSupported {
		if alg == "RS256" {
			found = true
		}
	}
	if !found {
		t.Error("RS256 missing from supported algorithms")
	}
}

func TestDiscoveryEndpoints(t *testing.T) {
	m := NewManager(Config{KeyDir: t.TempDir()}, testLogger())
	if err := m.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	router := mux.NewRouter()
	NewHandlers(m, "https://auth.example.com").RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("jwks endpoint returned %d", rec.Code)
	}

	var jwks JWKS
	if err := json.Unmarshal(rec.Body.Bytes(), &jwks); err != nil {
		t.Fatalf("invalid jwks body: %v", err)
	}
	if len(jwks.Keys) != 1 {
		t.Errorf("expected one key in response, got %d", len(jwks.Keys))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("discovery endpoint returned %d", rec.Code)
	}

	var doc OpenIDConfiguration
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid discovery body: %v", err)
	}
	if doc.Issuer != "https://auth.example.com" {
		t.Errorf("unexpected issuer: %q", doc.Issuer)
	}
}
