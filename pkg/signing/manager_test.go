package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vantagecms/vantage/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func generatePEMPair(t *testing.T) (string, string, *rsa.PrivateKey) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey failed: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return string(privPEM), string(pubPEM), priv
}

func TestManager_ConfiguredPEMWins(t *testing.T) {
	privPEM, pubPEM, priv := generatePEMPair(t)

	// Environment values carry literal \n sequences.
	escaped := strings.ReplaceAll(privPEM, "\n", `\n`)
	escapedPub := strings.ReplaceAll(pubPEM, "\n", `\n`)

	m := NewManager(Config{
		PrivateKeyPEM: escaped,
		PublicKeyPEM:  escapedPub,
		KeyDir:        t.TempDir(),
	}, testLogger())
	if err := m.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	got, err := m.SigningKey()
	if err != nil {
		t.Fatalf("SigningKey failed: %v", err)
	}
	if got.N.Cmp(priv.N) != 0 {
		t.Error("configured key was not used")
	}

	// No generated files: configured keys are authoritative.
	if _, err := os.Stat(filepath.Join(m.cfg.KeyDir, privateKeyFile)); !os.IsNotExist(err) {
		t.Error("configured keys must not be persisted to disk")
	}
}

func TestManager_MalformedPEMIsFatal(t *testing.T) {
	m := NewManager(Config{
		PrivateKeyPEM: "not a key",
		PublicKeyPEM:  "also not a key",
	}, testLogger())
	if err := m.Init(); err == nil {
		t.Fatal("expected Init to fail on malformed PEM")
	}

	// The failure is sticky: later calls return the same error.
	if _, err := m.SigningKey(); err == nil {
		t.Error("expected SigningKey to fail after a failed Init")
	}
}

func TestManager_HalfConfiguredPEMIsFatal(t *testing.T) {
	privPEM, _, _ := generatePEMPair(t)
	m := NewManager(Config{PrivateKeyPEM: privPEM}, testLogger())
	if err := m.Init(); err == nil {
		t.Fatal("expected Init to fail when only one key is configured")
	}
}

func TestManager_LoadsPersistedKeyFiles(t *testing.T) {
	dir := t.TempDir()
	privPEM, _, priv := generatePEMPair(t)
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), []byte(privPEM), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	m := NewManager(Config{KeyDir: dir}, testLogger())
	if err := m.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	got, err := m.SigningKey()
	if err != nil {
		t.Fatalf("SigningKey failed: %v", err)
	}
	if got.N.Cmp(priv.N) != 0 {
		t.Error("persisted key was not loaded")
	}
}

func TestManager_CorruptPersistedKeyIsFatal(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	m := NewManager(Config{KeyDir: dir}, testLogger())
	if err := m.Init(); err == nil {
		t.Fatal("expected Init to fail on a corrupt persisted key")
	}
}

func TestManager_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(Config{KeyDir: dir}, testLogger())
	if err := m.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, privateKeyFile))
	if err != nil {
		t.Fatalf("private key file not persisted: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("private key file mode = %o, want 600", perm)
	}
	if _, err := os.Stat(filepath.Join(dir, publicKeyFile)); err != nil {
		t.Errorf("public key file not persisted: %v", err)
	}

	// A second manager over the same directory loads the same key.
	m2 := NewManager(Config{KeyDir: dir}, testLogger())
	if err := m2.Init(); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	kid1, _ := m.KeyID()
	kid2, _ := m2.KeyID()
	if kid1 != kid2 {
		t.Errorf("restart with persisted keys changed the key ID: %q vs %q", kid1, kid2)
	}
}

func TestManager_PersistFailureIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	readonly := filepath.Join(dir, "ro")
	if err := os.MkdirAll(readonly, 0o500); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	m := NewManager(Config{KeyDir: filepath.Join(readonly, "keys")}, testLogger())
	if err := m.Init(); err != nil {
		t.Fatalf("Init must succeed even when persistence fails: %v", err)
	}
	if _, err := m.SigningKey(); err != nil {
		t.Errorf("SigningKey failed: %v", err)
	}
}

func TestManager_KeyIDStability(t *testing.T) {
	m := NewManager(Config{KeyDir: t.TempDir()}, testLogger())

	kid1, err := m.KeyID()
	if err != nil {
		t.Fatalf("KeyID failed: %v", err)
	}
	kid2, err := m.KeyID()
	if err != nil {
		t.Fatalf("KeyID failed: %v", err)
	}
	if kid1 != kid2 {
		t.Errorf("KeyID not stable within a process: %q vs %q", kid1, kid2)
	}
	if len(kid1) != 11 {
		t.Errorf("expected 11 base64url chars for 8 digest bytes, got %q", kid1)
	}

	// A different key yields a different ID.
	other := NewManager(Config{KeyDir: t.TempDir()}, testLogger())
	otherKid, err := other.KeyID()
	if err != nil {
		t.Fatalf("KeyID failed: %v", err)
	}
	if otherKid == kid1 {
		t.Error("distinct keys produced the same key ID")
	}
}

func TestUnescapePEM(t *testing.T) {
	in := `-----BEGIN X-----\nabc\ndef\n-----END X-----`
	want := "-----BEGIN X-----\nabc\ndef\n-----END X-----"
	if got := unescapePEM(in); got != want {
		t.Errorf("unescapePEM = %q, want %q", got, want)
	}
}
