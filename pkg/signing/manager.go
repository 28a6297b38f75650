// Package signing owns the process-wide RSA keypair used to sign and verify
// issued tokens, and publishes it as a JWKS discovery document.
package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vantagecms/vantage/pkg/observability"
)

const (
	keyBits         = 2048
	privateKeyFile  = "jwt_private.pem"
	publicKeyFile   = "jwt_public.pem"
	pemTypePrivate  = "RSA PRIVATE KEY"
	pemTypePublic   = "PUBLIC KEY"
	kidDigestPrefix = 8
)

// Config controls where key material is resolved from, first match wins:
// inline PEM (from secret configuration, with literal \n sequences), PEM files
// under KeyDir, or a freshly generated keypair persisted to KeyDir.
type Config struct {
	// PrivateKeyPEM and PublicKeyPEM hold PEM bodies supplied via external
	// secret configuration. Literal `\n` sequences are un-escaped before
	// parsing.
	PrivateKeyPEM string
	PublicKeyPEM  string

	// KeyDir is the directory holding (or receiving) persisted key files.
	KeyDir string
}

// Manager provides the stable signing identity for the process. The keypair
// is resolved exactly once and is immutable afterwards; concurrent reads need
// no locking.
type Manager struct {
	cfg    Config
	logger *observability.Logger

	once    sync.Once
	initErr error

	private *rsa.PrivateKey
	keyID   string
}

// NewManager creates a Manager. Key material is resolved lazily on first use;
// call Init at startup to fail fast on malformed PEM input.
func NewManager(cfg Config, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Init resolves the keypair. Malformed PEM input is a fatal error; inability
// to persist a generated keypair is logged and ignored.
func (m *Manager) Init() error {
	m.once.Do(func() {
		m.initErr = m.resolve()
		if m.initErr == nil {
			m.keyID = deriveKeyID(&m.private.PublicKey)
		}
	})
	return m.initErr
}

// SigningKey returns the process-wide private key.
func (m *Manager) SigningKey() (*rsa.PrivateKey, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}
	return m.private, nil
}

// VerificationKey returns the public half of the signing key.
func (m *Manager) VerificationKey() (*rsa.PublicKey, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}
	return &m.private.PublicKey, nil
}

// KeyID returns the stable key identifier: the first 8 bytes of the SHA-256
// digest of the DER-encoded public key, base64url-encoded without padding.
// It changes if and only if the underlying public key changes.
func (m *Manager) KeyID() (string, error) {
	if err := m.Init(); err != nil {
		return "", err
	}
	return m.keyID, nil
}

func (m *Manager) resolve() error {
	// (1) keys supplied via external secret configuration
	if m.cfg.PrivateKeyPEM != "" || m.cfg.PublicKeyPEM != "" {
		if m.cfg.PrivateKeyPEM == "" || m.cfg.PublicKeyPEM == "" {
			return fmt.Errorf("signing: both private and public key PEM must be configured together")
		}
		priv, err := parsePrivatePEM(unescapePEM(m.cfg.PrivateKeyPEM))
		if err != nil {
			return fmt.Errorf("signing: configured private key: %w", err)
		}
		if _, err := parsePublicPEM(unescapePEM(m.cfg.PublicKeyPEM)); err != nil {
			return fmt.Errorf("signing: configured public key: %w", err)
		}
		m.private = priv
		return nil
	}

	// (2) persisted key files
	if m.cfg.KeyDir != "" {
		privPath := filepath.Join(m.cfg.KeyDir, privateKeyFile)
		if data, err := os.ReadFile(privPath); err == nil {
			priv, err := parsePrivatePEM(string(data))
			if err != nil {
				return fmt.Errorf("signing: persisted private key %s: %w", privPath, err)
			}
			m.private = priv
			return nil
		}
	}

	// (3) generate fresh and try to persist. In an ephemeral environment
	// without persisted keys or injected secrets this regenerates on every
	// restart and invalidates previously issued tokens; that is a known
	// operational hazard, so the generation is logged loudly.
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("signing: generate keypair: %w", err)
	}
	m.private = priv
	m.logger.Warn("no signing key material found, generated a fresh RSA keypair; previously issued tokens are now invalid")

	if m.cfg.KeyDir != "" {
		if err := m.persist(priv); err != nil {
			m.logger.WithError(err).Warn("failed to persist generated signing key; tokens will not survive a restart")
		}
	}
	return nil
}

func (m *Manager) persist(priv *rsa.PrivateKey) error {
	if err := os.MkdirAll(m.cfg.KeyDir, 0o755); err != nil {
		return err
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePrivate,
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	if err := os.WriteFile(filepath.Join(m.cfg.KeyDir, privateKeyFile), privPEM, 0o600); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: pubDER})
	return os.WriteFile(filepath.Join(m.cfg.KeyDir, publicKeyFile), pubPEM, 0o644)
}

// deriveKeyID computes the kid for a public key.
func deriveKeyID(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		// MarshalPKIXPublicKey cannot fail for a well-formed *rsa.PublicKey.
		panic(fmt.Sprintf("signing: marshal public key: %v", err))
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:kidDigestPrefix])
}

// unescapePEM converts literal `\n` sequences from environment-supplied
// values into real newlines.
func unescapePEM(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

func parsePrivatePEM(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemData)))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA private key")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported private key PEM type %q", block.Type)
	}
}

func parsePublicPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemData)))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key PEM type %q", block.Type)
	}
}
