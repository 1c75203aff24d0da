// Package credential encrypts secrets such as provider API keys before they
// are written to the configuration table. Values are sealed with AES-256-GCM
// under a machine-derived key, so a copied database does not leak them.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// EncryptedPrefix marks values as encrypted in storage.
const EncryptedPrefix = "enc:v1:"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals and opens secrets.
type Manager struct {
	gcm cipher.AEAD
}

// NewManager creates a manager keyed to this machine and user.
func NewManager() (*Manager, error) {
	return NewManagerWithKey(machineKey())
}

// NewManagerWithKey creates a manager from a 32-byte key.
func NewManagerWithKey(key []byte) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{gcm: gcm}, nil
}

// Encrypt seals plaintext into a storable string. Empty stays empty.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := m.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix are
// returned unchanged so hand-edited plaintext settings keep working.
func (m *Manager) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	n := m.gcm.NonceSize()
	if len(sealed) < n {
		return "", ErrInvalidFormat
	}
	plaintext, err := m.gcm.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted checks if a value is already encrypted.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// IsSecretKey reports whether a setting key holds a secret.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, "api_key") || strings.HasSuffix(k, "token") || strings.HasSuffix(k, "password")
}

// machineKey hashes host and user identifiers into a stable 32-byte key.
func machineKey() []byte {
	var entropy strings.Builder

	hostname, _ := os.Hostname()
	entropy.WriteString(hostname)

	home, _ := os.UserHomeDir()
	entropy.WriteString(home)

	entropy.WriteString(runtime.GOOS)
	entropy.WriteString(runtime.GOARCH)
	entropy.WriteString("aarii-credential-v1")

	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&entropy, "uid:%d", uid)
	}
	if username := os.Getenv("USER"); username != "" {
		entropy.WriteString(username)
	}

	sum := sha256.Sum256([]byte(entropy.String()))
	return sum[:]
}

// MaskSecret returns a masked version of a secret for display purposes.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// KV is a plain string key/value store.
type KV interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error
}

// Settings wraps a KV store, encrypting secret keys on write and decrypting
// them on read. Other keys pass through.
type Settings struct {
	kv  KV
	mgr *Manager
}

func NewSettings(kv KV, mgr *Manager) *Settings {
	return &Settings{kv: kv, mgr: mgr}
}

func (s *Settings) SetConfig(key, value string) error {
	if IsSecretKey(key) && !IsEncrypted(value) {
		enc, err := s.mgr.Encrypt(value)
		if err != nil {
			return err
		}
		value = enc
	}
	return s.kv.SetConfig(key, value)
}

func (s *Settings) GetConfig(key string) (string, error) {
	v, err := s.kv.GetConfig(key)
	if err != nil || !IsSecretKey(key) {
		return v, err
	}
	return s.mgr.Decrypt(v)
}

// Display returns the value of key fit for printing, masking secrets.
func (s *Settings) Display(key string) (string, error) {
	v, err := s.GetConfig(key)
	if err != nil || v == "" || !IsSecretKey(key) {
		return v, err
	}
	return MaskSecret(v), nil
}
