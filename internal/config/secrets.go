package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Secrets maps provider name to API key. On disk the mapping is sealed with
// AES-GCM under a per-user key file; in memory it is plaintext.
type Secrets map[string]string

// SecretsStore persists provider API keys.
type SecretsStore struct {
	path    string
	keyPath string
}

// NewSecretsStore creates a store at the default secrets path.
func NewSecretsStore() *SecretsStore {
	return NewSecretsStoreAt(SecretsPath())
}

// NewSecretsStoreAt creates a store for an explicit secrets file path. The key
// file lives alongside it.
func NewSecretsStoreAt(path string) *SecretsStore {
	return &SecretsStore{
		path:    path,
		keyPath: filepath.Join(filepath.Dir(path), ".secrets.key"),
	}
}

// Load decrypts and returns the stored secrets. A missing file yields an
// empty map.
func (s *SecretsStore) Load() (Secrets, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Secrets{}, nil
		}
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	key, err := s.loadKey()
	if err != nil {
		return nil, err
	}
	plaintext, err := open(key, data)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}
	var secrets Secrets
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("decode secrets: %w", err)
	}
	return secrets, nil
}

// Save encrypts and writes the secrets, creating the key file on first use.
func (s *SecretsStore) Save(secrets Secrets) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}
	key, err := s.loadOrCreateKey()
	if err != nil {
		return err
	}
	sealed, err := seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt secrets: %w", err)
	}
	return os.WriteFile(s.path, sealed, 0600)
}

func (s *SecretsStore) loadKey() ([]byte, error) {
	encoded, err := os.ReadFile(s.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read secrets key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("malformed secrets key file")
	}
	return key, nil
}

func (s *SecretsStore) loadOrCreateKey() ([]byte, error) {
	if key, err := s.loadKey(); err == nil {
		return key, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate secrets key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(s.keyPath, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("write secrets key: %w", err)
	}
	return key, nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
