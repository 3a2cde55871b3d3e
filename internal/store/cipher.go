package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// recordCipher seals and opens serialized account records with
// ChaCha20-Poly1305. The 32-byte key lives in a 0600 key file next to the
// credential data, generated on first use and persisted once.
type recordCipher struct {
	aead cipher.AEAD
}

// loadOrCreateKey reads the symmetric key from keyPath, generating and
// persisting a fresh one when the file does not exist yet.
func loadOrCreateKey(keyPath string) ([]byte, error) {
	raw, err := os.ReadFile(keyPath)
	if err == nil {
		key, errDecode := base64.StdEncoding.DecodeString(string(raw))
		if errDecode != nil || len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("store: key file %s is corrupt", keyPath)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read key file: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err = rand.Read(key); err != nil {
		return nil, fmt.Errorf("store: generate key: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("store: create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err = os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("store: persist key file: %w", err)
	}
	return key, nil
}

// newRecordCipher builds the AEAD from the key file at keyPath.
func newRecordCipher(keyPath string) (*recordCipher, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("store: init cipher: %w", err)
	}
	return &recordCipher{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce. Layout: nonce||ciphertext.
func (c *recordCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("store: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed record, verifying the authentication tag.
func (c *recordCipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < c.aead.NonceSize() {
		return nil, fmt.Errorf("store: sealed record too short")
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("store: decrypt record: %w", err)
	}
	return plaintext, nil
}
