package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/openroutes/github-oauth/internal/credential"
	log "github.com/sirupsen/logrus"
)

const (
	credentialFileName = "github-oauth.dat"
	keyFileName        = "github-oauth.key"
)

// FileStorage persists the sealed account record in a single owner-only file.
// The symmetric key lives in a sibling 0600 key file created on first use, so
// losing the key (or tampering with the ciphertext) reads as "no credential"
// rather than an error.
type FileStorage struct {
	mu       sync.Mutex
	dir      string
	dataPath string
	keyPath  string
	cipher   *recordCipher
}

// NewFileStorage creates a file store rooted at dir. The directory is created
// lazily on the first write.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{
		dir:      dir,
		dataPath: filepath.Join(dir, credentialFileName),
		keyPath:  filepath.Join(dir, keyFileName),
	}
}

// DefaultCredentialDir returns the per-user credential directory.
func DefaultCredentialDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".openroutes")
	}
	return filepath.Join(home, ".config", "openroutes")
}

func (s *FileStorage) ensureCipher() (*recordCipher, error) {
	if s.cipher != nil {
		return s.cipher, nil
	}
	c, err := newRecordCipher(s.keyPath)
	if err != nil {
		return nil, err
	}
	s.cipher = c
	return c, nil
}

// SaveAccount seals the serialized account and writes it with owner-only permissions.
func (s *FileStorage) SaveAccount(_ context.Context, account *credential.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ensureCipher()
	if err != nil {
		return &credential.StorageError{Backend: "file", Op: "save", Err: err}
	}
	payload, err := json.Marshal(account)
	if err != nil {
		return &credential.StorageError{Backend: "file", Op: "save", Err: err}
	}
	sealed, err := c.Seal(payload)
	if err != nil {
		return &credential.StorageError{Backend: "file", Op: "save", Err: err}
	}
	if err = os.MkdirAll(s.dir, 0o700); err != nil {
		return &credential.StorageError{Backend: "file", Op: "save", Err: err}
	}
	if err = os.WriteFile(s.dataPath, sealed, 0o600); err != nil {
		return &credential.StorageError{Backend: "file", Op: "save", Err: err}
	}
	return nil
}

// GetAccount loads and opens the sealed record. Read or decryption failures
// degrade to an absent credential.
func (s *FileStorage) GetAccount(_ context.Context) (*credential.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.dataPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithField("backend", "file").Errorf("read credential file failed: %v", err)
		}
		return nil, nil
	}
	c, err := s.ensureCipher()
	if err != nil {
		log.WithField("backend", "file").Errorf("credential key unavailable: %v", err)
		return nil, nil
	}
	payload, err := c.Open(sealed)
	if err != nil {
		log.WithField("backend", "file").Errorf("credential record failed authentication: %v", err)
		return nil, nil
	}
	var account credential.Account
	if err = json.Unmarshal(payload, &account); err != nil {
		log.WithField("backend", "file").Errorf("credential record malformed: %v", err)
		return nil, nil
	}
	return &account, nil
}

// Clear deletes the credential file, leaving the key file in place for reuse.
func (s *FileStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.dataPath); err != nil && !os.IsNotExist(err) {
		return &credential.StorageError{Backend: "file", Op: "clear", Err: err}
	}
	return nil
}
