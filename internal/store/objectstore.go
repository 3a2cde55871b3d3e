package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/openroutes/github-oauth/internal/credential"
	log "github.com/sirupsen/logrus"
)

const credentialObjectKey = "credentials/github-account.dat"

// ObjectStorageConfig captures configuration for the S3-compatible credential store.
type ObjectStorageConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	KeyPath   string
}

// ObjectStorage persists the sealed account record as a single object in an
// S3-compatible bucket. Records are encrypted with the local key file before
// upload, so the bucket only ever holds ciphertext.
type ObjectStorage struct {
	client *minio.Client
	cfg    ObjectStorageConfig
	cipher *recordCipher
}

// NewObjectStorage initializes an object storage backed credential store and
// ensures the bucket exists.
func NewObjectStorage(ctx context.Context, cfg ObjectStorageConfig) (*ObjectStorage, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object storage: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage: bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("object storage: access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("object storage: secret key is required")
	}

	cipher, err := newRecordCipher(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("object storage: load encryption key: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage: create client: %w", err)
	}

	s := &ObjectStorage{client: client, cfg: cfg, cipher: cipher}
	if err = s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ObjectStorage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object storage: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object storage: create bucket: %w", err)
	}
	return nil
}

// SaveAccount seals the serialized account and uploads it as the credential object.
func (s *ObjectStorage) SaveAccount(ctx context.Context, account *credential.Account) error {
	payload, err := json.Marshal(account)
	if err != nil {
		return &credential.StorageError{Backend: "object", Op: "save", Err: err}
	}
	sealed, err := s.cipher.Seal(payload)
	if err != nil {
		return &credential.StorageError{Backend: "object", Op: "save", Err: err}
	}
	reader := bytes.NewReader(sealed)
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, credentialObjectKey, reader, int64(len(sealed)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return &credential.StorageError{Backend: "object", Op: "save", Err: err}
	}
	return nil
}

// GetAccount downloads and opens the sealed object. Download or decryption
// failures degrade to an absent credential.
func (s *ObjectStorage) GetAccount(ctx context.Context) (*credential.Account, error) {
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, credentialObjectKey, minio.GetObjectOptions{})
	if err != nil {
		log.WithField("backend", "object").Errorf("fetch credential object failed: %v", err)
		return nil, nil
	}
	defer func() { _ = object.Close() }()
	sealed, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, nil
		}
		log.WithField("backend", "object").Errorf("read credential object failed: %v", err)
		return nil, nil
	}
	payload, err := s.cipher.Open(sealed)
	if err != nil {
		log.WithField("backend", "object").Errorf("credential record failed authentication: %v", err)
		return nil, nil
	}
	var account credential.Account
	if err = json.Unmarshal(payload, &account); err != nil {
		log.WithField("backend", "object").Errorf("credential record malformed: %v", err)
		return nil, nil
	}
	return &account, nil
}

// Clear removes the credential object, treating a missing object as success.
func (s *ObjectStorage) Clear(ctx context.Context) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, credentialObjectKey, minio.RemoveObjectOptions{})
	if err != nil && !isObjectNotFound(err) {
		return &credential.StorageError{Backend: "object", Op: "clear", Err: err}
	}
	return nil
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
