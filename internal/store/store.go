package store

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/credential"
	log "github.com/sirupsen/logrus"
)

// NewSecureStorage selects a credential backend from the configuration.
// A Postgres DSN wins over an object storage endpoint; with neither set the
// local encrypted file store is used. All backends share the same key file
// under the credential directory.
func NewSecureStorage(ctx context.Context, cfg *config.Config) (credential.SecureStorage, error) {
	dir := strings.TrimSpace(cfg.CredentialDir)
	if dir == "" {
		dir = DefaultCredentialDir()
	}
	keyPath := filepath.Join(dir, keyFileName)

	if dsn := strings.TrimSpace(cfg.Storage.PostgresDSN); dsn != "" {
		log.WithField("backend", "postgres").Debug("using postgres credential storage")
		return NewPostgresStorage(ctx, PostgresStorageConfig{
			DSN:     dsn,
			Schema:  cfg.Storage.PostgresSchema,
			KeyPath: keyPath,
		})
	}
	if endpoint := strings.TrimSpace(cfg.Storage.Object.Endpoint); endpoint != "" {
		log.WithField("backend", "object").Debug("using object credential storage")
		return NewObjectStorage(ctx, ObjectStorageConfig{
			Endpoint:  endpoint,
			Bucket:    cfg.Storage.Object.Bucket,
			AccessKey: cfg.Storage.Object.AccessKey,
			SecretKey: cfg.Storage.Object.SecretKey,
			UseSSL:    cfg.Storage.Object.UseSSL,
			KeyPath:   keyPath,
		})
	}
	log.WithField("backend", "file").Debug("using file credential storage")
	return NewFileStorage(dir), nil
}
