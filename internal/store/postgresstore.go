package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/openroutes/github-oauth/internal/credential"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCredentialTable = "credential_store"
	credentialRecordID     = "github-account"
)

// PostgresStorageConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStorageConfig struct {
	DSN     string
	Schema  string
	Table   string
	KeyPath string
}

// PostgresStorage persists the sealed account record in a single-row table.
// Records are encrypted with the local key file before they leave the process,
// so the database only ever holds ciphertext.
type PostgresStorage struct {
	db     *sql.DB
	cfg    PostgresStorageConfig
	cipher *recordCipher
}

// NewPostgresStorage establishes a connection to PostgreSQL and ensures the schema exists.
func NewPostgresStorage(ctx context.Context, cfg PostgresStorageConfig) (*PostgresStorage, error) {
	trimmedDSN := strings.TrimSpace(cfg.DSN)
	if trimmedDSN == "" {
		return nil, fmt.Errorf("postgres storage: DSN is required")
	}
	cfg.DSN = trimmedDSN
	if cfg.Table == "" {
		cfg.Table = defaultCredentialTable
	}

	cipher, err := newRecordCipher(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: load encryption key: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres storage: ping database: %w", err)
	}

	s := &PostgresStorage{db: db, cfg: cfg, cipher: cipher}
	if err = s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *PostgresStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the credential table (and schema when provided).
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres storage: not initialized")
	}
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres storage: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.tableName())); err != nil {
		return fmt.Errorf("postgres storage: create credential table: %w", err)
	}
	return nil
}

// SaveAccount seals the serialized account and upserts the single credential row.
func (s *PostgresStorage) SaveAccount(ctx context.Context, account *credential.Account) error {
	payload, err := json.Marshal(account)
	if err != nil {
		return &credential.StorageError{Backend: "postgres", Op: "save", Err: err}
	}
	sealed, err := s.cipher.Seal(payload)
	if err != nil {
		return &credential.StorageError{Backend: "postgres", Op: "save", Err: err}
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.tableName())
	if _, err = s.db.ExecContext(ctx, query, credentialRecordID, sealed); err != nil {
		return &credential.StorageError{Backend: "postgres", Op: "save", Err: err}
	}
	return nil
}

// GetAccount loads and opens the sealed row. Read or decryption failures
// degrade to an absent credential.
func (s *PostgresStorage) GetAccount(ctx context.Context) (*credential.Account, error) {
	query := fmt.Sprintf("SELECT content FROM %s WHERE id = $1", s.tableName())
	var sealed []byte
	err := s.db.QueryRowContext(ctx, query, credentialRecordID).Scan(&sealed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		log.WithField("backend", "postgres").Errorf("load credential row failed: %v", err)
		return nil, nil
	}
	payload, err := s.cipher.Open(sealed)
	if err != nil {
		log.WithField("backend", "postgres").Errorf("credential record failed authentication: %v", err)
		return nil, nil
	}
	var account credential.Account
	if err = json.Unmarshal(payload, &account); err != nil {
		log.WithField("backend", "postgres").Errorf("credential record malformed: %v", err)
		return nil, nil
	}
	return &account, nil
}

// Clear deletes the credential row.
func (s *PostgresStorage) Clear(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName())
	if _, err := s.db.ExecContext(ctx, query, credentialRecordID); err != nil {
		return &credential.StorageError{Backend: "postgres", Op: "clear", Err: err}
	}
	return nil
}

func (s *PostgresStorage) tableName() string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(s.cfg.Table)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(s.cfg.Table)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
