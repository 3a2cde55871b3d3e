// Package githubauth provides the public SDK surface of the GitHub
// credential core.
//
// It re-exports the internal types and constructors so the rest of the
// OpenRoutes application can authorize against GitHub, store the credential,
// and issue API calls without importing internal packages.
package githubauth

import (
	"context"
	"net/http"

	"github.com/openroutes/github-oauth/internal/api"
	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/credential"
	"github.com/openroutes/github-oauth/internal/oauth"
	"github.com/openroutes/github-oauth/internal/session"
	"github.com/openroutes/github-oauth/internal/store"
)

// Configuration.
type Config = config.Config
type StorageConfig = config.StorageConfig
type SessionConfig = config.SessionConfig
type HealthRepoConfig = config.HealthRepoConfig

// Credential model and storage contract.
type Account = credential.Account
type SecureStorage = credential.SecureStorage
type StorageError = credential.StorageError

// Storage backends.
type MemoryStorage = store.MemoryStorage
type FileStorage = store.FileStorage
type PostgresStorage = store.PostgresStorage
type ObjectStorage = store.ObjectStorage

// Authorization flows.
type Orchestrator = oauth.Orchestrator
type Flow = oauth.Flow
type StartOptions = oauth.StartOptions
type AuthorizationStart = oauth.AuthorizationStart
type AuthorizationResult = oauth.AuthorizationResult
type DeviceFlowSession = oauth.DeviceFlowSession
type CsrfStateError = oauth.CsrfStateError
type DeviceFlowError = oauth.DeviceFlowError
type CallbackServer = oauth.CallbackServer
type CallbackResult = oauth.CallbackResult

const (
	FlowAuto     = oauth.FlowAuto
	FlowAuthCode = oauth.FlowAuthCode
	FlowDevice   = oauth.FlowDevice
)

// State store contract.
type StateStore = session.StateStore

// API client.
type Client = api.Client
type Repository = api.Repository
type Issue = api.Issue
type IssueComment = api.IssueComment
type ListReposQuery = api.ListReposQuery
type ListIssuesQuery = api.ListIssuesQuery
type TokenInfo = api.TokenInfo
type RateLimits = api.RateLimits
type RepoAccess = api.RepoAccess

// LoadConfig reads, validates, and returns the configuration file.
func LoadConfig(configFile string) (*Config, error) { return config.LoadConfig(configFile) }

// NewSecureStorage selects a credential backend from the configuration.
func NewSecureStorage(ctx context.Context, cfg *Config) (SecureStorage, error) {
	return store.NewSecureStorage(ctx, cfg)
}

// NewStateStore selects a state store backend from the configuration.
func NewStateStore(cfg *Config) StateStore { return session.NewStateStore(cfg) }

// NewOrchestrator wires an authorization orchestrator.
func NewOrchestrator(cfg *Config, storage SecureStorage, states StateStore) *Orchestrator {
	return oauth.NewOrchestrator(cfg, storage, states)
}

// NewCallbackServer creates the local server for the authorization-code
// redirect.
func NewCallbackServer(port int) *CallbackServer { return oauth.NewCallbackServer(port) }

// NewClient wires an authenticated GitHub API client.
func NewClient(cfg *Config, storage SecureStorage) *Client { return api.NewClient(cfg, storage) }

// NewClientWithHTTPClient wires a client with a caller-supplied HTTP client.
func NewClientWithHTTPClient(cfg *Config, storage SecureStorage, httpClient *http.Client) *Client {
	return api.NewClientWithHTTPClient(cfg, storage, httpClient)
}

// Error classification helpers.
var (
	IsUnauthenticated   = api.IsUnauthenticated
	IsTokenRevoked      = api.IsTokenRevoked
	IsInsufficientScope = api.IsInsufficientScope
	IsNotFound          = api.IsNotFound
	IsValidationError   = api.IsValidationError
	IsCsrfStateError    = oauth.IsCsrfStateError
	IsDeviceFlowExpired = oauth.IsDeviceFlowExpired
	IsDeviceFlowDenied  = oauth.IsDeviceFlowDenied
)
