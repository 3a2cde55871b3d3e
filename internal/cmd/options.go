// Package cmd implements the githubauth CLI commands: the two login flows,
// account inspection, the repository health check, and credential revocation.
package cmd

import (
	"context"
	"net/url"
	"strconv"

	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/credential"
	"github.com/openroutes/github-oauth/internal/oauth"
	"github.com/openroutes/github-oauth/internal/session"
	"github.com/openroutes/github-oauth/internal/store"
)

// LoginOptions configures the behavior of the authentication flows.
type LoginOptions struct {
	// NoBrowser disables automatic browser opening for the auth-code flow.
	NoBrowser bool
	// CallbackPort overrides the port parsed from the redirect URI.
	CallbackPort int
	// Scopes overrides the configured default scopes.
	Scopes []string
}

// buildStack wires storage, state store, and orchestrator from the config.
func buildStack(ctx context.Context, cfg *config.Config) (credential.SecureStorage, *oauth.Orchestrator, error) {
	storage, err := store.NewSecureStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	states := session.NewStateStore(cfg)
	return storage, oauth.NewOrchestrator(cfg, storage, states), nil
}

// callbackPort resolves the local callback port: an explicit override wins,
// else the port of the configured redirect URI, else the scheme default.
func callbackPort(cfg *config.Config, options *LoginOptions) int {
	if options != nil && options.CallbackPort > 0 {
		return options.CallbackPort
	}
	parsed, err := url.Parse(cfg.RedirectURI)
	if err != nil {
		return 0
	}
	if p := parsed.Port(); p != "" {
		if port, errConv := strconv.Atoi(p); errConv == nil {
			return port
		}
	}
	if parsed.Scheme == "https" {
		return 443
	}
	return 80
}
