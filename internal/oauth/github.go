// Package oauth implements the GitHub authorization flows: the
// authorization-code grant with a local callback server and the RFC 8628
// device authorization grant. Successful flows persist the resulting account
// through the configured credential storage.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openroutes/github-oauth/internal/browser"
	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/credential"
	"github.com/openroutes/github-oauth/internal/session"
	"github.com/openroutes/github-oauth/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

const (
	defaultOAuthBaseURL = "https://github.com"
	defaultAPIBaseURL   = "https://api.github.com"

	deviceCodePath  = "/login/device/code"
	accessTokenPath = "/login/oauth/access_token"

	// privateRepoScope unlocks private repositories when the configuration
	// allows it.
	privateRepoScope = "repo"

	defaultDeviceInterval = 5 * time.Second
	maxDeviceInterval     = 30 * time.Second
	slowDownStep          = 5 * time.Second
)

// Flow identifies which authorization grant a login attempt uses.
type Flow string

const (
	// FlowAuto picks the authorization-code flow when a browser is available
	// and falls back to the device flow otherwise.
	FlowAuto Flow = "auto"
	// FlowAuthCode forces the browser-based authorization-code grant.
	FlowAuthCode Flow = "auth_code"
	// FlowDevice forces the device authorization grant.
	FlowDevice Flow = "device"
)

// StartOptions controls scope selection and flow choice for a login attempt.
type StartOptions struct {
	// Scopes overrides the configured default scopes when non-empty.
	Scopes []string
	// Flow selects the grant; FlowAuto lets the orchestrator decide.
	Flow Flow
}

// AuthorizationStart describes a freshly started login attempt. Exactly one
// of AuthorizationURL/State (auth-code) or Device (device flow) is populated.
type AuthorizationStart struct {
	Flow             Flow
	AuthorizationURL string
	State            string
	Device           *DeviceFlowSession
}

// DeviceFlowSession holds the provider's device authorization response.
type DeviceFlowSession struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int
	Interval                int
	Scopes                  []string
	startedAt               time.Time
}

// TokenGrant is the token material GitHub issued for a completed flow.
type TokenGrant struct {
	AccessToken string
	TokenType   string
	Scopes      []string
}

// UserProfile is the authenticated user's identity as reported by the API.
type UserProfile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// AuthorizationResult is the outcome of a completed authorization flow.
type AuthorizationResult struct {
	Account *credential.Account
	Token   TokenGrant
	User    UserProfile
}

// Orchestrator drives GitHub authorization flows end to end.
type Orchestrator struct {
	cfg        *config.Config
	storage    credential.SecureStorage
	states     session.StateStore
	httpClient *http.Client
}

// NewOrchestrator creates an orchestrator using the configured proxy settings
// for outbound HTTP.
func NewOrchestrator(cfg *config.Config, storage credential.SecureStorage, states session.StateStore) *Orchestrator {
	client := &http.Client{Timeout: 30 * time.Second}
	client = util.SetProxy(cfg, client)
	return &Orchestrator{
		cfg:        cfg,
		storage:    storage,
		states:     states,
		httpClient: client,
	}
}

// NewOrchestratorWithClient creates an orchestrator with an explicit HTTP
// client, used by tests to point at local servers.
func NewOrchestratorWithClient(cfg *config.Config, storage credential.SecureStorage, states session.StateStore, client *http.Client) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		storage:    storage,
		states:     states,
		httpClient: client,
	}
}

func (o *Orchestrator) oauthBaseURL() string {
	if v := strings.TrimSpace(o.cfg.OAuthBaseURL); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultOAuthBaseURL
}

func (o *Orchestrator) apiBaseURL() string {
	if v := strings.TrimSpace(o.cfg.APIBaseURL); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultAPIBaseURL
}

func (o *Orchestrator) oauth2Config(scopes []string) *oauth2.Config {
	endpoint := githuboauth.Endpoint
	if base := strings.TrimSpace(o.cfg.OAuthBaseURL); base != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:  o.oauthBaseURL() + "/login/oauth/authorize",
			TokenURL: o.oauthBaseURL() + accessTokenPath,
		}
	}
	return &oauth2.Config{
		ClientID:     o.cfg.ClientID,
		ClientSecret: o.cfg.ClientSecret,
		RedirectURL:  o.cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}

// ResolveScopes returns the effective scope list for a login attempt: an
// explicit override wins over the configured defaults, and the private
// repository scope is appended when the configuration allows private repos.
// The result is de-duplicated preserving first occurrence order.
func (o *Orchestrator) ResolveScopes(requested []string) []string {
	base := requested
	if len(base) == 0 {
		base = o.cfg.DefaultScopes
	}
	if o.cfg.AllowPrivateRepo {
		base = append(append([]string{}, base...), privateRepoScope)
	}
	seen := make(map[string]bool, len(base))
	scopes := make([]string, 0, len(base))
	for _, s := range base {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		scopes = append(scopes, s)
	}
	return scopes
}

// StartAuthorization begins a login attempt. The authorization-code flow is
// chosen when a browser is available or explicitly forced; otherwise the
// device flow is started.
func (o *Orchestrator) StartAuthorization(ctx context.Context, opts StartOptions) (*AuthorizationStart, error) {
	scopes := o.ResolveScopes(opts.Scopes)

	flow := opts.Flow
	if flow == "" || flow == FlowAuto {
		if browser.IsAvailable() {
			flow = FlowAuthCode
		} else {
			flow = FlowDevice
		}
	}
	log.WithFields(log.Fields{"flow": flow, "scopes": strings.Join(scopes, " ")}).Info("starting github authorization")

	switch flow {
	case FlowAuthCode:
		state, err := session.NewStateToken()
		if err != nil {
			return nil, err
		}
		if err = o.states.SetState(ctx, state, time.Now().Add(session.StateTokenTTL)); err != nil {
			return nil, fmt.Errorf("register authorization state: %w", err)
		}
		authURL := o.oauth2Config(scopes).AuthCodeURL(state, oauth2.SetAuthURLParam("allow_signup", "false"))
		return &AuthorizationStart{
			Flow:             FlowAuthCode,
			AuthorizationURL: authURL,
			State:            state,
		}, nil
	case FlowDevice:
		deviceSession, err := o.requestDeviceCode(ctx, scopes)
		if err != nil {
			return nil, err
		}
		return &AuthorizationStart{Flow: FlowDevice, Device: deviceSession}, nil
	default:
		return nil, fmt.Errorf("unknown authorization flow %q", flow)
	}
}

// HandleAuthorizationCodeCallback completes the authorization-code flow for a
// callback carrying code and state. The state is consumed before any network
// call, so a replayed or forged callback fails without touching GitHub.
func (o *Orchestrator) HandleAuthorizationCodeCallback(ctx context.Context, code, state string) (*AuthorizationResult, error) {
	ok, err := o.states.ConsumeState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("consume authorization state: %w", err)
	}
	if !ok {
		log.WithField("flow", FlowAuthCode).Warn("callback carried an unknown or expired state")
		return nil, &CsrfStateError{State: state}
	}

	grant, err := o.exchangeAuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return o.finalizeAuthorization(ctx, grant)
}

// WaitForDeviceToken polls the token endpoint until the user authorizes the
// device, the code expires, or the context is cancelled.
func (o *Orchestrator) WaitForDeviceToken(ctx context.Context, deviceSession *DeviceFlowSession) (*AuthorizationResult, error) {
	if deviceSession == nil {
		return nil, fmt.Errorf("device session is nil")
	}

	interval := time.Duration(deviceSession.Interval) * time.Second
	if interval <= 0 {
		interval = defaultDeviceInterval
	}
	startedAt := deviceSession.startedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	deadline := startedAt.Add(time.Duration(deviceSession.ExpiresIn) * time.Second)

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("device authorization cancelled: %w", ctx.Err())
		case <-time.After(interval):
		}
		if time.Now().After(deadline) {
			return nil, &DeviceFlowError{Kind: DeviceFlowExpired}
		}

		grant, err := o.exchangeDeviceCode(ctx, deviceSession.DeviceCode)
		if err == nil {
			return o.finalizeAuthorization(ctx, grant)
		}
		var dfErr *DeviceFlowError
		if !errors.As(err, &dfErr) {
			return nil, err
		}
		switch dfErr.Kind {
		case DeviceFlowPending:
			log.WithFields(log.Fields{"flow": FlowDevice, "interval": interval}).Debug("device authorization pending")
		case DeviceFlowSlowDown:
			interval = bumpPollInterval(interval)
			log.WithFields(log.Fields{"flow": FlowDevice, "interval": interval}).Debug("device flow slow down")
		default:
			return nil, dfErr
		}
	}
}

// bumpPollInterval grows the device-flow poll interval after a slow_down
// response, capped at maxDeviceInterval.
func bumpPollInterval(interval time.Duration) time.Duration {
	interval += slowDownStep
	if interval > maxDeviceInterval {
		interval = maxDeviceInterval
	}
	return interval
}

// RevokeToken revokes the stored grant at GitHub and clears local storage.
// The local credential is cleared even when the remote call fails, so a
// revoked or unreachable grant never lingers on disk.
func (o *Orchestrator) RevokeToken(ctx context.Context) error {
	account, err := o.storage.GetAccount(ctx)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}

	revokeErr := o.deleteGrant(ctx, account.AccessToken)
	if clearErr := o.storage.Clear(ctx); clearErr != nil {
		if revokeErr != nil {
			log.Errorf("grant revocation failed before storage clear failure: %v", revokeErr)
		}
		return clearErr
	}
	return revokeErr
}

// SignOut clears the local credential without contacting GitHub.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	return o.storage.Clear(ctx)
}

// CurrentAccount returns the stored account, or nil when signed out.
func (o *Orchestrator) CurrentAccount(ctx context.Context) (*credential.Account, error) {
	return o.storage.GetAccount(ctx)
}

func (o *Orchestrator) requestDeviceCode(ctx context.Context, scopes []string) (*DeviceFlowSession, error) {
	data := url.Values{}
	data.Set("client_id", o.cfg.ClientID)
	data.Set("scope", strings.Join(scopes, " "))

	body, err := o.postForm(ctx, o.oauthBaseURL()+deviceCodePath, data)
	if err != nil {
		return nil, fmt.Errorf("device code request failed: %w", err)
	}
	if code := gjson.GetBytes(body, "error"); code.Exists() && code.String() != "" {
		return nil, &DeviceFlowError{
			Kind:        DeviceFlowFailed,
			Description: fmt.Sprintf("%s: %s", code.String(), gjson.GetBytes(body, "error_description").String()),
		}
	}

	var payload struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
		Interval                int    `json:"interval"`
	}
	if err = json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse device code response: %w", err)
	}
	if payload.DeviceCode == "" {
		return nil, fmt.Errorf("device code response missing device_code")
	}
	if payload.Interval <= 0 {
		payload.Interval = int(defaultDeviceInterval / time.Second)
	}
	return &DeviceFlowSession{
		DeviceCode:              payload.DeviceCode,
		UserCode:                payload.UserCode,
		VerificationURI:         payload.VerificationURI,
		VerificationURIComplete: payload.VerificationURIComplete,
		ExpiresIn:               payload.ExpiresIn,
		Interval:                payload.Interval,
		Scopes:                  scopes,
		startedAt:               time.Now(),
	}, nil
}

func (o *Orchestrator) exchangeAuthorizationCode(ctx context.Context, code string) (*tokenGrantResponse, error) {
	data := url.Values{}
	data.Set("client_id", o.cfg.ClientID)
	data.Set("client_secret", o.cfg.ClientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", o.cfg.RedirectURI)
	return o.exchangeToken(ctx, data)
}

func (o *Orchestrator) exchangeDeviceCode(ctx context.Context, deviceCode string) (*tokenGrantResponse, error) {
	data := url.Values{}
	data.Set("client_id", o.cfg.ClientID)
	data.Set("device_code", deviceCode)
	data.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	return o.exchangeToken(ctx, data)
}

// tokenGrantResponse is GitHub's access_token payload.
type tokenGrantResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// exchangeToken posts to the access_token endpoint. GitHub signals flow
// errors inside a 200 body, so the error field is checked before the token.
func (o *Orchestrator) exchangeToken(ctx context.Context, data url.Values) (*tokenGrantResponse, error) {
	body, err := o.postForm(ctx, o.oauthBaseURL()+accessTokenPath, data)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	if code := gjson.GetBytes(body, "error"); code.Exists() && code.String() != "" {
		description := gjson.GetBytes(body, "error_description").String()
		switch code.String() {
		case string(DeviceFlowPending):
			return nil, &DeviceFlowError{Kind: DeviceFlowPending}
		case string(DeviceFlowSlowDown):
			return nil, &DeviceFlowError{Kind: DeviceFlowSlowDown}
		case string(DeviceFlowExpired):
			return nil, &DeviceFlowError{Kind: DeviceFlowExpired, Description: description}
		case string(DeviceFlowDenied):
			return nil, &DeviceFlowError{Kind: DeviceFlowDenied, Description: description}
		default:
			return nil, fmt.Errorf("token exchange rejected: %s: %s", code.String(), description)
		}
	}

	var grant tokenGrantResponse
	if err = json.Unmarshal(body, &grant); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	if grant.TokenType == "" {
		grant.TokenType = "token"
	}
	return &grant, nil
}

// finalizeAuthorization fetches the authenticated user and persists the
// account. Granted scopes come from the X-OAuth-Scopes response header when
// present, else from the token response.
func (o *Orchestrator) finalizeAuthorization(ctx context.Context, grant *tokenGrantResponse) (*AuthorizationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBaseURL()+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create user request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", fmt.Sprintf("%s %s", grant.TokenType, grant.AccessToken))

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch authenticated user: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read user response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch authenticated user: status %d", resp.StatusCode)
	}

	var user UserProfile
	if err = json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("parse user response: %w", err)
	}

	scopes := splitScopes(resp.Header.Get("X-OAuth-Scopes"))
	if len(scopes) == 0 {
		scopes = splitScopes(grant.Scope)
	}

	account := &credential.Account{
		UserID:      user.ID,
		Login:       user.Login,
		AvatarURL:   user.AvatarURL,
		AccessToken: grant.AccessToken,
		TokenType:   grant.TokenType,
		Scopes:      scopes,
		CreatedAt:   time.Now().UTC(),
	}
	if err = o.storage.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"scopes": strings.Join(scopes, ",")}).Info("github authorization complete")

	return &AuthorizationResult{
		Account: account,
		Token: TokenGrant{
			AccessToken: grant.AccessToken,
			TokenType:   grant.TokenType,
			Scopes:      scopes,
		},
		User: user,
	}, nil
}

// deleteGrant removes the application grant at GitHub. A 404 means the grant
// is already gone and is treated as success.
func (o *Orchestrator) deleteGrant(ctx context.Context, token string) error {
	payload, err := sjson.Set("", "access_token", token)
	if err != nil {
		return fmt.Errorf("marshal revoke body: %w", err)
	}
	endpoint := fmt.Sprintf("%s/applications/%s/grant", o.apiBaseURL(), o.cfg.ClientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(o.cfg.ClientID, o.cfg.ClientSecret)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		log.Debug("grant already revoked at github")
		return nil
	default:
		return fmt.Errorf("revoke grant: status %d", resp.StatusCode)
	}
}

func (o *Orchestrator) postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func splitScopes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}
