// Package api is the authenticated GitHub REST client. Every request loads
// the stored account, attaches the token, retries transient server errors,
// and maps failure responses onto the package's closed error taxonomy.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/credential"
	"github.com/openroutes/github-oauth/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultBaseURL = "https://api.github.com"
	userAgent      = "openroutes-github-oauth"

	maxRetries       = 3
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxDelay    = 4 * time.Second
	insufficientHint = "Resource not accessible by integration"
)

// Client issues authenticated requests against the GitHub REST API.
type Client struct {
	cfg        *config.Config
	storage    credential.SecureStorage
	httpClient *http.Client
}

// NewClient creates a client using the configured proxy settings for
// outbound HTTP.
func NewClient(cfg *config.Config, storage credential.SecureStorage) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	httpClient = util.SetProxy(cfg, httpClient)
	return &Client{cfg: cfg, storage: storage, httpClient: httpClient}
}

// NewClientWithHTTPClient creates a client with an explicit HTTP client,
// used by tests to point at local servers.
func NewClientWithHTTPClient(cfg *config.Config, storage credential.SecureStorage, httpClient *http.Client) *Client {
	return &Client{cfg: cfg, storage: storage, httpClient: httpClient}
}

func (c *Client) baseURL() string {
	if v := strings.TrimSpace(c.cfg.APIBaseURL); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultBaseURL
}

// ListRepos returns the repositories visible to the authenticated user.
func (c *Client) ListRepos(ctx context.Context, query ListReposQuery) ([]Repository, error) {
	params := url.Values{}
	if query.Visibility != "" {
		params.Set("visibility", query.Visibility)
	}
	if query.Affiliation != "" {
		params.Set("affiliation", query.Affiliation)
	}
	if query.Sort != "" {
		params.Set("sort", query.Sort)
	}
	if query.Direction != "" {
		params.Set("direction", query.Direction)
	}
	if query.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(query.PerPage))
	}
	if query.Page > 0 {
		params.Set("page", strconv.Itoa(query.Page))
	}

	body, _, err := c.do(ctx, http.MethodGet, "/user/repos", params, "")
	if err != nil {
		return nil, err
	}
	var repos []Repository
	if err = json.Unmarshal(body, &repos); err != nil {
		return nil, fmt.Errorf("parse repository list: %w", err)
	}
	return repos, nil
}

// ListIssues returns issues of a repository matching the query.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, query ListIssuesQuery) ([]Issue, error) {
	params := url.Values{}
	if query.State != "" {
		params.Set("state", query.State)
	}
	if len(query.Labels) > 0 {
		params.Set("labels", strings.Join(query.Labels, ","))
	}
	if query.Sort != "" {
		params.Set("sort", query.Sort)
	}
	if query.Direction != "" {
		params.Set("direction", query.Direction)
	}
	if !query.Since.IsZero() {
		params.Set("since", query.Since.UTC().Format(time.RFC3339))
	}
	if query.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(query.PerPage))
	}
	if query.Page > 0 {
		params.Set("page", strconv.Itoa(query.Page))
	}

	path := fmt.Sprintf("/repos/%s/%s/issues", owner, repo)
	body, _, err := c.do(ctx, http.MethodGet, path, params, "")
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err = json.Unmarshal(body, &issues); err != nil {
		return nil, fmt.Errorf("parse issue list: %w", err)
	}
	return issues, nil
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error) {
	payload, err := sjson.Set("", "title", title)
	if err == nil && body != "" {
		payload, err = sjson.Set(payload, "body", body)
	}
	if err == nil && len(labels) > 0 {
		payload, err = sjson.Set(payload, "labels", labels)
	}
	if err != nil {
		return nil, fmt.Errorf("build issue body: %w", err)
	}

	path := fmt.Sprintf("/repos/%s/%s/issues", owner, repo)
	respBody, _, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err = json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("parse created issue: %w", err)
	}
	return &issue, nil
}

// CommentIssue adds a comment to an issue.
func (c *Client) CommentIssue(ctx context.Context, owner, repo string, number int, body string) (*IssueComment, error) {
	payload, err := sjson.Set("", "body", body)
	if err != nil {
		return nil, fmt.Errorf("build comment body: %w", err)
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	respBody, _, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return nil, err
	}
	var comment IssueComment
	if err = json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("parse created comment: %w", err)
	}
	return &comment, nil
}

// CloseIssue moves an issue to the closed state.
func (c *Client) CloseIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	payload, err := sjson.Set("", "state", "closed")
	if err != nil {
		return nil, fmt.Errorf("build close body: %w", err)
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	respBody, _, err := c.do(ctx, http.MethodPatch, path, nil, payload)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err = json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("parse closed issue: %w", err)
	}
	return &issue, nil
}

// CheckToken verifies the stored token against the user endpoint and returns
// the identity plus the scopes GitHub currently reports for it.
func (c *Client) CheckToken(ctx context.Context) (*TokenInfo, error) {
	body, resp, err := c.do(ctx, http.MethodGet, "/user", nil, "")
	if err != nil {
		return nil, err
	}
	info := &TokenInfo{
		UserID: gjson.GetBytes(body, "id").Int(),
		Login:  gjson.GetBytes(body, "login").String(),
	}
	if resp != nil {
		info.Scopes = splitScopeHeader(resp.Header.Get("X-OAuth-Scopes"))
	}
	return info, nil
}

// CheckRateLimit returns the core, search, and graphql quotas.
func (c *Client) CheckRateLimit(ctx context.Context) (*RateLimits, error) {
	body, _, err := c.do(ctx, http.MethodGet, "/rate_limit", nil, "")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Resources RateLimits `json:"resources"`
	}
	if err = json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse rate limit response: %w", err)
	}
	return &payload.Resources, nil
}

// CheckRepoAccess probes a repository and reports the token's permissions on
// it. A 404 means the repository is missing or invisible to the token.
func (c *Client) CheckRepoAccess(ctx context.Context, owner, repo string) (*RepoAccess, error) {
	path := fmt.Sprintf("/repos/%s/%s", owner, repo)
	body, _, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	var repoResp Repository
	if err = json.Unmarshal(body, &repoResp); err != nil {
		return nil, fmt.Errorf("parse repository response: %w", err)
	}
	return &RepoAccess{
		FullName:    repoResp.FullName,
		Private:     repoResp.Private,
		Permissions: repoResp.Permissions,
	}, nil
}

// do runs one authenticated request. Server errors are retried with
// exponential backoff; everything else is classified once and returned.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body string) ([]byte, *http.Response, error) {
	account, err := c.storage.GetAccount(ctx)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, &UnauthenticatedError{}
	}

	endpoint := c.baseURL() + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	requestID := uuid.NewString()
	logger := log.WithFields(log.Fields{"request_id": requestID, "path": path})

	var lastStatus int
	var respBody []byte
	var resp *http.Response
	for attempt := 0; ; attempt++ {
		var reqBody io.Reader
		if body != "" {
			reqBody = strings.NewReader(body)
		}
		req, errReq := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if errReq != nil {
			return nil, nil, fmt.Errorf("create request: %w", errReq)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Authorization", fmt.Sprintf("%s %s", account.TokenType, account.AccessToken))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("github request failed: %w", err)
		}
		respBody, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read github response: %w", err)
		}

		lastStatus = resp.StatusCode
		if lastStatus < http.StatusInternalServerError {
			break
		}
		if attempt >= maxRetries {
			break
		}
		delay := retryBaseDelay * (1 << attempt)
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		logger.WithFields(log.Fields{"status": lastStatus, "attempt": attempt + 1, "delay": delay}).Warn("github server error, retrying")
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if lastStatus >= http.StatusBadRequest {
		return nil, nil, classifyError(lastStatus, path, respBody)
	}

	logger.WithFields(log.Fields{"status": lastStatus, "remaining": resp.Header.Get("X-RateLimit-Remaining")}).Debug("github request complete")
	if lastStatus == http.StatusNoContent {
		return nil, resp, nil
	}
	return respBody, resp, nil
}

// classifyError maps a GitHub failure response onto the closed taxonomy.
func classifyError(status int, path string, body []byte) error {
	message := gjson.GetBytes(body, "message").String()

	if status == http.StatusUnprocessableEntity {
		ve := &ValidationError{Message: message}
		for _, f := range gjson.GetBytes(body, "errors").Array() {
			ve.Fields = append(ve.Fields, ValidationFailure{
				Resource: f.Get("resource").String(),
				Field:    f.Get("field").String(),
				Code:     f.Get("code").String(),
				Message:  f.Get("message").String(),
			})
		}
		return ve
	}
	if strings.Contains(message, insufficientHint) {
		return &InsufficientScopeError{Message: message}
	}
	if status == http.StatusUnauthorized &&
		(strings.Contains(message, "Bad credentials") || strings.Contains(strings.ToLower(message), "expired")) {
		return &TokenRevokedError{Message: message}
	}
	if status == http.StatusNotFound {
		return &NotFoundError{Resource: path}
	}
	return &APIError{
		StatusCode:       status,
		Message:          message,
		DocumentationURL: gjson.GetBytes(body, "documentation_url").String(),
	}
}

func splitScopeHeader(raw string) []string {
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
