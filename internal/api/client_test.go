package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/credential"
	"github.com/openroutes/github-oauth/internal/store"
	"github.com/tidwall/gjson"
)

func newTestClient(t *testing.T, srvURL string) (*Client, *store.MemoryStorage) {
	t.Helper()
	storage := store.NewMemoryStorage()
	cfg := &config.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://127.0.0.1:8910/callback",
		APIBaseURL:   srvURL,
	}
	client := NewClientWithHTTPClient(cfg, storage, &http.Client{Timeout: 5 * time.Second})
	return client, storage
}

func seedAccount(t *testing.T, storage *store.MemoryStorage) {
	t.Helper()
	err := storage.SaveAccount(context.Background(), &credential.Account{
		UserID:      1,
		Login:       "demo",
		AccessToken: "gho_testtoken",
		TokenType:   "token",
		Scopes:      []string{"read:user", "public_repo"},
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
}

func TestRequestFailsFastWithoutAccount(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached the server without a stored account")
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	_, err := client.ListRepos(context.Background(), ListReposQuery{})
	if !IsUnauthenticated(err) {
		t.Fatalf("err = %v, want UnauthenticatedError", err)
	}
}

func TestRequestCarriesStoredTokenVerbatim(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token gho_testtoken" {
			t.Errorf("Authorization = %q, want token type preserved", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.github+json" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "openroutes-github-oauth" {
			t.Errorf("User-Agent = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, storage := newTestClient(t, srv.URL)
	seedAccount(t, storage)
	if _, err := client.ListRepos(context.Background(), ListReposQuery{}); err != nil {
		t.Fatalf("ListRepos: %v", err)
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 1, "name": "routes", "full_name": "demo/routes"}]`))
	}))
	defer srv.Close()

	client, storage := newTestClient(t, srv.URL)
	seedAccount(t, storage)
	repos, err := client.ListRepos(context.Background(), ListReposQuery{})
	if err != nil {
		t.Fatalf("ListRepos: %v", err)
	}
	if len(repos) != 1 || repos[0].FullName != "demo/routes" {
		t.Fatalf("repos = %+v", repos)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer srv.Close()

	client, storage := newTestClient(t, srv.URL)
	seedAccount(t, storage)
	_, err := client.CheckRepoAccess(context.Background(), "demo", "missing")
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "validation with fields",
			status: 422,
			body:   `{"message":"Validation Failed","errors":[{"resource":"Issue","field":"title","code":"missing_field"}]}`,
			check:  IsValidationError,
		},
		{
			name:   "insufficient scope",
			status: 403,
			body:   `{"message":"Resource not accessible by integration"}`,
			check:  IsInsufficientScope,
		},
		{
			name:   "bad credentials",
			status: 401,
			body:   `{"message":"Bad credentials"}`,
			check:  IsTokenRevoked,
		},
		{
			name:   "expired token",
			status: 401,
			body:   `{"message":"This token has expired"}`,
			check:  IsTokenRevoked,
		},
		{
			name:   "not found",
			status: 404,
			body:   `{"message":"Not Found"}`,
			check:  IsNotFound,
		},
		{
			name:   "generic forbidden",
			status: 403,
			body:   `{"message":"API rate limit exceeded","documentation_url":"https://docs.github.com"}`,
			check: func(err error) bool {
				apiErr, ok := err.(*APIError)
				return ok && apiErr.StatusCode == 403 && apiErr.DocumentationURL != ""
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classifyError(tt.status, "/some/path", []byte(tt.body))
			if !tt.check(err) {
				t.Fatalf("classifyError(%d) = %v, wrong classification", tt.status, err)
			}
		})
	}
}

func TestValidationErrorCarriesFields(t *testing.T) {
	t.Parallel()
	err := classifyError(422, "/repos/demo/routes/issues",
		[]byte(`{"message":"Validation Failed","errors":[{"resource":"Issue","field":"title","code":"missing_field","message":"title is required"}]}`))
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
	if len(ve.Fields) != 1 || ve.Fields[0].Field != "title" || ve.Fields[0].Code != "missing_field" {
		t.Fatalf("fields = %+v", ve.Fields)
	}
}

func TestCreateIssueBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		buf, _ := io.ReadAll(r.Body)
		if got := gjson.GetBytes(buf, "title").String(); got != "healthcheck" {
			t.Errorf("title = %q", got)
		}
		if got := gjson.GetBytes(buf, "labels.0").String(); got != "automated" {
			t.Errorf("labels = %s", gjson.GetBytes(buf, "labels").Raw)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 10, "number": 3, "title": "healthcheck", "state": "open"}`))
	}))
	defer srv.Close()

	client, storage := newTestClient(t, srv.URL)
	seedAccount(t, storage)
	issue, err := client.CreateIssue(context.Background(), "demo", "routes", "healthcheck", "probe body", []string{"automated"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if issue.Number != 3 || issue.State != "open" {
		t.Fatalf("issue = %+v", issue)
	}
}

func TestCloseIssuePatchesState(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if r.URL.Path != "/repos/demo/routes/issues/3" {
			t.Errorf("path = %s", r.URL.Path)
		}
		buf, _ := io.ReadAll(r.Body)
		if got := gjson.GetBytes(buf, "state").String(); got != "closed" {
			t.Errorf("state = %q", got)
		}
		_, _ = w.Write([]byte(`{"id": 10, "number": 3, "state": "closed"}`))
	}))
	defer srv.Close()

	client, storage := newTestClient(t, srv.URL)
	seedAccount(t, storage)
	issue, err := client.CloseIssue(context.Background(), "demo", "routes", 3)
	if err != nil {
		t.Fatalf("CloseIssue: %v", err)
	}
	if issue.State != "closed" {
		t.Fatalf("state = %q", issue.State)
	}
}

func TestCheckTokenReportsHeaderScopes(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "read:user, public_repo")
		_, _ = w.Write([]byte(`{"id": 42, "login": "demo"}`))
	}))
	defer srv.Close()

	client, storage := newTestClient(t, srv.URL)
	seedAccount(t, storage)
	info, err := client.CheckToken(context.Background())
	if err != nil {
		t.Fatalf("CheckToken: %v", err)
	}
	if info.Login != "demo" || info.UserID != 42 {
		t.Fatalf("info = %+v", info)
	}
	if len(info.Scopes) != 2 || info.Scopes[1] != "public_repo" {
		t.Fatalf("scopes = %v", info.Scopes)
	}
}

func TestCheckRateLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rate_limit" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"resources": {
			"core": {"limit": 5000, "remaining": 4990, "reset": 1700000000},
			"search": {"limit": 30, "remaining": 30, "reset": 1700000000},
			"graphql": {"limit": 5000, "remaining": 5000, "reset": 1700000000}
		}}`))
	}))
	defer srv.Close()

	client, storage := newTestClient(t, srv.URL)
	seedAccount(t, storage)
	limits, err := client.CheckRateLimit(context.Background())
	if err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	if limits.Core.Remaining != 4990 || limits.Search.Limit != 30 {
		t.Fatalf("limits = %+v", limits)
	}
}

func TestCheckRepoAccessPermissions(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"full_name": "demo/routes", "private": true,
			"permissions": {"admin": false, "maintain": true, "push": false, "pull": true}}`))
	}))
	defer srv.Close()

	client, storage := newTestClient(t, srv.URL)
	seedAccount(t, storage)
	access, err := client.CheckRepoAccess(context.Background(), "demo", "routes")
	if err != nil {
		t.Fatalf("CheckRepoAccess: %v", err)
	}
	if !access.Private || access.FullName != "demo/routes" {
		t.Fatalf("access = %+v", access)
	}
	if !access.Permissions.CanWrite() || !access.Permissions.CanRead() {
		t.Fatalf("permissions = %+v", access.Permissions)
	}
}
