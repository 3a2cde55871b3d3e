package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/credential"
	"github.com/openroutes/github-oauth/internal/session"
	"github.com/openroutes/github-oauth/internal/store"
)

func demoTestAccount() *credential.Account {
	return &credential.Account{
		UserID:      1,
		Login:       "demo",
		AccessToken: "gho_testtoken",
		TokenType:   "bearer",
		Scopes:      []string{"read:user"},
		CreatedAt:   time.Now().UTC(),
	}
}

func testConfig(oauthBase, apiBase string) *config.Config {
	return &config.Config{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		RedirectURI:   "http://127.0.0.1:8910/callback",
		DefaultScopes: []string{"read:user", "user:email"},
		OAuthBaseURL:  oauthBase,
		APIBaseURL:    apiBase,
	}
}

func newTestOrchestrator(cfg *config.Config) (*Orchestrator, *store.MemoryStorage, *session.MemoryStateStore) {
	storage := store.NewMemoryStorage()
	states := session.NewMemoryStateStore()
	o := NewOrchestratorWithClient(cfg, storage, states, &http.Client{Timeout: 5 * time.Second})
	return o, storage, states
}

func TestResolveScopes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		requested        []string
		allowPrivateRepo bool
		want             []string
	}{
		{
			name: "defaults when no override",
			want: []string{"read:user", "user:email"},
		},
		{
			name:      "override wins",
			requested: []string{"public_repo"},
			want:      []string{"public_repo"},
		},
		{
			name:             "repo appended for private access",
			allowPrivateRepo: true,
			want:             []string{"read:user", "user:email", "repo"},
		},
		{
			name:             "repo not duplicated",
			requested:        []string{"repo", "read:user"},
			allowPrivateRepo: true,
			want:             []string{"repo", "read:user"},
		},
		{
			name:      "duplicates removed preserving order",
			requested: []string{"read:user", "public_repo", "read:user"},
			want:      []string{"read:user", "public_repo"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig("", "")
			cfg.AllowPrivateRepo = tt.allowPrivateRepo
			o, _, _ := newTestOrchestrator(cfg)
			got := o.ResolveScopes(tt.requested)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ResolveScopes(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

func TestStartAuthorizationAuthCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig("https://github.com", "")
	o, _, states := newTestOrchestrator(cfg)

	start, err := o.StartAuthorization(ctx, StartOptions{Flow: FlowAuthCode})
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	if start.Flow != FlowAuthCode {
		t.Fatalf("flow = %s, want %s", start.Flow, FlowAuthCode)
	}
	if start.State == "" || len(start.State) != 32 {
		t.Fatalf("state = %q, want 32 hex chars", start.State)
	}

	parsed, err := url.Parse(start.AuthorizationURL)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	if parsed.Path != "/login/oauth/authorize" {
		t.Fatalf("authorize path = %s", parsed.Path)
	}
	q := parsed.Query()
	if q.Get("client_id") != "client-id" {
		t.Fatalf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("state") != start.State {
		t.Fatalf("state param = %q, want %q", q.Get("state"), start.State)
	}
	if q.Get("allow_signup") != "false" {
		t.Fatalf("allow_signup = %q, want false", q.Get("allow_signup"))
	}
	if got := q.Get("scope"); !strings.Contains(got, "read:user") {
		t.Fatalf("scope = %q", got)
	}

	ok, err := states.ConsumeState(ctx, start.State)
	if err != nil || !ok {
		t.Fatalf("state %q not registered: (%v, %v)", start.State, ok, err)
	}
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o, _, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	_, err := o.HandleAuthorizationCodeCallback(context.Background(), "some-code", "forged-state")
	if !IsCsrfStateError(err) {
		t.Fatalf("err = %v, want CsrfStateError", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("token endpoint contacted %d times for a forged state", calls.Load())
	}
}

func githubStub(t *testing.T, tokenBody string, scopesHeader string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tokenBody))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "bearer gho_testtoken" && got != "token gho_testtoken" {
			t.Errorf("Authorization = %q", got)
		}
		if scopesHeader != "" {
			w.Header().Set("X-OAuth-Scopes", scopesHeader)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "login": "demo", "avatar_url": "https://avatars.example/42"}`))
	})
	return httptest.NewServer(mux)
}

func TestHandleCallbackSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := githubStub(t, `{"access_token":"gho_testtoken","token_type":"bearer","scope":"read:user"}`, "read:user, user:email")
	defer srv.Close()

	o, storage, states := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	if err := states.SetState(ctx, "good-state", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	result, err := o.HandleAuthorizationCodeCallback(ctx, "auth-code", "good-state")
	if err != nil {
		t.Fatalf("HandleAuthorizationCodeCallback: %v", err)
	}
	if result.User.Login != "demo" || result.User.ID != 42 {
		t.Fatalf("user = %+v", result.User)
	}
	// Header scopes win over the token response scope field.
	want := []string{"read:user", "user:email"}
	if !reflect.DeepEqual(result.Token.Scopes, want) {
		t.Fatalf("scopes = %v, want %v", result.Token.Scopes, want)
	}

	account, err := storage.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account == nil || account.AccessToken != "gho_testtoken" || account.Login != "demo" {
		t.Fatalf("persisted account = %+v", account)
	}
	if account.CreatedAt.IsZero() {
		t.Fatal("account CreatedAt not set")
	}
}

func TestHandleCallbackScopesFallBackToTokenResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := githubStub(t, `{"access_token":"gho_testtoken","token_type":"bearer","scope":"public_repo,read:user"}`, "")
	defer srv.Close()

	o, _, states := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	_ = states.SetState(ctx, "good-state", time.Now().Add(time.Minute))

	result, err := o.HandleAuthorizationCodeCallback(ctx, "auth-code", "good-state")
	if err != nil {
		t.Fatalf("HandleAuthorizationCodeCallback: %v", err)
	}
	want := []string{"public_repo", "read:user"}
	if !reflect.DeepEqual(result.Token.Scopes, want) {
		t.Fatalf("scopes = %v, want %v", result.Token.Scopes, want)
	}
}

func TestHandleCallbackExchangeErrorIn200Body(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := githubStub(t, `{"error":"incorrect_client_credentials","error_description":"The client_id and/or client_secret passed are incorrect."}`, "")
	defer srv.Close()

	o, storage, states := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	_ = states.SetState(ctx, "good-state", time.Now().Add(time.Minute))

	_, err := o.HandleAuthorizationCodeCallback(ctx, "auth-code", "good-state")
	if err == nil || !strings.Contains(err.Error(), "incorrect_client_credentials") {
		t.Fatalf("err = %v, want incorrect_client_credentials", err)
	}
	if account, _ := storage.GetAccount(ctx); account != nil {
		t.Fatalf("account persisted after failed exchange: %+v", account)
	}

	// The state was consumed by the failed attempt; a replay must fail closed.
	_, err = o.HandleAuthorizationCodeCallback(ctx, "auth-code", "good-state")
	if !IsCsrfStateError(err) {
		t.Fatalf("replayed callback err = %v, want CsrfStateError", err)
	}
}

func TestStartAuthorizationDeviceFlow(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse device form: %v", err)
		}
		if got := r.PostForm.Get("client_id"); got != "client-id" {
			t.Errorf("client_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"device_code": "dc-123",
			"user_code": "ABCD-1234",
			"verification_uri": "https://github.com/login/device",
			"expires_in": 900
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o, _, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	start, err := o.StartAuthorization(context.Background(), StartOptions{Flow: FlowDevice})
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	if start.Flow != FlowDevice || start.Device == nil {
		t.Fatalf("start = %+v", start)
	}
	if start.Device.UserCode != "ABCD-1234" || start.Device.DeviceCode != "dc-123" {
		t.Fatalf("device session = %+v", start.Device)
	}
	if start.Device.Interval != 5 {
		t.Fatalf("interval = %d, want default 5", start.Device.Interval)
	}
}

func TestWaitForDeviceTokenPendingThenSuccess(t *testing.T) {
	t.Parallel()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"gho_testtoken","token_type":"bearer","scope":"read:user"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "read:user")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 7, "login": "demo"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o, storage, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	deviceSession := &DeviceFlowSession{DeviceCode: "dc-123", ExpiresIn: 900, Interval: 1}

	result, err := o.WaitForDeviceToken(context.Background(), deviceSession)
	if err != nil {
		t.Fatalf("WaitForDeviceToken: %v", err)
	}
	if result.Account == nil || result.Account.Login != "demo" {
		t.Fatalf("result = %+v", result)
	}
	if polls.Load() != 3 {
		t.Fatalf("polls = %d, want 3", polls.Load())
	}
	if account, _ := storage.GetAccount(context.Background()); account == nil {
		t.Fatal("account not persisted after device flow")
	}
}

func TestWaitForDeviceTokenSlowDownGrowsInterval(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var pollTimes []time.Time
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pollTimes = append(pollTimes, time.Now())
		n := len(pollTimes)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"error":"slow_down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"gho_testtoken","token_type":"bearer","scope":"read:user"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "read:user")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 7, "login": "demo"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o, _, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	deviceSession := &DeviceFlowSession{DeviceCode: "dc-123", ExpiresIn: 900, Interval: 1}

	if _, err := o.WaitForDeviceToken(context.Background(), deviceSession); err != nil {
		t.Fatalf("WaitForDeviceToken: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(pollTimes) != 2 {
		t.Fatalf("polls = %d, want 2", len(pollTimes))
	}
	// The first gap was 1s; after slow_down the next poll must wait strictly
	// longer than the step alone.
	if gap := pollTimes[1].Sub(pollTimes[0]); gap <= slowDownStep {
		t.Fatalf("poll gap after slow_down = %v, want more than %v", gap, slowDownStep)
	}
}

func TestBumpPollIntervalCapsAtMax(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{5 * time.Second, 10 * time.Second},
		{22 * time.Second, 27 * time.Second},
		{25 * time.Second, maxDeviceInterval},
		{28 * time.Second, maxDeviceInterval},
		{maxDeviceInterval, maxDeviceInterval},
	}
	for _, tc := range tests {
		if got := bumpPollInterval(tc.in); got != tc.want {
			t.Errorf("bumpPollInterval(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWaitForDeviceTokenDenied(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"access_denied"}`))
	}))
	defer srv.Close()

	o, _, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	deviceSession := &DeviceFlowSession{DeviceCode: "dc-123", ExpiresIn: 900, Interval: 1}
	_, err := o.WaitForDeviceToken(context.Background(), deviceSession)
	if !IsDeviceFlowDenied(err) {
		t.Fatalf("err = %v, want access denied", err)
	}
}

func TestWaitForDeviceTokenExpires(t *testing.T) {
	t.Parallel()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
	}))
	defer srv.Close()

	o, _, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	deviceSession := &DeviceFlowSession{DeviceCode: "dc-123", ExpiresIn: 1, Interval: 1, startedAt: time.Now().Add(-2 * time.Second)}
	_, err := o.WaitForDeviceToken(context.Background(), deviceSession)
	if !IsDeviceFlowExpired(err) {
		t.Fatalf("err = %v, want expired", err)
	}
}

func TestWaitForDeviceTokenObservesCancellation(t *testing.T) {
	t.Parallel()
	o, _, _ := newTestOrchestrator(testConfig("https://github.invalid", "https://api.github.invalid"))
	deviceSession := &DeviceFlowSession{DeviceCode: "dc-123", ExpiresIn: 900, Interval: 30}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := o.WaitForDeviceToken(ctx, deviceSession)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation not observed during poll sleep")
	}
}

func TestRevokeTokenClearsStorage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "revoked", status: http.StatusNoContent},
		{name: "grant already gone", status: http.StatusNotFound},
		{name: "server error still clears", status: http.StatusInternalServerError, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("method = %s, want DELETE", r.Method)
				}
				if user, pass, ok := r.BasicAuth(); !ok || user != "client-id" || pass != "client-secret" {
					t.Errorf("basic auth = %q/%q ok=%v", user, pass, ok)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			o, storage, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
			account := demoTestAccount()
			if err := storage.SaveAccount(ctx, account); err != nil {
				t.Fatalf("SaveAccount: %v", err)
			}

			err := o.RevokeToken(ctx)
			if tt.wantErr && err == nil {
				t.Fatal("expected revoke error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("RevokeToken: %v", err)
			}
			if got, _ := storage.GetAccount(ctx); got != nil {
				t.Fatalf("storage not cleared: %+v", got)
			}
		})
	}
}

func TestRevokeTokenWithoutAccountIsNoop(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("revoke endpoint contacted without a stored account")
	}))
	defer srv.Close()

	o, _, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	if err := o.RevokeToken(context.Background()); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
}

func TestSignOutClearsLocalOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("network call during sign out")
	}))
	defer srv.Close()

	o, storage, _ := newTestOrchestrator(testConfig(srv.URL, srv.URL))
	if err := storage.SaveAccount(ctx, demoTestAccount()); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	if err := o.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if got, _ := o.CurrentAccount(ctx); got != nil {
		t.Fatalf("account survived sign out: %+v", got)
	}
}

func TestCallbackServerCapturesRedirect(t *testing.T) {
	t.Parallel()
	srv := NewCallbackServer(18943)
	if err := srv.Start(); err != nil {
		t.Skipf("port unavailable: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=abc&state=xyz", srv.port))
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	_ = resp.Body.Close()

	result, err := srv.WaitForCallback(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback: %v", err)
	}
	if result.Code != "abc" || result.State != "xyz" || result.Error != "" {
		t.Fatalf("result = %+v", result)
	}
}
