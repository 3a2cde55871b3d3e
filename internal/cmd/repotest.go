package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openroutes/github-oauth/internal/api"
	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DoRepoTest runs the repository health check against the configured health
// repo: token check, then rate limit and repository access concurrently, then
// a create/comment/close round trip on a throwaway issue.
func DoRepoTest(cfg *config.Config) {
	owner := strings.TrimSpace(cfg.HealthRepo.Owner)
	repo := strings.TrimSpace(cfg.HealthRepo.Name)
	if owner == "" || repo == "" {
		log.Error("health repo not configured: set health-repo owner/name or TEST_OWNER/TEST_REPO")
		return
	}

	ctx := context.Background()
	storage, err := store.NewSecureStorage(ctx, cfg)
	if err != nil {
		log.Errorf("failed to initialize credential storage: %v", err)
		return
	}
	client := api.NewClient(cfg, storage)

	info, err := client.CheckToken(ctx)
	if err != nil {
		reportAPIError("token check", err)
		return
	}
	fmt.Printf("Token OK: %s (scopes: %s)\n", info.Login, strings.Join(info.Scopes, ", "))

	var limits *api.RateLimits
	var access *api.RepoAccess
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var errRate error
		limits, errRate = client.CheckRateLimit(groupCtx)
		return errRate
	})
	group.Go(func() error {
		var errAccess error
		access, errAccess = client.CheckRepoAccess(groupCtx, owner, repo)
		return errAccess
	})
	if err = group.Wait(); err != nil {
		reportAPIError("health probes", err)
		return
	}

	fmt.Printf("Rate limit: core %d/%d (resets %s)\n",
		limits.Core.Remaining, limits.Core.Limit, limits.Core.ResetTime().Format(time.Kitchen))
	fmt.Printf("Repository %s: read=%t write=%t\n",
		access.FullName, access.Permissions.CanRead(), access.Permissions.CanWrite())
	if !access.Permissions.CanWrite() {
		log.Error("token cannot write to the health repo, skipping issue round trip")
		return
	}

	title := fmt.Sprintf("healthcheck %s", time.Now().UTC().Format(time.RFC3339))
	issue, err := client.CreateIssue(ctx, owner, repo, title,
		"Automated connectivity check. This issue closes itself.", []string{"automated"})
	if err != nil {
		reportAPIError("create issue", err)
		return
	}
	fmt.Printf("Created issue #%d\n", issue.Number)

	if _, err = client.CommentIssue(ctx, owner, repo, issue.Number, "Round trip OK."); err != nil {
		reportAPIError("comment issue", err)
		return
	}
	if _, err = client.CloseIssue(ctx, owner, repo, issue.Number); err != nil {
		reportAPIError("close issue", err)
		return
	}
	fmt.Printf("Issue #%d commented and closed. Repository healthcheck passed.\n", issue.Number)
}

func reportAPIError(step string, err error) {
	switch {
	case api.IsUnauthenticated(err):
		log.Errorf("%s failed: not signed in, run -login first", step)
	case api.IsTokenRevoked(err):
		log.Errorf("%s failed: the stored token was revoked or expired, sign in again", step)
	case api.IsInsufficientScope(err):
		log.Errorf("%s failed: the token is missing a required scope: %v", step, err)
	case api.IsNotFound(err):
		log.Errorf("%s failed: repository not found or not visible to this token", step)
	default:
		log.Errorf("%s failed: %v", step, err)
	}
}
