package cmd

import (
	"context"
	"fmt"

	"github.com/openroutes/github-oauth/internal/config"
	log "github.com/sirupsen/logrus"
)

// DoRevoke revokes the grant at GitHub and clears the local credential. The
// local credential is removed even when the remote revocation fails.
func DoRevoke(cfg *config.Config) {
	ctx := context.Background()
	_, orchestrator, err := buildStack(ctx, cfg)
	if err != nil {
		log.Errorf("failed to initialize credential storage: %v", err)
		return
	}

	if err = orchestrator.RevokeToken(ctx); err != nil {
		log.Errorf("revocation failed (local credential cleared): %v", err)
		return
	}
	fmt.Println("GitHub authorization revoked and local credential removed.")
}

// DoLogout clears the local credential without contacting GitHub.
func DoLogout(cfg *config.Config) {
	ctx := context.Background()
	_, orchestrator, err := buildStack(ctx, cfg)
	if err != nil {
		log.Errorf("failed to initialize credential storage: %v", err)
		return
	}

	if err = orchestrator.SignOut(ctx); err != nil {
		log.Errorf("failed to clear local credential: %v", err)
		return
	}
	fmt.Println("Signed out. The GitHub grant itself was not revoked.")
}
