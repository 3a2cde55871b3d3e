package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/openroutes/github-oauth/internal/config"
	log "github.com/sirupsen/logrus"
)

// DoWhoami prints the stored account and its granted scopes.
func DoWhoami(cfg *config.Config) {
	ctx := context.Background()
	_, orchestrator, err := buildStack(ctx, cfg)
	if err != nil {
		log.Errorf("failed to initialize credential storage: %v", err)
		return
	}

	account, err := orchestrator.CurrentAccount(ctx)
	if err != nil {
		log.Errorf("failed to read stored account: %v", err)
		return
	}
	if account == nil {
		fmt.Println("Not signed in. Run with -login or -device-login first.")
		return
	}

	fmt.Printf("Signed in as %s (user id %d)\n", account.Login, account.UserID)
	fmt.Printf("Scopes: %s\n", strings.Join(account.Scopes, ", "))
	fmt.Printf("Authorized at: %s\n", account.CreatedAt.Format("2006-01-02 15:04:05 MST"))
}
