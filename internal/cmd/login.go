package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/openroutes/github-oauth/internal/browser"
	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/oauth"
	log "github.com/sirupsen/logrus"
)

// callbackTimeout bounds how long the login waits for the user to finish the
// browser flow.
const callbackTimeout = 10 * time.Minute

// DoLogin runs the browser-based authorization-code flow: it starts the local
// callback server, opens the authorization URL, and completes the exchange
// when GitHub redirects back.
func DoLogin(cfg *config.Config, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}
	ctx := context.Background()

	_, orchestrator, err := buildStack(ctx, cfg)
	if err != nil {
		log.Errorf("failed to initialize credential storage: %v", err)
		return
	}

	server := oauth.NewCallbackServer(callbackPort(cfg, options))
	if err = server.Start(); err != nil {
		log.Errorf("failed to start callback server: %v", err)
		return
	}
	defer func() {
		_ = server.Stop(context.Background())
	}()

	start, err := orchestrator.StartAuthorization(ctx, oauth.StartOptions{
		Flow:   oauth.FlowAuthCode,
		Scopes: options.Scopes,
	})
	if err != nil {
		log.Errorf("failed to start authorization: %v", err)
		return
	}

	if options.NoBrowser || !browser.IsAvailable() {
		fmt.Println("Open this URL in your browser to sign in to GitHub:")
		fmt.Printf("\n%s\n\n", start.AuthorizationURL)
	} else {
		fmt.Println("Opening browser for GitHub sign-in...")
		if err = browser.OpenURL(start.AuthorizationURL); err != nil {
			log.Warnf("failed to open browser: %v", err)
			fmt.Println("Open this URL in your browser to sign in to GitHub:")
			fmt.Printf("\n%s\n\n", start.AuthorizationURL)
		}
	}

	callback, err := server.WaitForCallback(callbackTimeout)
	if err != nil {
		log.Errorf("authorization did not complete: %v", err)
		return
	}
	if callback.Error != "" {
		log.Errorf("authorization failed: %s", callback.Error)
		return
	}

	result, err := orchestrator.HandleAuthorizationCodeCallback(ctx, callback.Code, callback.State)
	if err != nil {
		if oauth.IsCsrfStateError(err) {
			log.Error("authorization rejected: callback state did not match this login attempt")
		} else {
			log.Errorf("authorization failed: %v", err)
		}
		return
	}

	fmt.Printf("Signed in as %s\n", result.User.Login)
	fmt.Printf("Granted scopes: %v\n", result.Token.Scopes)
	fmt.Println("GitHub authentication successful!")
}
