package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/oauth"
	log "github.com/sirupsen/logrus"
)

// DoDeviceLogin runs the device authorization flow: it prints the user code
// and verification URL, then polls until the user approves, the code expires,
// or the user interrupts with Ctrl-C.
func DoDeviceLogin(cfg *config.Config, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, orchestrator, err := buildStack(ctx, cfg)
	if err != nil {
		log.Errorf("failed to initialize credential storage: %v", err)
		return
	}

	start, err := orchestrator.StartAuthorization(ctx, oauth.StartOptions{
		Flow:   oauth.FlowDevice,
		Scopes: options.Scopes,
	})
	if err != nil {
		log.Errorf("failed to start device authorization: %v", err)
		return
	}
	device := start.Device

	fmt.Printf("First, copy your one-time code: %s\n", device.UserCode)
	if err = clipboard.WriteAll(device.UserCode); err == nil {
		fmt.Println("(the code has been copied to your clipboard)")
	}
	if device.VerificationURIComplete != "" {
		fmt.Printf("Then visit: %s\n", device.VerificationURIComplete)
	} else {
		fmt.Printf("Then visit: %s\n", device.VerificationURI)
	}
	fmt.Println("Waiting for authorization... press Ctrl-C to cancel")

	result, err := orchestrator.WaitForDeviceToken(ctx, device)
	if err != nil {
		switch {
		case oauth.IsDeviceFlowExpired(err):
			log.Error("the device code expired before authorization, run the login again")
		case oauth.IsDeviceFlowDenied(err):
			log.Error("authorization was denied")
		default:
			log.Errorf("device authorization failed: %v", err)
		}
		return
	}

	fmt.Printf("Signed in as %s\n", result.User.Login)
	fmt.Printf("Granted scopes: %v\n", result.Token.Scopes)
	fmt.Println("GitHub authentication successful!")
}
