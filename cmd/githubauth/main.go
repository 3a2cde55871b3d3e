// Package main provides the entry point for the githubauth CLI.
// The tool manages the GitHub credential used by OpenRoutes: it runs the
// OAuth login flows, inspects the stored account, health-checks repository
// access, and revokes the authorization.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/openroutes/github-oauth/internal/buildinfo"
	"github.com/openroutes/github-oauth/internal/cmd"
	"github.com/openroutes/github-oauth/internal/config"
	"github.com/openroutes/github-oauth/internal/logging"
	"github.com/openroutes/github-oauth/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// main parses command-line flags, loads configuration, and dispatches to the
// selected command.
func main() {
	var login bool
	var deviceLogin bool
	var noBrowser bool
	var callbackPort int
	var scopes string
	var whoami bool
	var repoTest bool
	var revoke bool
	var logout bool
	var configPath string
	var showVersion bool

	flag.BoolVar(&login, "login", false, "Sign in to GitHub with the browser flow")
	flag.BoolVar(&deviceLogin, "device-login", false, "Sign in to GitHub with the device flow")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.IntVar(&callbackPort, "callback-port", 0, "Override OAuth callback port (defaults to the redirect URI port)")
	flag.StringVar(&scopes, "scopes", "", "Override requested scopes (comma or space separated)")
	flag.BoolVar(&whoami, "whoami", false, "Print the stored account and scopes")
	flag.BoolVar(&repoTest, "repo-test", false, "Run the repository healthcheck against the configured health repo")
	flag.BoolVar(&revoke, "revoke", false, "Revoke the GitHub grant and clear the local credential")
	flag.BoolVar(&logout, "logout", false, "Clear the local credential without revoking the grant")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("githubauth Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := configPath
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	util.SetLogLevel(cfg)

	options := &cmd.LoginOptions{
		NoBrowser:    noBrowser,
		CallbackPort: callbackPort,
		Scopes:       config.SplitScopeList(scopes),
	}

	switch {
	case login:
		cmd.DoLogin(cfg, options)
	case deviceLogin:
		cmd.DoDeviceLogin(cfg, options)
	case whoami:
		cmd.DoWhoami(cfg)
	case repoTest:
		cmd.DoRepoTest(cfg)
	case revoke:
		cmd.DoRevoke(cfg)
	case logout:
		cmd.DoLogout(cfg)
	default:
		flag.Usage()
	}
}
