// ABOUTME: Root cobra command and global flags for clawctl
// ABOUTME: Resolves the server URL and API token shared by every subcommand

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/clawhuddle/internal/client"
)

var (
	// serverURL is the base URL of the clawhuddle API
	serverURL string
	// token is the bearer token sent with each request
	token string
	// outputFormat is the output format (table, json)
	outputFormat string
	// timeout bounds a single command
	timeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clawctl",
	Short: "CLI for clawhuddle - per-member AI gateway orchestration",
	Long: `clawctl talks to a clawhuddle server to manage the gateway containers
that belong to organization members.

Examples:
  # Provision a gateway for a member
  clawctl provision org-1 member-1

  # Check whether it is up
  clawctl status org-1 member-1

  # Connect a Telegram bot and approve the first pairing request
  clawctl channel set org-1 member-1 telegram 123456:ABC
  clawctl pair approve org-1 member-1 telegram XYZ123`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "clawhuddle URL (defaults to $CLAWHUDDLE_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API token (defaults to $CLAWHUDDLE_TOKEN or the saved token file)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
}

func getServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if u := os.Getenv("CLAWHUDDLE_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

// tokenPath is where `clawhuddle token` saves a minted token.
func tokenPath() string {
	if cfg := os.Getenv("CLAWHUDDLE_CONFIG"); cfg != "" {
		return filepath.Join(filepath.Dir(cfg), "token")
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "clawhuddle", "token")
}

// getToken returns the token to send, or "" to send none.
func getToken() string {
	if token != "" {
		return token
	}
	if t := os.Getenv("CLAWHUDDLE_TOKEN"); t != "" {
		return t
	}
	path := tokenPath()
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func newClient() *client.Client {
	return client.New(getServerURL(), getToken())
}
