// ABOUTME: Entry point for the clawhuddle gateway orchestrator
// ABOUTME: Serves the lifecycle API and offers setup and maintenance subcommands

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/clawhuddle/internal/config"
	"github.com/2389/clawhuddle/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _                _               _     _ _
   ___| | __ ___      _| |__  _   _  __| | __| | | ___
  / __| |/ _' \ \ /\ / / '_ \| | | |/ _' |/ _' | |/ _ \
 | (__| | (_| |\ V  V /| | | | |_| | (_| | (_| | |  __/
  \___|_|\__,_| \_/\_/ |_| |_|\__,_|\__,_|\__,_|_|\___|
`

// getConfigPath returns the path to the server config file.
// Priority: CLAWHUDDLE_CONFIG env var > XDG_CONFIG_HOME/clawhuddle/server.yaml > ~/.config/clawhuddle/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CLAWHUDDLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "clawhuddle", "server.yaml")
}

// getDataPath returns the default data directory.
// Priority: XDG_DATA_HOME/clawhuddle > ~/.local/share/clawhuddle
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "clawhuddle")
}

func usage() {
	fmt.Println("Usage: clawhuddle <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the orchestrator")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  token --sub NAME [--org ID] [--ttl] Mint an API token")
	fmt.Println("  routes                             Rewrite the proxy routing map once")
	fmt.Println("  health                             Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
	case "routes":
		err = runRoutes(ctx)
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Mode:      %s", cfg.Gateways.Mode)
	if cfg.Gateways.Mode.PublishesPorts() {
		yellow.Print(" [published ports]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Image:     %s\n", cfg.Gateways.Image)
	green.Print("    ▶ ")
	fmt.Printf("Data:      %s\n", cfg.Gateways.HostDataDir)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API authentication disabled (auth.jwt_secret unset)")
	}

	fmt.Println()

	logger.Info("starting clawhuddle",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"mode", cfg.Gateways.Mode,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// runRoutes rebuilds the routing map from the database, for use after a
// restore or when the proxy container was recreated.
func runRoutes(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)
	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	if err := srv.RegenerateRoutes(ctx); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("  ✓ Routing map: %s\n", cfg.Routing.MapPath)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
