// ABOUTME: Interactive config file generator for clawhuddle
// ABOUTME: Prompts for each section and writes YAML with a fresh JWT secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("clawhuddle configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	content, err := buildConfig(reader, getDataPath())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the JWT secret.
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  clawhuddle token --sub admin   # mint an API token")
	fmt.Println("  clawhuddle serve")

	return nil
}

// buildConfig asks for every setting and renders the YAML document.
func buildConfig(reader *bufio.Reader, dataPath string) (string, error) {
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(dataPath, "clawhuddle.db"))

	fmt.Println("\n--- Gateway Configuration ---")
	mode := prompt(reader, "Deployment mode (local/production)", "local")
	image := prompt(reader, "Gateway image", "clawhuddle-gateway:local")
	dataDir := prompt(reader, "Gateway data directory", filepath.Join(dataPath, "gateways"))
	domain := prompt(reader, "Gateway domain", "localhost")

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral, tsHTTPS bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "clawhuddle")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
		tsHTTPS = isYes(prompt(reader, "Serve HTTPS with the tailnet certificate?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret, err := generateSecret()
	if err != nil {
		return "", err
	}

	var cfg strings.Builder
	cfg.WriteString("# clawhuddle configuration\n")
	cfg.WriteString("# Generated by clawhuddle init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n\n", secret))

	cfg.WriteString("gateways:\n")
	cfg.WriteString(fmt.Sprintf("  mode: %q\n", mode))
	cfg.WriteString(fmt.Sprintf("  image: %q\n", image))
	cfg.WriteString(fmt.Sprintf("  data_dir: %q\n", dataDir))
	cfg.WriteString(fmt.Sprintf("  domain: %q\n", domain))
	cfg.WriteString("  health_timeout: \"5s\"\n")
	cfg.WriteString("  exec_timeout: \"10s\"\n\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  https: %t\n", tsHTTPS))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n\n", logFormat))

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String(), nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
