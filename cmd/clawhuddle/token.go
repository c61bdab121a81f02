// ABOUTME: Mints API tokens signed with the server's JWT secret
// ABOUTME: Writes the token next to the config file for clawctl to pick up

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/clawhuddle/internal/auth"
	"github.com/2389/clawhuddle/internal/config"
)

type tokenOptions struct {
	subject string
	orgID   string
	ttl     time.Duration
	write   bool
}

func parseTokenArgs(args []string, stderr io.Writer) (tokenOptions, error) {
	var opts tokenOptions
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.subject, "sub", "", "token subject (who the token is for)")
	fs.StringVar(&opts.orgID, "org", "", "restrict the token to one organization")
	fs.DurationVar(&opts.ttl, "ttl", 30*24*time.Hour, "token lifetime")
	fs.BoolVar(&opts.write, "write", true, "save the token next to the config file")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	opts.subject = strings.TrimSpace(opts.subject)
	if opts.subject == "" {
		return opts, fmt.Errorf("--sub flag is required")
	}
	if len(opts.subject) > 100 {
		return opts, fmt.Errorf("subject exceeds maximum length of 100 characters")
	}
	if opts.ttl <= 0 {
		return opts, fmt.Errorf("--ttl must be positive")
	}
	return opts, nil
}

func mintToken(cfg *config.Config, opts tokenOptions) (string, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	return verifier.Generate(opts.subject, opts.orgID, opts.ttl)
}

func runToken(args []string) error {
	opts, err := parseTokenArgs(args, os.Stderr)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := mintToken(cfg, opts)
	if err != nil {
		return err
	}

	if !opts.write {
		fmt.Println(token)
		return nil
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	scope := "all organizations"
	if opts.orgID != "" {
		scope = "organization " + opts.orgID
	}
	color.New(color.FgGreen).Printf("  ✓ Saved token: %s\n", tokenPath)
	fmt.Printf("  Subject: %s\n", opts.subject)
	fmt.Printf("  Scope:   %s\n", scope)
	fmt.Printf("  Expires: %s\n", time.Now().Add(opts.ttl).UTC().Format("Jan 02, 2006"))
	return nil
}
