// ABOUTME: Package routing maintains the reverse proxy's gateway map file
// ABOUTME: One "subdomain host:port;" line per provisioned gateway

// Package routing renders gateway records into the key-value map the reverse
// proxy loads, writes it atomically, and signals the proxy to reload.
package routing
