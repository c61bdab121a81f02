// ABOUTME: Package health decides whether a gateway container is ready
// ABOUTME: Exec probes run inside the container; HTTP probes hit a published port

// Package health implements the readiness check that gates the running
// status. ExecProber is used when ports are not published, HTTPProber when
// they are.
package health
