// Package server assembles clawhuddle from its configuration.
//
// New opens the SQLite store and the Docker engine, builds the runtime,
// health prober, routing publisher, orchestrator and follow-up task queue,
// and registers the HTTP API. The prober follows gateways.mode: local
// development probes published ports over HTTP, production probes from
// inside each container.
//
// Run listens on server.http_addr, or on a tailnet node when tailscale is
// enabled, and shuts everything down when its context ends.
package server
