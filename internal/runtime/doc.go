// ABOUTME: Package runtime drives gateway containers through a container engine
// ABOUTME: Docker is the production engine; FakeEngine backs tests

// Package runtime creates, starts, stops, inspects and execs into gateway
// containers. Runtime is stateless: a container is always addressed by the
// name derived from its member's org and user IDs, so a restart of the
// orchestrator loses nothing.
package runtime
