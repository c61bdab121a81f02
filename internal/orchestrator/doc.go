// Package orchestrator drives the gateway lifecycle of organization members.
//
// An Orchestrator is the only writer of a member's gateway fields. Every
// operation on one member runs under that member's lock, so provision, start,
// stop, redeploy, and remove never interleave for the same member while
// different members proceed in parallel.
//
// The lifecycle is:
//
//	(none) --Provision--> deploying --healthy--> running
//	running --Stop--> stopped --Start--> running
//	running|stopped --Redeploy--> deploying --> running
//	any --Remove--> (none)
//
// Status reconciles the stored status with what the container engine
// reports before answering. Failures during Provision roll the container and
// the record back; failures during Redeploy leave the gateway stopped.
package orchestrator
