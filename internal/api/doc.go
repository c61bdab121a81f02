// Package api exposes the gateway orchestrator over HTTP.
//
// Every successful response is a JSON envelope {"data": ...}; failures are
// {"error": code, "message": text}. Missing members are 404, lifecycle
// conflicts 409, other precondition failures 400, in-container command
// failures 502 and everything else 500.
//
// Channel token changes are stored directly and, when the member's gateway is
// live, followed by a redeploy queued on the tasks queue so the request does
// not wait for a container restart.
package api
