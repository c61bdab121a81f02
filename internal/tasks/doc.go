// Package tasks runs best-effort follow-up work, such as redeploying a
// gateway after its channel tokens change, outside the request that caused
// it. Failures are retried with exponential backoff and then logged.
package tasks
