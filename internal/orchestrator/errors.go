// ABOUTME: Error values returned by gateway lifecycle operations
// ABOUTME: Precondition failures are reported to callers as-is and never retried

package orchestrator

import (
	"errors"
)

var (
	// ErrMemberNotFound means the member does not exist in the org.
	ErrMemberNotFound = errors.New("member not found")

	// ErrAlreadyRunning rejects provisioning a gateway that is running or deploying.
	ErrAlreadyRunning = errors.New("gateway already running")

	// ErrAlreadyProvisioned rejects provisioning over a stopped gateway, which
	// keeps its token and subdomain. Use Start or Redeploy instead.
	ErrAlreadyProvisioned = errors.New("gateway already provisioned: start or redeploy it")

	// ErrNotDeployed means the member has no provisioned gateway.
	ErrNotDeployed = errors.New("no gateway deployed")

	// ErrNoCredentials means the org has no usable provider credential.
	ErrNoCredentials = errors.New("no API keys configured: add at least one provider key")

	// ErrNotRunning rejects pairing against a gateway that is not running.
	ErrNotRunning = errors.New("gateway is not running")

	// ErrUnknownChannel rejects channels the platform does not manage.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrMissingCode rejects a pairing approval without a code.
	ErrMissingCode = errors.New("pairing code is required")
)

// IsPrecondition reports whether err is a rejected request rather than a
// failure while carrying it out.
func IsPrecondition(err error) bool {
	for _, target := range []error{
		ErrMemberNotFound,
		ErrAlreadyRunning,
		ErrAlreadyProvisioned,
		ErrNotDeployed,
		ErrNoCredentials,
		ErrNotRunning,
		ErrUnknownChannel,
		ErrMissingCode,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
