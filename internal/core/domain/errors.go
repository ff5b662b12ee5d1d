package domain

import "errors"

// Sentinel errors for the proxy's failure modes. Adapters wrap these with
// fmt.Errorf("...: %w", ...) and handlers match them with errors.Is.
var (
	// ErrNotFound means the request path does not belong to the proxy's
	// configured base path.
	ErrNotFound = errors.New("no image route for path")

	// ErrMalformedPath means the path matched the base path but carries no
	// image segment.
	ErrMalformedPath = errors.New("malformed proxy path")

	// ErrUpstreamUnavailable means the image could not be pulled from the
	// registry (not found, auth, network).
	ErrUpstreamUnavailable = errors.New("upstream image unavailable")

	// ErrLaunchFailed means the container could not be created or started.
	ErrLaunchFailed = errors.New("container launch failed")

	// ErrHealthCheckTimeout means the container started but never answered
	// the readiness probe within the startup budget. The container is
	// removed before this is reported.
	ErrHealthCheckTimeout = errors.New("health check timed out")

	// ErrBackendUnavailable means a healthy-looking backend failed while a
	// request was being forwarded to it.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRuntimeUnavailable means the container engine itself could not be
	// reached. Fatal to the affected operation only.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// ErrContainerGone means the engine reports no such container. Teardown
	// treats it as already done.
	ErrContainerGone = errors.New("container no longer exists")
)

// ReasonCode maps an error chain to the machine-readable reason reported to
// clients alongside the HTTP status.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedPath):
		return "malformed_path"
	case errors.Is(err, ErrHealthCheckTimeout):
		return "health_check_timeout"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrLaunchFailed):
		return "launch_failed"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrRuntimeUnavailable):
		return "runtime_unavailable"
	default:
		return "internal_error"
	}
}
