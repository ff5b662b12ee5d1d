package ports

import (
	"context"

	"github.com/lazygate/lazygate/internal/core/domain"
)

// Runtime is the contract the proxy consumes from the container engine.
// This interface lets us switch between Docker, Podman, or anything with the
// same shape without touching the lifecycle logic, and it is what the tests
// fake out.
//
// Implementations must be safe for concurrent use: the lifecycle manager and
// the reaper call into the runtime from independent goroutines.
type Runtime interface {
	// ImagePresent reports whether the image already exists on the host.
	ImagePresent(ctx context.Context, ref domain.ImageReference) (bool, error)

	// PullImage fetches the image from its registry, blocking until the pull
	// completes.
	PullImage(ctx context.Context, ref domain.ImageReference) error

	// CreateAndStart creates and starts a container for the image, wired so
	// that the returned container's Address reaches targetPort inside it.
	CreateAndStart(ctx context.Context, ref domain.ImageReference, targetPort int) (domain.Container, error)

	// HealthProbe performs one readiness probe against a container address.
	// Any response counts as ready; only a transport failure is an error.
	HealthProbe(ctx context.Context, address string) error

	// StopContainer stops a running container.
	StopContainer(ctx context.Context, id string) error

	// RemoveContainer removes a stopped container.
	RemoveContainer(ctx context.Context, id string) error

	// RemoveImage deletes the local copy of an image.
	RemoveImage(ctx context.Context, ref domain.ImageReference) error

	// ListContainers returns the containers owned by this proxy.
	ListContainers(ctx context.Context) ([]domain.Container, error)

	// ListImages returns the image references present on the host.
	ListImages(ctx context.Context) ([]string, error)
}
