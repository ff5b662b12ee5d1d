// Package docker implements ports.Runtime on the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/lazygate/lazygate/internal/core/domain"
)

// ownerLabel marks containers as managed by this proxy; its value is the
// full image reference the container serves. Listing filters on it so the
// proxy only ever sees its own children.
const ownerLabel = "dev.lazygate.image"

// containerNamePrefix namespaces child container names.
const containerNamePrefix = "lazygate-"

// Adapter implements ports.Runtime using the Docker SDK. The SDK client is
// safe for concurrent use, so no additional locking happens here.
type Adapter struct {
	cli        *client.Client
	network    string
	targetPort int
	probe      *http.Client
	log        *zap.Logger
}

// NewAdapter connects to the engine configured by the environment. Children
// are attached to networkName and expected to listen on targetPort.
func NewAdapter(networkName string, targetPort int, log *zap.Logger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Adapter{
		cli:        cli,
		network:    networkName,
		targetPort: targetPort,
		probe:      &http.Client{Timeout: time.Second},
		log:        log,
	}, nil
}

// Ping verifies the engine is reachable. Called once at startup so a dead
// socket fails fast instead of on the first request.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRuntimeUnavailable, err)
	}
	return nil
}

// EnsureNetwork creates the child bridge network if it does not exist.
// Children are addressed by container name through its DNS.
func (a *Adapter) EnsureNetwork(ctx context.Context) error {
	_, err := a.cli.NetworkInspect(ctx, a.network, types.NetworkInspectOptions{})
	if err == nil {
		a.log.Debug("network already exists", zap.String("network", a.network))
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect network %s: %w", a.network, err)
	}

	a.log.Info("creating network", zap.String("network", a.network))
	if _, err := a.cli.NetworkCreate(ctx, a.network, types.NetworkCreate{Driver: "bridge"}); err != nil {
		return fmt.Errorf("create network %s: %w", a.network, err)
	}
	return nil
}

// ConnectSelf attaches the proxy's own container to the child network so
// container-name DNS resolves. Best-effort: when the proxy runs outside the
// engine there is no self to connect, which is not an error.
func (a *Adapter) ConnectSelf(ctx context.Context) {
	hostname, err := os.Hostname()
	if err != nil {
		return
	}

	self, err := a.cli.ContainerInspect(ctx, hostname)
	if err != nil {
		a.log.Debug("not running inside the engine, skipping self-connect",
			zap.String("hostname", hostname))
		return
	}
	if self.NetworkSettings != nil {
		if _, ok := self.NetworkSettings.Networks[a.network]; ok {
			a.log.Debug("already connected to network", zap.String("network", a.network))
			return
		}
	}

	if err := a.cli.NetworkConnect(ctx, a.network, self.ID, &network.EndpointSettings{}); err != nil {
		a.log.Warn("could not connect self to network",
			zap.String("network", a.network), zap.Error(err))
		return
	}
	a.log.Info("connected proxy container to network", zap.String("network", a.network))
}

// ImagePresent reports whether the image exists on the host.
func (a *Adapter) ImagePresent(ctx context.Context, ref domain.ImageReference) (bool, error) {
	_, _, err := a.cli.ImageInspectWithRaw(ctx, ref.String())
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspect image %s: %w: %w", ref, domain.ErrRuntimeUnavailable, err)
}

// PullImage fetches the image, blocking until the engine finishes. The
// progress stream must be drained or the pull stalls.
func (a *Adapter) PullImage(ctx context.Context, ref domain.ImageReference) error {
	reader, err := a.cli.ImagePull(ctx, ref.String(), types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: stream: %w", ref, err)
	}
	return nil
}

// CreateAndStart creates and starts a container for the image on the child
// network. The returned address reaches targetPort via container-name DNS.
func (a *Adapter) CreateAndStart(ctx context.Context, ref domain.ImageReference, targetPort int) (domain.Container, error) {
	name := containerName(ref)

	create := func() (container.CreateResponse, error) {
		return a.cli.ContainerCreate(ctx,
			&container.Config{
				Image:  ref.String(),
				Labels: map[string]string{ownerLabel: ref.String()},
			},
			&container.HostConfig{
				NetworkMode: container.NetworkMode(a.network),
			},
			&network.NetworkingConfig{
				EndpointsConfig: map[string]*network.EndpointSettings{
					a.network: {},
				},
			},
			nil, name)
	}

	resp, err := create()
	if err != nil && strings.Contains(err.Error(), "is already in use") {
		// A stale container from a previous attempt holds the name. Remove
		// it and try once more.
		a.log.Warn("removing stale container", zap.String("name", name))
		_ = a.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true})
		resp, err = create()
	}
	if err != nil {
		return domain.Container{}, fmt.Errorf("create container for %s: %w", ref, err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		_ = a.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return domain.Container{}, fmt.Errorf("start container %s: %w", name, err)
	}

	return domain.Container{
		ID:      resp.ID,
		Name:    name,
		Image:   ref.String(),
		State:   "running",
		Address: fmt.Sprintf("%s:%d", name, targetPort),
	}, nil
}

// HealthProbe performs one readiness probe against a container address. Any
// HTTP response counts as ready; only a transport failure is an error.
func (a *Adapter) HealthProbe(ctx context.Context, address string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+"/", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", "lazygate-health-check/1.0")

	resp, err := a.probe.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", address, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StopContainer stops a running container.
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("stop %s: %w", id, domain.ErrContainerGone)
		}
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

// RemoveContainer removes a stopped container.
func (a *Adapter) RemoveContainer(ctx context.Context, id string) error {
	if err := a.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("remove %s: %w", id, domain.ErrContainerGone)
		}
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

// RemoveImage deletes the local copy of an image without forcing: an image
// still referenced by another tag or container stays put and the engine's
// refusal is surfaced for the next sweep. A missing image counts as done.
func (a *Adapter) RemoveImage(ctx context.Context, ref domain.ImageReference) error {
	_, err := a.cli.ImageRemove(ctx, ref.String(), types.ImageRemoveOptions{PruneChildren: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove image %s: %w", ref, err)
	}
	return nil
}

// ListContainers returns the containers this proxy owns, running or not.
func (a *Adapter) ListContainers(ctx context.Context) ([]domain.Container, error) {
	list, err := a.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ownerLabel)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w: %w", domain.ErrRuntimeUnavailable, err)
	}

	out := make([]domain.Container, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, domain.Container{
			ID:      c.ID,
			Name:    name,
			Image:   c.Labels[ownerLabel],
			State:   c.State,
			Address: fmt.Sprintf("%s:%d", name, a.targetPort),
		})
	}
	return out, nil
}

// ListImages returns the tagged image references present on the host.
func (a *Adapter) ListImages(ctx context.Context) ([]string, error) {
	list, err := a.cli.ImageList(ctx, types.ImageListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w: %w", domain.ErrRuntimeUnavailable, err)
	}

	var out []string
	for _, img := range list {
		out = append(out, img.RepoTags...)
	}
	return out, nil
}

// containerName derives a deterministic, engine-safe container name from an
// image reference: "/" becomes "--" and ":" becomes "-".
func containerName(ref domain.ImageReference) string {
	sanitized := strings.NewReplacer("/", "--", ":", "-").Replace(ref.String())
	return containerNamePrefix + sanitized
}
