// Package lifecycle drives targets through their container state machine:
// Absent → Pulling → Creating → Starting → HealthChecking → Running, and
// back down through Stopping → Stopped → Absent.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazygate/lazygate/internal/core/domain"
	"github.com/lazygate/lazygate/internal/core/ports"
	"github.com/lazygate/lazygate/internal/metrics"
)

const (
	// pullTimeout bounds a registry pull.
	pullTimeout = 5 * time.Minute
	// launchTimeout bounds create+start.
	launchTimeout = 30 * time.Second
	// stopTimeout bounds stop+remove during teardown.
	stopTimeout = 30 * time.Second
)

// Tracker re-asserts registry membership for a target handle that may have
// been untracked while its holder waited. *registry.Registry satisfies it.
type Tracker interface {
	Reinsert(t *domain.Target) *domain.Target
}

// Manager launches and tears down target containers. All callers requesting
// the same target while it is mid-launch wait on the target's lock and find
// it Running (or failed) when they get their turn; a second launch is never
// triggered.
type Manager struct {
	runtime        ports.Runtime
	tracker        Tracker
	targetPort     int
	startupTimeout time.Duration
	probeInterval  time.Duration
	log            *zap.Logger
}

// New returns a manager that starts containers exposing targetPort and
// allows startupTimeout for them to answer their first health probe.
func New(runtime ports.Runtime, tracker Tracker, targetPort int, startupTimeout time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		runtime:        runtime,
		tracker:        tracker,
		targetPort:     targetPort,
		startupTimeout: startupTimeout,
		probeInterval:  500 * time.Millisecond,
		log:            log,
	}
}

// EnsureRunning makes sure the target has a healthy container and returns
// its address. Re-entrant and cheap when the target is already Running.
//
// ctx governs only this caller's wait for the target lock. Once the launch
// begins it runs under its own deadlines, so a caller that gives up does not
// abort the launch for everyone else.
func (m *Manager) EnsureRunning(ctx context.Context, t *domain.Target) (string, error) {
	if err := t.Acquire(ctx); err != nil {
		return "", err
	}

	// The reaper may have untracked this handle while the caller held it.
	// Re-assert membership so the container stays visible to future sweeps;
	// when the reference was re-created in the meantime, defer to the
	// canonical handle instead of launching a duplicate.
	if canonical := m.tracker.Reinsert(t); canonical != t {
		t.Release()
		return m.EnsureRunning(ctx, canonical)
	}
	defer t.Release()

	t.Touch(time.Now())

	if t.State() == domain.StateRunning {
		return t.Address(), nil
	}

	addr, err := m.launch(t)
	if err != nil {
		t.SetState(domain.StateFailed)
		return "", err
	}
	return addr, nil
}

// launch runs the full Absent→Running sequence. Caller holds the target
// lock. Any partial container state is cleaned up before an error returns.
func (m *Manager) launch(t *domain.Target) (string, error) {
	ref := t.Ref()
	log := m.log.With(zap.String("image", ref.String()))

	// A failed teardown can leave a container behind; clear it first so
	// there is never more than one container per target.
	if t.ContainerID() != "" {
		if err := m.stopAndRemove(t); err != nil {
			return "", fmt.Errorf("clear stale container for %s: %w", ref, err)
		}
	}

	pctx, cancel := context.WithTimeout(context.Background(), pullTimeout)
	defer cancel()

	present, err := m.runtime.ImagePresent(pctx, ref)
	if err != nil {
		metrics.Launches.WithLabelValues("runtime_error").Inc()
		return "", fmt.Errorf("inspect image %s: %w", ref, err)
	}

	if present {
		t.SetOriginOnce(domain.OriginLocal)
	} else {
		t.SetState(domain.StatePulling)
		log.Info("pulling image")
		if err := m.runtime.PullImage(pctx, ref); err != nil {
			metrics.Launches.WithLabelValues("pull_failed").Inc()
			log.Warn("image pull failed", zap.Error(err))
			return "", fmt.Errorf("pull %s: %w: %w", ref, domain.ErrUpstreamUnavailable, err)
		}
		t.SetOriginOnce(domain.OriginRemote)
	}

	cctx, cancel := context.WithTimeout(context.Background(), launchTimeout)
	defer cancel()

	t.SetState(domain.StateCreating)
	container, err := m.runtime.CreateAndStart(cctx, ref, m.targetPort)
	if err != nil {
		metrics.Launches.WithLabelValues("launch_failed").Inc()
		log.Warn("container launch failed", zap.Error(err))
		return "", fmt.Errorf("launch %s: %w: %w", ref, domain.ErrLaunchFailed, err)
	}
	t.SetState(domain.StateStarting)
	t.SetContainer(container.ID, container.Address)
	log.Info("container started",
		zap.String("container", container.ID),
		zap.String("address", container.Address))

	t.SetState(domain.StateHealthChecking)
	if err := m.awaitHealthy(container.Address); err != nil {
		metrics.Launches.WithLabelValues("unhealthy").Inc()
		log.Warn("container never became healthy, removing it", zap.Error(err))
		if rmErr := m.stopAndRemove(t); rmErr != nil {
			log.Error("cleanup of unhealthy container failed", zap.Error(rmErr))
		}
		return "", fmt.Errorf("health check %s: %w", ref, err)
	}

	now := time.Now()
	t.MarkHealthy(now)
	t.Touch(now)
	t.SetState(domain.StateRunning)
	metrics.Launches.WithLabelValues("ok").Inc()
	log.Info("target running", zap.String("address", container.Address))
	return container.Address, nil
}

// awaitHealthy polls the container's forwarding port until it answers or
// the startup budget is spent.
func (m *Manager) awaitHealthy(address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.startupTimeout)
	defer cancel()

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		err := m.runtime.HealthProbe(ctx, address)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			// At least one probe has always failed by the time the budget
			// runs out, so lastErr carries the latest failure.
			return fmt.Errorf("%w: last probe: %w", domain.ErrHealthCheckTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

// Evict stops and removes the target's container if it has been idle for at
// least minIdle. A minIdle of zero forces eviction regardless of activity.
// Returns whether a container was actually torn down.
//
// Evict takes the target lock, so it can never pre-empt an in-flight
// launch; idleness is re-checked after the lock is held in case a request
// arrived while waiting.
func (m *Manager) Evict(ctx context.Context, t *domain.Target, minIdle time.Duration) (bool, error) {
	if err := t.Acquire(ctx); err != nil {
		return false, err
	}
	defer t.Release()

	switch t.State() {
	case domain.StateRunning, domain.StateStopping, domain.StateStopped:
	default:
		return false, nil
	}
	if minIdle > 0 && t.IdleFor(time.Now()) < minIdle {
		return false, nil
	}

	if err := m.stopAndRemove(t); err != nil {
		return false, err
	}
	m.log.Info("container evicted", zap.String("image", t.Ref().String()))
	return true, nil
}

// stopAndRemove tears the container down: Stopping → Stopped → Absent.
// Caller holds the target lock. Removal never happens before the stop
// succeeds, and a "no such container" from the engine counts as done.
func (m *Manager) stopAndRemove(t *domain.Target) error {
	id := t.ContainerID()
	if id == "" {
		t.SetState(domain.StateAbsent)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	t.SetState(domain.StateStopping)
	if err := m.runtime.StopContainer(ctx, id); err != nil && !isGone(err) {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	t.SetState(domain.StateStopped)
	if err := m.runtime.RemoveContainer(ctx, id); err != nil && !isGone(err) {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	t.ClearContainer()
	t.SetState(domain.StateAbsent)
	return nil
}

// isGone reports whether the engine says the container no longer exists,
// which teardown treats as success.
func isGone(err error) bool {
	return errors.Is(err, domain.ErrContainerGone)
}
