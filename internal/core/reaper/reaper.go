// Package reaper reclaims idle resources: first containers past the
// container idle timeout, then remote-origin images past the image idle
// timeout. Local-origin images are never removed — they cannot be re-pulled
// — so their targets are only untracked.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lazygate/lazygate/internal/core/domain"
	"github.com/lazygate/lazygate/internal/core/lifecycle"
	"github.com/lazygate/lazygate/internal/core/ports"
	"github.com/lazygate/lazygate/internal/core/registry"
	"github.com/lazygate/lazygate/internal/metrics"
)

// Reaper periodically sweeps the registry for idle containers and images.
type Reaper struct {
	registry      *registry.Registry
	manager       *lifecycle.Manager
	runtime       ports.Runtime
	interval      time.Duration
	containerIdle time.Duration
	imageIdle     time.Duration
	log           *zap.Logger
}

// New returns a reaper sweeping every interval. Containers idle beyond
// containerIdle are stopped and removed; remote-origin images idle beyond
// imageIdle with no running container are deleted.
func New(reg *registry.Registry, mgr *lifecycle.Manager, rt ports.Runtime,
	interval, containerIdle, imageIdle time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{
		registry:      reg,
		manager:       mgr,
		runtime:       rt,
		interval:      interval,
		containerIdle: containerIdle,
		imageIdle:     imageIdle,
		log:           log,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.log.Info("reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("container_idle", r.containerIdle),
		zap.Duration("image_idle", r.imageIdle))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reclamation pass. Errors are logged and retried on the
// next tick; a sweep never takes the process down.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now()
	running := 0

	for _, t := range r.registry.Snapshot() {
		state := t.State()
		switch state {
		case domain.StateRunning, domain.StateStopping, domain.StateStopped:
			// Only Running counts toward the gauge; Stopping and Stopped are
			// mid-teardown leftovers that still need eviction.
			if state == domain.StateRunning {
				running++
			}
			if t.IdleFor(now) < r.containerIdle {
				continue
			}
			// Evict re-checks idleness under the target lock, so a request
			// that slipped in while we waited wins.
			evicted, err := r.manager.Evict(ctx, t, r.containerIdle)
			if err != nil {
				r.log.Warn("container eviction failed, will retry",
					zap.String("image", t.Ref().String()), zap.Error(err))
				continue
			}
			if evicted {
				if state == domain.StateRunning {
					running--
				}
				metrics.ReapedContainers.Inc()
			}
		default:
			r.reapImage(ctx, t, now)
		}
	}

	metrics.RunningTargets.Set(float64(running))
}

// reapImage handles phase two for a target with no running container: drop
// the local image copy for idle remote-origin targets, untrack local ones.
func (r *Reaper) reapImage(ctx context.Context, t *domain.Target, now time.Time) {
	if t.IdleFor(now) < r.imageIdle {
		return
	}

	// Hold the target lock so an in-flight launch never races the removal,
	// and re-check state and idleness once held. A request holding this
	// handle re-asserts registry membership under the same lock when it
	// launches, so untracking here cannot hide its container.
	if err := t.Acquire(ctx); err != nil {
		return
	}
	defer t.Release()

	if t.State() != domain.StateAbsent && t.State() != domain.StateFailed {
		return
	}
	if t.IdleFor(time.Now()) < r.imageIdle {
		return
	}

	switch t.Origin() {
	case domain.OriginRemote:
		if err := r.runtime.RemoveImage(ctx, t.Ref()); err != nil {
			r.log.Warn("image removal failed, will retry",
				zap.String("image", t.Ref().String()), zap.Error(err))
			return
		}
		metrics.ReapedImages.Inc()
		r.log.Info("idle image removed", zap.String("image", t.Ref().String()))
	default:
		// Local or unknown origin: removal would be an unrecoverable loss,
		// so only the registry entry is dropped.
		r.log.Info("untracking idle local-origin target",
			zap.String("image", t.Ref().String()))
	}
	r.registry.Remove(t.Ref())
}
