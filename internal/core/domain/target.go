package domain

import (
	"context"
	"sync"
	"time"
)

// Origin records how a target's image came to exist on the host.
type Origin int

const (
	// OriginUnknown means no pull decision has been made yet.
	OriginUnknown Origin = iota
	// OriginLocal means the image was already present on the host. Local
	// images cannot be re-pulled, so the reaper never removes them.
	OriginLocal
	// OriginRemote means the proxy pulled the image from a registry and may
	// reclaim it once idle.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a target's container.
type State int

const (
	StateAbsent State = iota
	StatePulling
	StateCreating
	StateStarting
	StateHealthChecking
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePulling:
		return "pulling"
	case StateCreating:
		return "creating"
	case StateStarting:
		return "starting"
	case StateHealthChecking:
		return "health-checking"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Target is the logical backend for one ImageReference: at most one
// container, guarded by a target-level lock that serializes launches and
// evictions.
//
// The big lock is a capacity-1 channel rather than a sync.Mutex so that a
// caller waiting for an in-flight launch can abandon the wait when its
// request context is cancelled. The launch itself is not tied to any single
// request and keeps going for the benefit of other waiters.
type Target struct {
	ref ImageReference
	sem chan struct{}

	mu          sync.Mutex
	state       State
	origin      Origin
	containerID string
	address     string
	lastRequest time.Time
	lastHealthy time.Time
}

// TargetInfo is a consistent point-in-time view of a target, used by the
// reaper and the admin API.
type TargetInfo struct {
	Image       string `json:"image"`
	State       string `json:"state"`
	Origin      string `json:"origin"`
	ContainerID string `json:"container_id,omitempty"`
	Address     string `json:"address,omitempty"`
	IdleSeconds int64  `json:"idle_seconds"`
}

// NewTarget creates a target in StateAbsent with no pull decision made.
func NewTarget(ref ImageReference) *Target {
	return &Target{
		ref:         ref,
		sem:         make(chan struct{}, 1),
		state:       StateAbsent,
		lastRequest: time.Now(),
	}
}

// Ref returns the immutable image reference that identifies this target.
func (t *Target) Ref() ImageReference { return t.ref }

// Acquire takes the target lock, or gives up when ctx is cancelled first.
// Operations on one target are totally ordered by this lock.
func (t *Target) Acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the target lock without blocking.
func (t *Target) TryAcquire() bool {
	select {
	case t.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns the target lock.
func (t *Target) Release() { <-t.sem }

// State returns the current lifecycle state.
func (t *Target) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState records a lifecycle transition.
func (t *Target) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Origin returns the pull decision made at first launch.
func (t *Target) Origin() Origin {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.origin
}

// SetOriginOnce fixes the origin at the first pull decision. Later calls are
// no-ops: origin is immutable once set.
func (t *Target) SetOriginOnce(o Origin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.origin == OriginUnknown {
		t.origin = o
	}
}

// ContainerID returns the current container ID, or "" when absent.
func (t *Target) ContainerID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.containerID
}

// Address returns the forwarding address of the current container.
func (t *Target) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

// SetContainer records the container backing this target.
func (t *Target) SetContainer(id, address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.containerID = id
	t.address = address
}

// ClearContainer forgets the container after removal.
func (t *Target) ClearContainer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.containerID = ""
	t.address = ""
}

// Touch records request activity. lastRequest is monotonically
// non-decreasing; a stale clock reading never moves it backwards.
func (t *Target) Touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.After(t.lastRequest) {
		t.lastRequest = now
	}
}

// LastRequest returns the time of the most recent request activity.
func (t *Target) LastRequest() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRequest
}

// IdleFor returns how long the target has gone without request activity.
func (t *Target) IdleFor(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.Sub(t.lastRequest)
}

// MarkHealthy records a successful health probe.
func (t *Target) MarkHealthy(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHealthy = now
}

// LastHealthy returns the time of the most recent successful probe.
func (t *Target) LastHealthy() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHealthy
}

// AdoptRunning marks a pre-existing container, found by runtime
// introspection at startup, as this target's running backend. Adopted
// targets are treated as Local origin: a restarted proxy cannot prove it
// pulled the image, so it must never delete it.
func (t *Target) AdoptRunning(containerID, address string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateRunning
	t.containerID = containerID
	t.address = address
	if t.origin == OriginUnknown {
		t.origin = OriginLocal
	}
	if now.After(t.lastRequest) {
		t.lastRequest = now
	}
	t.lastHealthy = now
}

// Info returns a consistent snapshot of the target for reporting.
func (t *Target) Info(now time.Time) TargetInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TargetInfo{
		Image:       t.ref.String(),
		State:       t.state.String(),
		Origin:      t.origin.String(),
		ContainerID: t.containerID,
		Address:     t.address,
		IdleSeconds: int64(now.Sub(t.lastRequest).Seconds()),
	}
}
