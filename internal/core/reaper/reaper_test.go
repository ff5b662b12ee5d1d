package reaper

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lazygate/lazygate/internal/core/domain"
	"github.com/lazygate/lazygate/internal/core/lifecycle"
	"github.com/lazygate/lazygate/internal/core/registry"
	"github.com/lazygate/lazygate/internal/metrics"
)

// fakeRuntime is a minimal in-memory ports.Runtime for reaper tests.
type fakeRuntime struct {
	mu            sync.Mutex
	localImages   map[string]bool
	containers    map[string]string // id -> image
	removedImages []string
	nextID        int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		localImages: make(map[string]bool),
		containers:  make(map[string]string),
	}
}

func (f *fakeRuntime) ImagePresent(_ context.Context, ref domain.ImageReference) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localImages[ref.String()], nil
}

func (f *fakeRuntime) PullImage(_ context.Context, ref domain.ImageReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localImages[ref.String()] = true
	return nil
}

func (f *fakeRuntime) CreateAndStart(_ context.Context, ref domain.ImageReference, targetPort int) (domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("container-%d", f.nextID)
	f.containers[id] = ref.String()
	return domain.Container{
		ID:      id,
		Name:    id,
		Image:   ref.String(),
		State:   "running",
		Address: fmt.Sprintf("%s:%d", id, targetPort),
	}, nil
}

func (f *fakeRuntime) HealthProbe(_ context.Context, _ string) error { return nil }

func (f *fakeRuntime) StopContainer(_ context.Context, _ string) error { return nil }

func (f *fakeRuntime) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *fakeRuntime) RemoveImage(_ context.Context, ref domain.ImageReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.localImages, ref.String())
	f.removedImages = append(f.removedImages, ref.String())
	return nil
}

func (f *fakeRuntime) ListContainers(_ context.Context) ([]domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Container
	for id, img := range f.containers {
		out = append(out, domain.Container{ID: id, Name: id, Image: img, State: "running"})
	}
	return out, nil
}

func (f *fakeRuntime) ListImages(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for img := range f.localImages {
		out = append(out, img)
	}
	return out, nil
}

func (f *fakeRuntime) containerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeRuntime) removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removedImages...)
}

var testRef = domain.ImageReference{Repository: "my-org/my-app", Tag: "v1"}

func TestSweepStopsIdleContainer(t *testing.T) {
	fr := newFakeRuntime()
	fr.localImages[testRef.String()] = true
	reg := registry.New()
	mgr := lifecycle.New(fr, reg, 80, time.Second, zap.NewNop())

	target := reg.GetOrCreate(testRef)
	_, err := mgr.EnsureRunning(context.Background(), target)
	require.NoError(t, err)

	r := New(reg, mgr, fr, time.Minute, 20*time.Millisecond, time.Hour, zap.NewNop())

	time.Sleep(40 * time.Millisecond)
	r.Sweep(context.Background())

	assert.Equal(t, domain.StateAbsent, target.State())
	assert.Zero(t, fr.containerCount())
}

func TestSweepKeepsActiveContainer(t *testing.T) {
	fr := newFakeRuntime()
	fr.localImages[testRef.String()] = true
	reg := registry.New()
	mgr := lifecycle.New(fr, reg, 80, time.Second, zap.NewNop())

	target := reg.GetOrCreate(testRef)
	_, err := mgr.EnsureRunning(context.Background(), target)
	require.NoError(t, err)

	r := New(reg, mgr, fr, time.Minute, time.Hour, time.Hour, zap.NewNop())
	r.Sweep(context.Background())

	assert.Equal(t, domain.StateRunning, target.State())
	assert.Equal(t, 1, fr.containerCount())
}

func TestSweepRemovesIdleRemoteImage(t *testing.T) {
	fr := newFakeRuntime()
	reg := registry.New()
	mgr := lifecycle.New(fr, reg, 80, time.Second, zap.NewNop())

	// Image absent locally, so the launch pulls it: Remote origin.
	target := reg.GetOrCreate(testRef)
	_, err := mgr.EnsureRunning(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, domain.OriginRemote, target.Origin())

	_, err = mgr.Evict(context.Background(), target, 0)
	require.NoError(t, err)

	r := New(reg, mgr, fr, time.Minute, time.Hour, 20*time.Millisecond, zap.NewNop())
	time.Sleep(40 * time.Millisecond)
	r.Sweep(context.Background())

	assert.Equal(t, []string{testRef.String()}, fr.removed())
	assert.Equal(t, 0, reg.Len(), "fully torn down target is dropped from the registry")
}

func TestSweepNeverRemovesLocalImage(t *testing.T) {
	fr := newFakeRuntime()
	fr.localImages[testRef.String()] = true
	reg := registry.New()
	mgr := lifecycle.New(fr, reg, 80, time.Second, zap.NewNop())

	target := reg.GetOrCreate(testRef)
	_, err := mgr.EnsureRunning(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, domain.OriginLocal, target.Origin())

	_, err = mgr.Evict(context.Background(), target, 0)
	require.NoError(t, err)

	r := New(reg, mgr, fr, time.Minute, time.Hour, 20*time.Millisecond, zap.NewNop())
	time.Sleep(40 * time.Millisecond)
	r.Sweep(context.Background())

	assert.Empty(t, fr.removed(), "local-origin images are never removed")
	assert.Equal(t, 0, reg.Len(), "idle local target is untracked, not deleted")

	present, err := fr.ImagePresent(context.Background(), testRef)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestSweepKeepsRecentImage(t *testing.T) {
	fr := newFakeRuntime()
	reg := registry.New()
	mgr := lifecycle.New(fr, reg, 80, time.Second, zap.NewNop())

	target := reg.GetOrCreate(testRef)
	_, err := mgr.EnsureRunning(context.Background(), target)
	require.NoError(t, err)
	_, err = mgr.Evict(context.Background(), target, 0)
	require.NoError(t, err)

	r := New(reg, mgr, fr, time.Minute, time.Hour, time.Hour, zap.NewNop())
	r.Sweep(context.Background())

	assert.Empty(t, fr.removed())
	assert.Equal(t, 1, reg.Len())
}

func TestUntrackedHandleStaysReapable(t *testing.T) {
	fr := newFakeRuntime()
	fr.localImages[testRef.String()] = true
	reg := registry.New()
	mgr := lifecycle.New(fr, reg, 80, time.Second, zap.NewNop())

	// A request resolves the target and holds the handle without launching
	// yet; meanwhile the target goes idle long enough for a sweep to
	// untrack it.
	handle := reg.GetOrCreate(testRef)

	r := New(reg, mgr, fr, time.Minute, 20*time.Millisecond, 20*time.Millisecond, zap.NewNop())
	time.Sleep(40 * time.Millisecond)
	r.Sweep(context.Background())
	require.Equal(t, 0, reg.Len())

	// The held handle launches afterwards. Its container must re-enter the
	// registry, or no sweep would ever reclaim it.
	_, err := mgr.EnsureRunning(context.Background(), handle)
	require.NoError(t, err)
	require.Equal(t, 1, fr.containerCount())
	assert.Equal(t, 1, reg.Len())

	time.Sleep(40 * time.Millisecond)
	r.Sweep(context.Background())
	assert.Zero(t, fr.containerCount(), "container launched on a previously untracked handle must still be reaped")
}

func TestSweepGaugeCountsOnlyRunningTargets(t *testing.T) {
	fr := newFakeRuntime()
	fr.localImages[testRef.String()] = true
	reg := registry.New()
	mgr := lifecycle.New(fr, reg, 80, time.Second, zap.NewNop())

	running := reg.GetOrCreate(testRef)
	_, err := mgr.EnsureRunning(context.Background(), running)
	require.NoError(t, err)

	// A target stuck mid-teardown is evictable but not running.
	stopped := reg.GetOrCreate(domain.ImageReference{Repository: "my-org/other", Tag: "v2"})
	stopped.SetState(domain.StateStopped)

	r := New(reg, mgr, fr, time.Minute, time.Hour, time.Hour, zap.NewNop())
	r.Sweep(context.Background())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RunningTargets))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fr := newFakeRuntime()
	reg := registry.New()
	mgr := lifecycle.New(fr, reg, 80, time.Second, zap.NewNop())
	r := New(reg, mgr, fr, 10*time.Millisecond, time.Hour, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
