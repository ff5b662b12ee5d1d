package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImageReference(t *testing.T) {
	tests := []struct {
		in       string
		wantRepo string
		wantTag  string
	}{
		{"nginx", "nginx", ""},
		{"nginx:1.25", "nginx", "1.25"},
		{"my-org/my-app:v1", "my-org/my-app", "v1"},
		{"localhost:5000/app", "localhost:5000/app", ""},
		{"localhost:5000/app:dev", "localhost:5000/app", "dev"},
	}
	for _, tt := range tests {
		ref := ParseImageReference(tt.in)
		assert.Equal(t, tt.wantRepo, ref.Repository, tt.in)
		assert.Equal(t, tt.wantTag, ref.Tag, tt.in)
		assert.Equal(t, tt.in, ref.String(), tt.in)
	}
}

func TestTouchIsMonotonic(t *testing.T) {
	target := NewTarget(ImageReference{Repository: "nginx"})

	now := time.Now()
	target.Touch(now.Add(time.Minute))
	target.Touch(now) // stale reading must not move the clock backwards
	assert.Equal(t, now.Add(time.Minute), target.LastRequest())
}

func TestOriginIsImmutableOnceSet(t *testing.T) {
	target := NewTarget(ImageReference{Repository: "nginx"})
	assert.Equal(t, OriginUnknown, target.Origin())

	target.SetOriginOnce(OriginRemote)
	target.SetOriginOnce(OriginLocal)
	assert.Equal(t, OriginRemote, target.Origin())
}

func TestAcquireRespectsContext(t *testing.T) {
	target := NewTarget(ImageReference{Repository: "nginx"})

	require.NoError(t, target.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := target.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	target.Release()
	require.NoError(t, target.Acquire(context.Background()))
	target.Release()
}

func TestAdoptRunningDefaultsToLocal(t *testing.T) {
	target := NewTarget(ImageReference{Repository: "nginx"})
	target.AdoptRunning("abc123", "lazygate-nginx:80", time.Now())

	assert.Equal(t, StateRunning, target.State())
	assert.Equal(t, OriginLocal, target.Origin())
	assert.Equal(t, "abc123", target.ContainerID())
	assert.Equal(t, "lazygate-nginx:80", target.Address())
}
