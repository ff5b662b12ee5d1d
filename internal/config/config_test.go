package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Empty(t, cfg.BasePath)
	assert.Empty(t, cfg.Image)
	assert.Equal(t, 80, cfg.TargetPort)
	assert.Equal(t, 5*time.Minute, cfg.ContainerIdle)
	assert.Equal(t, 30*time.Minute, cfg.ImageIdle)
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, time.Minute, cfg.ReaperInterval)
	assert.Equal(t, "lazygate-net", cfg.DockerNetwork)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BASE_PATH", "/preview/")
	t.Setenv("IMAGE", "my-org/my-app")
	t.Setenv("PORT", "3000")
	t.Setenv("CONTAINER_TIMEOUT", "120")
	t.Setenv("IMAGE_TIMEOUT", "600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "preview", cfg.BasePath, "surrounding slashes are stripped")
	assert.Equal(t, "my-org/my-app", cfg.Image)
	assert.Equal(t, 3000, cfg.TargetPort)
	assert.Equal(t, 2*time.Minute, cfg.ContainerIdle)
	assert.Equal(t, 10*time.Minute, cfg.ImageIdle)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port zero", "PORT", "0"},
		{"port out of range", "PORT", "70000"},
		{"port not a number", "PORT", "eighty"},
		{"negative container timeout", "CONTAINER_TIMEOUT", "-5"},
		{"zero image timeout", "IMAGE_TIMEOUT", "0"},
		{"zero startup timeout", "STARTUP_TIMEOUT", "0"},
		{"zero reaper interval", "REAPER_INTERVAL", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err, "the proxy must refuse to start with %s=%s", tt.key, tt.value)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		ListenAddr:     ":8080",
		TargetPort:     80,
		ContainerIdle:  time.Minute,
		ImageIdle:      time.Minute,
		StartupTimeout: time.Second,
		ReaperInterval: time.Second,
		DockerNetwork:  "net",
	}
	require.NoError(t, valid.Validate())

	broken := *valid
	broken.DockerNetwork = ""
	assert.Error(t, broken.Validate())

	broken = *valid
	broken.ListenAddr = ""
	assert.Error(t, broken.Validate())
}
