// Package config loads the proxy's configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the validated runtime configuration.
type Config struct {
	// ListenAddr is where the proxy itself listens.
	ListenAddr string
	// BasePath is the URL prefix proxied paths must carry. May be empty, in
	// which case every path is a candidate.
	BasePath string
	// Image is the base image name to which the first path segment is
	// appended as a tag. May be empty, in which case the first segment is
	// itself the full image name.
	Image string
	// TargetPort is the port backend containers are expected to listen on.
	TargetPort int
	// ContainerIdle is how long a container may go without requests before
	// the reaper stops it.
	ContainerIdle time.Duration
	// ImageIdle is how long a remote-origin image may sit unused with no
	// running container before its local copy is removed.
	ImageIdle time.Duration
	// StartupTimeout bounds how long a new container may take to answer its
	// first health probe.
	StartupTimeout time.Duration
	// ReaperInterval is the sweep period of the idle reaper.
	ReaperInterval time.Duration
	// DockerNetwork is the bridge network child containers are attached to.
	DockerNetwork string
}

// Load reads configuration from the environment, applies defaults, and
// validates. An invalid configuration is a fatal startup error: the caller
// must refuse to accept traffic.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("base_path", "")
	v.SetDefault("image", "")
	v.SetDefault("port", 80)
	v.SetDefault("container_timeout", 300)
	v.SetDefault("image_timeout", 1800)
	v.SetDefault("startup_timeout", 30)
	v.SetDefault("reaper_interval", 60)
	v.SetDefault("docker_network", "lazygate-net")

	cfg := &Config{
		ListenAddr:     v.GetString("listen_addr"),
		BasePath:       strings.Trim(v.GetString("base_path"), "/"),
		Image:          v.GetString("image"),
		TargetPort:     v.GetInt("port"),
		ContainerIdle:  time.Duration(v.GetInt("container_timeout")) * time.Second,
		ImageIdle:      time.Duration(v.GetInt("image_timeout")) * time.Second,
		StartupTimeout: time.Duration(v.GetInt("startup_timeout")) * time.Second,
		ReaperInterval: time.Duration(v.GetInt("reaper_interval")) * time.Second,
		DockerNetwork:  v.GetString("docker_network"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the proxy cannot safely run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}
	if c.TargetPort < 1 || c.TargetPort > 65535 {
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.TargetPort)
	}
	if c.ContainerIdle <= 0 {
		return fmt.Errorf("CONTAINER_TIMEOUT must be positive, got %s", c.ContainerIdle)
	}
	if c.ImageIdle <= 0 {
		return fmt.Errorf("IMAGE_TIMEOUT must be positive, got %s", c.ImageIdle)
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("STARTUP_TIMEOUT must be positive, got %s", c.StartupTimeout)
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive, got %s", c.ReaperInterval)
	}
	if c.DockerNetwork == "" {
		return fmt.Errorf("DOCKER_NETWORK must not be empty")
	}
	return nil
}
