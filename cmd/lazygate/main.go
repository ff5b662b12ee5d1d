package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lazygate/lazygate/internal/adapters/builder"
	"github.com/lazygate/lazygate/internal/adapters/docker"
	handlers "github.com/lazygate/lazygate/internal/adapters/http"
	"github.com/lazygate/lazygate/internal/config"
	"github.com/lazygate/lazygate/internal/core/domain"
	"github.com/lazygate/lazygate/internal/core/lifecycle"
	"github.com/lazygate/lazygate/internal/core/reaper"
	"github.com/lazygate/lazygate/internal/core/registry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration, refusing to start", zap.Error(err))
	}

	logger.Info("lazygate starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("base_path", "/"+cfg.BasePath),
		zap.String("base_image", cfg.Image),
		zap.Int("target_port", cfg.TargetPort),
		zap.Duration("container_idle", cfg.ContainerIdle),
		zap.Duration("image_idle", cfg.ImageIdle),
		zap.String("network", cfg.DockerNetwork))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := docker.NewAdapter(cfg.DockerNetwork, cfg.TargetPort, logger)
	if err != nil {
		logger.Fatal("failed to initialize docker adapter", zap.Error(err))
	}
	if err := runtime.Ping(ctx); err != nil {
		logger.Fatal("container engine unreachable", zap.Error(err))
	}
	if err := runtime.EnsureNetwork(ctx); err != nil {
		logger.Fatal("network bootstrap failed", zap.Error(err))
	}
	runtime.ConnectSelf(ctx)

	imageBuilder, err := builder.NewAdapter(logger)
	if err != nil {
		logger.Fatal("failed to initialize builder adapter", zap.Error(err))
	}

	reg := registry.New()
	manager := lifecycle.New(runtime, reg, cfg.TargetPort, cfg.StartupTimeout, logger)

	adoptExisting(ctx, reg, runtime, logger)

	idle := reaper.New(reg, manager, runtime,
		cfg.ReaperInterval, cfg.ContainerIdle, cfg.ImageIdle, logger)
	go idle.Run(ctx)

	proxyHandler := handlers.NewProxyHandler(cfg.BasePath, cfg.Image, reg, manager, logger)
	adminHandler := handlers.NewAdminHandler(reg, runtime, manager, imageBuilder, logger)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})

	app.Get("/healthz", adminHandler.Healthz)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	admin := app.Group("/admin")
	admin.Get("/targets", adminHandler.ListTargets)
	admin.Delete("/targets", adminHandler.EvictTarget)
	admin.Get("/containers", adminHandler.ListContainers)
	admin.Get("/images", adminHandler.ListImages)
	admin.Post("/build", adminHandler.Build)

	// Everything else is a candidate proxy path; the resolver rejects paths
	// outside the base path.
	app.All("/*", proxyHandler.Handle)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := app.Listen(cfg.ListenAddr); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// adoptExisting rebuilds registry state from runtime introspection: any
// running container carrying our ownership label becomes a Running target.
// Adopted targets count as Local origin so a restarted proxy never deletes
// an image it cannot prove it pulled.
func adoptExisting(ctx context.Context, reg *registry.Registry, runtime *docker.Adapter, logger *zap.Logger) {
	containers, err := runtime.ListContainers(ctx)
	if err != nil {
		logger.Warn("could not list containers for adoption", zap.Error(err))
		return
	}

	now := time.Now()
	for _, c := range containers {
		if !c.Running() || c.Image == "" {
			continue
		}
		ref := domain.ParseImageReference(c.Image)
		target := reg.GetOrCreate(ref)
		target.AdoptRunning(c.ID, c.Address, now)
		logger.Info("adopted running container",
			zap.String("image", c.Image),
			zap.String("container", c.ID))
	}
}
