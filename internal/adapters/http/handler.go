package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lazygate/lazygate/internal/core/domain"
	"github.com/lazygate/lazygate/internal/core/ports"
	"github.com/lazygate/lazygate/internal/core/registry"
)

// AdminHandler exposes the operational surface: inspect targets, force an
// eviction, build a local image from source.
type AdminHandler struct {
	registry *registry.Registry
	runtime  ports.Runtime
	manager  lifecycleManager
	builder  ports.Builder
	log      *zap.Logger
}

// NewAdminHandler wires the admin routes' dependencies.
func NewAdminHandler(reg *registry.Registry, rt ports.Runtime, mgr lifecycleManager, b ports.Builder, log *zap.Logger) *AdminHandler {
	return &AdminHandler{registry: reg, runtime: rt, manager: mgr, builder: b, log: log}
}

// ListTargets returns a snapshot of every tracked target.
func (h *AdminHandler) ListTargets(c *fiber.Ctx) error {
	now := time.Now()
	targets := h.registry.Snapshot()
	out := make([]domain.TargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Info(now))
	}
	return c.JSON(out)
}

// ListContainers returns the proxy-owned containers as the engine sees
// them, running or not.
func (h *AdminHandler) ListContainers(c *fiber.Ctx) error {
	containers, err := h.runtime.ListContainers(c.Context())
	if err != nil {
		return writeError(c, fiber.StatusServiceUnavailable, err)
	}
	return c.JSON(containers)
}

// ListImages returns the image references present on the host.
func (h *AdminHandler) ListImages(c *fiber.Ctx) error {
	images, err := h.runtime.ListImages(c.Context())
	if err != nil {
		return writeError(c, fiber.StatusServiceUnavailable, err)
	}
	return c.JSON(fiber.Map{"images": images})
}

// EvictTarget force-stops a target's container regardless of idleness. The
// image reference comes from the "image" query parameter.
func (h *AdminHandler) EvictTarget(c *fiber.Ctx) error {
	image := c.Query("image")
	if image == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "image query parameter is required",
		})
	}

	target, ok := h.registry.Get(domain.ParseImageReference(image))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no such target: " + image,
		})
	}

	evicted, err := h.manager.Evict(c.Context(), target, 0)
	if err != nil {
		return writeError(c, fiber.StatusServiceUnavailable, err)
	}
	h.log.Info("admin eviction", zap.String("image", image), zap.Bool("evicted", evicted))
	return c.JSON(fiber.Map{"image": image, "evicted": evicted})
}

// BuildRequest is the body of POST /admin/build.
type BuildRequest struct {
	RepoURL string `json:"repo_url"`
	Image   string `json:"image"`
}

// Build clones a repository and builds a local image from it. The result is
// immediately servable through the proxy and, being Local origin, is never
// reaped.
func (h *AdminHandler) Build(c *fiber.Ctx) error {
	var req BuildRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.RepoURL == "" || req.Image == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "repo_url and image are required",
		})
	}

	built, err := h.builder.BuildImage(c.Context(), req.RepoURL, req.Image)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "build failed: " + err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"image": built})
}

// Healthz reports liveness of the proxy itself.
func (h *AdminHandler) Healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "targets": h.registry.Len()})
}
