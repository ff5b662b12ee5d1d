package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/lazygate/lazygate/internal/core/domain"
	"github.com/lazygate/lazygate/internal/core/registry"
	"github.com/lazygate/lazygate/internal/core/resolver"
	"github.com/lazygate/lazygate/internal/metrics"
)

// lifecycleManager is the slice of the lifecycle manager the handlers use.
// *lifecycle.Manager satisfies it; tests substitute fakes.
type lifecycleManager interface {
	EnsureRunning(ctx context.Context, t *domain.Target) (string, error)
	Evict(ctx context.Context, t *domain.Target, minIdle time.Duration) (bool, error)
}

// ProxyHandler is the request path: resolve the image, ensure its container
// runs, and stream the request through to it.
type ProxyHandler struct {
	basePath  string
	baseImage string
	registry  *registry.Registry
	manager   lifecycleManager
	log       *zap.Logger
}

// NewProxyHandler wires the proxy route. basePath and baseImage follow the
// resolver's rules; either may be empty.
func NewProxyHandler(basePath, baseImage string, reg *registry.Registry, mgr lifecycleManager, log *zap.Logger) *ProxyHandler {
	return &ProxyHandler{
		basePath:  basePath,
		baseImage: baseImage,
		registry:  reg,
		manager:   mgr,
		log:       log,
	}
}

// Handle serves one proxied request.
func (h *ProxyHandler) Handle(c *fiber.Ctx) error {
	ref, remaining, err := resolver.Resolve(c.Path(), h.basePath, h.baseImage)
	if err != nil {
		return writeError(c, fiber.StatusNotFound, err)
	}

	target := h.registry.GetOrCreate(ref)

	address, err := h.manager.EnsureRunning(c.Context(), target)
	if err != nil {
		return writeError(c, launchStatus(err), err)
	}

	err = h.forward(c, address, remaining)
	if errors.Is(err, domain.ErrBackendUnavailable) {
		// The backend died after its health check. Relaunch once and retry
		// a single time before giving up.
		h.log.Warn("backend failed mid-request, relaunching",
			zap.String("image", ref.String()), zap.Error(err))
		address, err = h.manager.EnsureRunning(c.Context(), target)
		if err != nil {
			return writeError(c, launchStatus(err), err)
		}
		err = h.forward(c, address, remaining)
	}
	if err != nil {
		return writeError(c, fiber.StatusBadGateway, err)
	}

	target.Touch(time.Now())
	metrics.ProxiedRequests.WithLabelValues(strconv.Itoa(c.Response().StatusCode())).Inc()
	return nil
}

// forward streams the request to the backend address, rewriting the path to
// what remains after the image segment. Hop-by-hop headers are stripped by
// the reverse proxy; everything else passes through unmodified.
func (h *ProxyHandler) forward(c *fiber.Ctx, address, remaining string) (err error) {
	remote := &url.URL{Scheme: "http", Host: address}

	proxy := httputil.NewSingleHostReverseProxy(remote)
	proxy.ErrorLog = zap.NewStdLog(h.log)

	// When the backend dies after the response headers went out, the reverse
	// proxy aborts with http.ErrAbortHandler instead of calling ErrorHandler.
	// The adaptor buffers the response until the handler returns, so nothing
	// has reached the client yet: log it and report the backend as gone so
	// the caller can relaunch.
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok && errors.Is(e, http.ErrAbortHandler) {
				h.log.Warn("backend connection lost mid-response",
					zap.String("address", address))
				err = fmt.Errorf("%w: %s: connection lost mid-response",
					domain.ErrBackendUnavailable, address)
				return
			}
			panic(rec)
		}
	}()

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		// The backend expects a Host it recognizes, not the proxy's.
		req.Host = remote.Host
		req.URL.Host = remote.Host
		req.URL.Scheme = remote.Scheme
		req.URL.Path = "/" + remaining
	}

	// Capture connectivity failures instead of writing a response, so the
	// caller can relaunch and retry once.
	var proxyErr error
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		proxyErr = err
	}

	if ferr := adaptor.HTTPHandler(proxy)(c); ferr != nil {
		return ferr
	}
	if proxyErr != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrBackendUnavailable, address, proxyErr)
	}
	return nil
}

// launchStatus maps a lifecycle error to the client-facing status code.
func launchStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrHealthCheckTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRuntimeUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusBadGateway
	}
}

// writeError sends the JSON error body with its machine-readable reason.
func writeError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"error":  err.Error(),
		"reason": domain.ReasonCode(err),
	})
}
