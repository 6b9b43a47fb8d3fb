package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

// Route keys used for rate-limit budgets.
const (
	RouteRegister        = "auth.register"
	RouteLogin           = "auth.login"
	RouteRefresh         = "auth.refresh"
	RouteLogout          = "auth.logout"
	RouteLogoutAll       = "auth.logout_all"
	RouteSessions        = "auth.sessions"
	RoutePassword        = "auth.password"
	RouteAPIKeysList     = "apikeys.list"
	RouteAPIKeysCreate   = "apikeys.create"
	RouteAPIKeysRotate   = "apikeys.rotate"
	RouteAPIKeysRevoke   = "apikeys.revoke"
	RouteDeletionRequest = "account.deletion.request"
	RouteDeletionConfirm = "account.deletion.confirm"
	RouteDeletionCancel  = "account.deletion.cancel"
	RouteDeletionStatus  = "account.deletion.status"
	RouteWhoAmIKey       = "whoami.key"
)

// Config wires optional collaborators into the router.
type Config struct {
	Logger *zap.Logger
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
	// MetricsHandler is mounted at GET /metrics when set.
	MetricsHandler http.Handler
	// RequestTimeout bounds each request context; zero disables it.
	RequestTimeout time.Duration
}

// Handler bundles the Engine for the route handlers.
type Handler struct {
	engine *authcore.Engine
	logger *zap.Logger
}

// NewServer returns an echo instance with every route registered.
func NewServer(engine *authcore.Engine, cfg Config) *echo.Echo {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Use(echomw.Recover())
	e.Use(echo.WrapMiddleware(middleware.ClientInfo(cfg.TrustProxy)))
	e.Use(requestLogger(logger))
	if cfg.RequestTimeout > 0 {
		e.Use(requestTimeout(cfg.RequestTimeout))
	}

	h := &Handler{engine: engine, logger: logger.Named("http")}

	e.GET("/healthz", h.Health)
	if cfg.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.MetricsHandler))
	}

	guard := echo.WrapMiddleware(middleware.Guard(engine))
	limit := func(route string) echo.MiddlewareFunc {
		return echo.WrapMiddleware(middleware.RateLimit(engine, route))
	}

	v1 := e.Group("/v1")

	// The limiter runs ahead of authentication so rejected credentials are
	// charged too.
	auth := v1.Group("/auth")
	auth.POST("/register", h.Register, limit(RouteRegister))
	auth.POST("/login", h.Login, limit(RouteLogin))
	auth.POST("/refresh", h.Refresh, limit(RouteRefresh))
	auth.POST("/logout", h.Logout, limit(RouteLogout))
	auth.POST("/logout-all", h.LogoutAll, limit(RouteLogoutAll), guard)
	auth.GET("/sessions", h.ListSessions, limit(RouteSessions), guard)
	auth.POST("/password", h.ChangePassword, limit(RoutePassword), guard)

	keys := v1.Group("/api-keys")
	keys.GET("", h.ListAPIKeys, limit(RouteAPIKeysList), guard)
	keys.POST("", h.CreateAPIKey, limit(RouteAPIKeysCreate), guard)
	keys.POST("/:id/rotate", h.RotateAPIKey, limit(RouteAPIKeysRotate), guard)
	keys.DELETE("/:id", h.RevokeAPIKey, limit(RouteAPIKeysRevoke), guard)

	deletion := v1.Group("/account/deletion")
	deletion.POST("", h.RequestDeletion, limit(RouteDeletionRequest), guard)
	deletion.GET("", h.DeletionStatus, limit(RouteDeletionStatus), guard)
	deletion.DELETE("", h.CancelDeletion, limit(RouteDeletionCancel), guard)
	deletion.POST("/confirm", h.ConfirmDeletion, limit(RouteDeletionConfirm))

	v1.GET("/whoami/key", h.WhoAmIKey,
		limit(RouteWhoAmIKey), echo.WrapMiddleware(middleware.RequireAPIKey(engine, "")))

	return e
}

// Health reports whether the store answers.
func (h *Handler) Health(c echo.Context) error {
	if err := h.engine.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", authcore.RequestIDFromContext(req.Context())),
			)
			return nil
		}
	}
}

func requestTimeout(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
