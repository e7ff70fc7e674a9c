// Package api exposes the identity Manager over HTTP with fiber.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/obs"
)

// Permissions guarding the admin routes.
const (
	PermRolesRead         = "roles:read"
	PermRolesManage       = "roles:manage"
	PermPermissionsManage = "permissions:manage"
)

// Option configures the HTTP server.
type Option func(*server)

// WithLogger sets the logger used for 5xx errors.
func WithLogger(l identity.Logger) Option {
	return func(s *server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics instruments every route and serves GET /metrics.
func WithMetrics(m *obs.Metrics) Option {
	return func(s *server) {
		s.metrics = m
	}
}

// WithRateLimit limits the unauthenticated auth routes per client IP.
func WithRateLimit(perMinute, burst int) Option {
	return func(s *server) {
		s.limiter = NewIPRateLimiter(perMinute, burst)
	}
}

// WithRateLimiter sets the limiter directly.
func WithRateLimiter(l *IPRateLimiter) Option {
	return func(s *server) {
		s.limiter = l
	}
}

type server struct {
	mgr     *identity.Manager
	logger  identity.Logger
	metrics *obs.Metrics
	limiter *IPRateLimiter
}

// New builds the fiber app serving mgr.
func New(mgr *identity.Manager, opts ...Option) *fiber.App {
	s := &server{mgr: mgr, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               "identityd",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(s.logger),
	})
	s.routes(app)
	return app
}

func (s *server) routes(app *fiber.App) {
	if s.metrics != nil {
		app.Use(Instrument(s.metrics))
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	limited := func(c *fiber.Ctx) error { return c.Next() }
	if s.limiter != nil {
		limited = s.limiter.Handler()
	}

	auth := app.Group("/auth")
	auth.Post("/register", limited, s.register)
	auth.Post("/activate", limited, s.activate)
	auth.Post("/activate/resend", limited, s.resendActivation)
	auth.Post("/login", limited, s.login)
	auth.Post("/refresh", limited, s.refresh)
	auth.Post("/logout", s.logout)
	auth.Get("/oauth/:provider", s.oauthRedirect)
	auth.Get("/oauth/:provider/callback", limited, s.oauthCallback)

	session := RequireSession(s.mgr)

	me := app.Group("/me", session)
	me.Get("", s.me)
	me.Get("/sessions", s.listSessions)
	me.Post("/sessions/revoke-others", s.revokeOtherSessions)
	me.Delete("/sessions/:id", s.revokeSession)
	me.Get("/permissions", s.myPermissions)
	me.Get("/providers/:provider/link", s.linkRedirect)
	me.Delete("/providers/:provider", s.unlinkProvider)
	me.Put("/providers/:provider/primary", s.setPrimaryProvider)

	rolesRead := RequirePermission(s.mgr, PermRolesRead)
	rolesManage := RequirePermission(s.mgr, PermRolesManage)
	permsManage := RequirePermission(s.mgr, PermPermissionsManage)

	roles := app.Group("/roles", session)
	roles.Get("", rolesRead, s.listRoles)
	roles.Post("", rolesManage, s.createRole)
	roles.Get("/:slug", rolesRead, s.getRole)
	roles.Patch("/:slug", rolesManage, s.updateRole)
	roles.Delete("/:slug", rolesManage, s.deleteRole)

	users := app.Group("/users", session)
	users.Put("/:id/role", rolesManage, s.assignRole)
	users.Get("/:id/permissions", permsManage, s.listUserPermissions)
	users.Post("/:id/permissions", permsManage, s.grantPermission)
	users.Delete("/:id/permissions/:permission", permsManage, s.revokePermission)
}

func clientInfo(c *fiber.Ctx) identity.ClientInfo {
	return identity.ClientInfo{
		UserAgent: c.Get(fiber.HeaderUserAgent),
		IP:        c.IP(),
	}
}

func bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return ErrMalformedBody
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
