package api

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/obs"
	"golang.org/x/time/rate"
)

const principalKey = "identity.principal"

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// principal returns the authenticated caller set by RequireSession.
func principal(c *fiber.Ctx) (*identity.Principal, error) {
	p, ok := c.Locals(principalKey).(*identity.Principal)
	if !ok || p == nil {
		return nil, identity.ErrUnauthorized
	}
	return p, nil
}

// RequireSession resolves the bearer access token into a principal and
// stores the user and claims in the request context.
func RequireSession(mgr *identity.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return identity.ErrUnauthorized
		}

		p, err := mgr.Authenticate(c.UserContext(), token)
		if err != nil {
			return err
		}

		ctx := identity.WithContext(c.UserContext(), p.User)
		ctx = identity.WithClaimsContext(ctx, p.Claims)
		c.SetUserContext(ctx)
		c.Locals(principalKey, p)
		return c.Next()
	}
}

// RequirePermission rejects callers whose effective permissions do not
// include permission. It must run after RequireSession.
func RequirePermission(mgr *identity.Manager, permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := principal(c)
		if err != nil {
			return err
		}
		ok, err := mgr.HasPermission(c.UserContext(), p.User.ID, permission)
		if err != nil {
			return err
		}
		if !ok {
			return identity.ErrPermissionDenied
		}
		return c.Next()
	}
}

// IPRateLimiter keeps one token bucket per client IP. Idle buckets are
// dropped after ttl.
type IPRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastPrune time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewIPRateLimiter allows perMinute requests per IP with the given burst.
func NewIPRateLimiter(perMinute, burst int) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &IPRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether ip may make a request now.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > time.Minute {
		for key, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, key)
			}
		}
		l.lastPrune = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Handler returns the fiber middleware.
func (l *IPRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Allow(c.IP()) {
			return ErrRateLimited
		}
		return c.Next()
	}
}

// Instrument records request counts and latencies by route pattern.
func Instrument(m *obs.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		done := m.RequestStarted(utils.CopyString(c.Method()))
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = StatusFor(asRichError(err))
		}
		done(c.Route().Path, status)
		return err
	}
}
