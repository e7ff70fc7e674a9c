package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/obs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const testCode = "123456"

type testEnv struct {
	app *fiber.App
	mgr *identity.Manager
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, identity.CreateSchema(ctx, db))

	mgr := identity.NewManager(identity.NewRepositoryManager(db), identity.Config{
		SigningKey:            "0123456789abcdef0123456789abcdef",
		Issuer:                "test",
		AccessTokenTTL:        15 * time.Minute,
		SessionMaxAge:         identity.DefaultSessionMaxAge,
		RegistrationTTL:       identity.DefaultRegistrationTTL,
		MaxActivationAttempts: identity.DefaultMaxActivationAttempts,
		BcryptCost:            bcrypt.MinCost,
		DefaultRole:           identity.DefaultRoleSlug,
		ImplicitLinkPolicy:    string(identity.ImplicitLinkVerifiedEmail),
	}, identity.WithActivationCodes(func() (string, error) { return testCode, nil }))
	require.NoError(t, mgr.SeedSystemRoles(ctx))

	return &testEnv{app: New(mgr, opts...), mgr: mgr}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorTextCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["text_code"].(string)
	return code
}

// signUp registers, activates and logs in, returning the login body.
func (e *testEnv) signUp(t *testing.T, email string) map[string]any {
	t.Helper()

	status, _ := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "correct horse", "name": "Test User",
	})
	require.Equal(t, http.StatusAccepted, status)

	status, _ = e.do(t, http.MethodPost, "/auth/activate", "", map[string]string{
		"email": email, "code": testCode,
	})
	require.Equal(t, http.StatusCreated, status)

	status, body := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": email, "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, status)
	return body
}

func accessToken(body map[string]any) string {
	s, _ := body["access_token"].(string)
	return s
}

func refreshToken(body map[string]any) string {
	s, _ := body["refresh_token"].(string)
	return s
}

func TestRegisterDoesNotLeakCode(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "New@Example.com", "password": "correct horse", "name": "New",
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "new@example.com", body["email"])
	assert.NotEmpty(t, body["expires_at"])
	assert.NotContains(t, body, "code")
	assert.NotContains(t, body, "code_hash")
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	e := body["error"].(map[string]any)
	assert.Equal(t, "validation", e["category"])
	assert.NotEmpty(t, e["validation_errors"])
	assert.NotContains(t, e, "location")
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActivateWrongCode(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@example.com", "password": "correct horse", "name": "A",
	})
	require.Equal(t, http.StatusAccepted, status)

	status, body := env.do(t, http.MethodPost, "/auth/activate", "", map[string]string{
		"email": "a@example.com", "code": "000000",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, identity.TextCodeInvalidCode, errorTextCode(body))

	status, body = env.do(t, http.MethodPost, "/auth/activate", "", map[string]string{
		"email": "missing@example.com", "code": testCode,
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, identity.TextCodeRegistrationNotFound, errorTextCode(body))
}

func TestDuplicateRegistration(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "dup@example.com")

	status, body := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "dup@example.com", "password": "correct horse", "name": "Dup",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, identity.TextCodeEmailAlreadyRegistered, errorTextCode(body))
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t)
	login := env.signUp(t, "me@example.com")

	status, body := env.do(t, http.MethodGet, "/me", accessToken(login), nil)
	require.Equal(t, http.StatusOK, status)

	user := body["user"].(map[string]any)
	assert.Equal(t, "me@example.com", user["email"])
	assert.NotContains(t, user, "password_hash")
	assert.NotEmpty(t, body["session_id"])

	providers := body["providers"].([]any)
	require.Len(t, providers, 1)
	assert.Equal(t, "email", providers[0].(map[string]any)["provider"])
}

func TestLoginBadPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "bad@example.com")

	status, body := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "bad@example.com", "password": "wrong password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, identity.TextCodeInvalidCredentials, errorTextCode(body))
}

func TestMeRequiresBearer(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, identity.TextCodeUnauthorized, errorTextCode(body))

	status, _ = env.do(t, http.MethodGet, "/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSessionsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	first := env.signUp(t, "multi@example.com")

	_, second := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "multi@example.com", "password": "correct horse",
	})
	_, third := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "multi@example.com", "password": "correct horse",
	})

	status, body := env.do(t, http.MethodGet, "/me/sessions", accessToken(second), nil)
	require.Equal(t, http.StatusOK, status)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 3)

	current := 0
	for _, s := range sessions {
		if s.(map[string]any)["current"] == true {
			current++
		}
	}
	assert.Equal(t, 1, current)

	// revoke the third session explicitly
	thirdSession := third["session"].(map[string]any)["id"].(string)
	status, _ = env.do(t, http.MethodDelete, "/me/sessions/"+thirdSession, accessToken(second), nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = env.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken(third),
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = env.do(t, http.MethodPost, "/me/sessions/revoke-others", accessToken(second), nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["revoked"])

	status, _ = env.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken(first),
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, refreshed := env.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken(second),
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, refreshToken(second), refreshToken(refreshed))

	status, _ = env.do(t, http.MethodPost, "/auth/logout", "", map[string]string{
		"refresh_token": refreshToken(refreshed),
	})
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = env.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken(refreshed),
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUnlinkLastProvider(t *testing.T) {
	env := newTestEnv(t)
	login := env.signUp(t, "solo@example.com")

	status, body := env.do(t, http.MethodDelete, "/me/providers/email", accessToken(login), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, identity.TextCodeCannotUnlinkLastProvider, errorTextCode(body))

	status, body = env.do(t, http.MethodPut, "/me/providers/email/primary", accessToken(login), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, identity.TextCodeEmailCannotBePrimary, errorTextCode(body))

	status, body = env.do(t, http.MethodDelete, "/me/providers/myspace", accessToken(login), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, identity.TextCodeUnknownProvider, errorTextCode(body))
}

func TestOAuthDisabled(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/auth/oauth/google", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "OAUTH_DISABLED", errorTextCode(body))

	status, body = env.do(t, http.MethodGet, "/auth/oauth/email", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, identity.TextCodeUnknownProvider, errorTextCode(body))

	status, body = env.do(t, http.MethodGet, "/auth/oauth/google/callback?error=access_denied", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "OAUTH_DENIED", errorTextCode(body))
}

type stubFlow struct {
	opts identity.AuthorizeOptions
}

func (f *stubFlow) Authorize(_ context.Context, provider identity.Provider, opts identity.AuthorizeOptions) (string, error) {
	f.opts = opts
	return "https://" + provider.String() + ".example/authorize?state=x", nil
}

func (f *stubFlow) Callback(context.Context, identity.Provider, string, string, identity.ClientInfo) (*identity.OAuthOutcome, error) {
	return nil, identity.ErrUnauthorized
}

func TestOAuthRedirects(t *testing.T) {
	env := newTestEnv(t)
	flow := &stubFlow{}
	env.mgr.SetOAuthFlow(flow)

	req := httptest.NewRequest(http.MethodGet, "/auth/oauth/github?redirect=/dashboard", nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://github.example/authorize?state=x", resp.Header.Get("Location"))
	assert.Equal(t, identity.OAuthActionLogin, flow.opts.Action)
	assert.Equal(t, "/dashboard", flow.opts.RedirectURL)

	login := env.signUp(t, "linker@example.com")
	_, me := env.do(t, http.MethodGet, "/me", accessToken(login), nil)
	userID := me["user"].(map[string]any)["id"].(string)

	req = httptest.NewRequest(http.MethodGet, "/me/providers/google/link", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(login))
	resp, err = env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, identity.OAuthActionLink, flow.opts.Action)
	assert.Equal(t, userID, flow.opts.LinkUserID.String())
}

func TestOAuthRedirectsRejectForeignTargets(t *testing.T) {
	env := newTestEnv(t)
	flow := &stubFlow{}
	env.mgr.SetOAuthFlow(flow)
	login := env.signUp(t, "redirects@example.com")

	targets := []string{
		"https://evil.test/steal",
		"//evil.test/steal",
		"/\\evil.test",
		"javascript:alert(1)",
		"evil.test/steal",
	}
	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			status, body := env.do(t, http.MethodGet, "/auth/oauth/github?redirect="+url.QueryEscape(target), "", nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "INVALID_REDIRECT", errorTextCode(body))

			status, body = env.do(t, http.MethodGet, "/me/providers/google/link?redirect="+url.QueryEscape(target), accessToken(login), nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "INVALID_REDIRECT", errorTextCode(body))
		})
	}
	assert.Empty(t, flow.opts.RedirectURL)
}

func TestLocalRedirect(t *testing.T) {
	got, err := localRedirect("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = localRedirect("/settings/accounts?tab=linked#google")
	require.NoError(t, err)
	assert.Equal(t, "/settings/accounts?tab=linked#google", got)

	for _, raw := range []string{"http://evil.test", "//evil.test", "/\\evil.test", "/ok\\..", "/line\nbreak", "relative/path"} {
		_, err := localRedirect(raw)
		assert.ErrorIs(t, err, ErrInvalidRedirect, raw)
	}
}

func TestAdminRoutesRequirePermission(t *testing.T) {
	env := newTestEnv(t)
	login := env.signUp(t, "plain@example.com")

	status, body := env.do(t, http.MethodGet, "/roles", accessToken(login), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, identity.TextCodePermissionDenied, errorTextCode(body))

	status, _ = env.do(t, http.MethodGet, "/roles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminRoleAndPermissionManagement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.signUp(t, "admin@example.com")
	_, me := env.do(t, http.MethodGet, "/me", accessToken(admin), nil)
	adminID := me["user"].(map[string]any)["id"].(string)
	parsed, err := uuid.Parse(adminID)
	require.NoError(t, err)
	_, err = env.mgr.AssignRole(ctx, parsed, identity.AdminRoleSlug)
	require.NoError(t, err)
	token := accessToken(admin)

	member := env.signUp(t, "member@example.com")
	_, memberMe := env.do(t, http.MethodGet, "/me", accessToken(member), nil)
	memberID := memberMe["user"].(map[string]any)["id"].(string)

	status, body := env.do(t, http.MethodPost, "/roles", token, map[string]any{
		"name": "Editor", "slug": "editor", "permissions": []string{"posts:write", "posts:read"},
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "editor", body["slug"])

	status, body = env.do(t, http.MethodPost, "/roles", token, map[string]any{
		"name": "Editor", "slug": "editor",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, identity.TextCodeRoleAlreadyExists, errorTextCode(body))

	status, body = env.do(t, http.MethodPatch, "/roles/editor", token, map[string]any{
		"permissions": []string{"posts:read"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"posts:read"}, body["permissions"])

	status, body = env.do(t, http.MethodGet, "/roles", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["roles"], 3)

	status, body = env.do(t, http.MethodPut, "/users/"+memberID+"/role", token, map[string]string{"role": "editor"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "editor", body["role"])

	status, body = env.do(t, http.MethodDelete, "/roles/editor", token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, identity.TextCodeRoleInUse, errorTextCode(body))

	status, body = env.do(t, http.MethodPost, "/users/"+memberID+"/permissions", token, map[string]string{
		"permission": "reports:export",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, adminID, body["granted_by"])

	status, body = env.do(t, http.MethodPost, "/users/"+memberID+"/permissions", token, map[string]string{
		"permission": "not a permission",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["error"].(map[string]any)["category"])

	status, body = env.do(t, http.MethodGet, "/users/"+memberID+"/permissions", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.ElementsMatch(t, []any{"posts:read", "reports:export"}, body["permissions"])

	status, body = env.do(t, http.MethodDelete, "/users/"+memberID+"/permissions/posts%3Aread", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, identity.TextCodeCannotRevokeInherited, errorTextCode(body))

	status, _ = env.do(t, http.MethodDelete, "/users/"+memberID+"/permissions/reports%3Aexport", token, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = env.do(t, http.MethodGet, "/me/permissions", accessToken(member), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"posts:read"}, body["permissions"])

	status, body = env.do(t, http.MethodPut, "/users/not-a-uuid/role", token, map[string]string{"role": "user"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_USER_ID", errorTextCode(body))

	status, body = env.do(t, http.MethodPut, "/users/"+uuid.Nil.String()+"/role", token, map[string]string{"role": "user"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_USER_ID", errorTextCode(body))

	status, body = env.do(t, http.MethodDelete, "/roles/admin", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, identity.TextCodeProtectedRole, errorTextCode(body))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, WithRateLimit(1, 2))

	payload := map[string]string{"email": "rl@example.com", "password": "whatever"}
	for i := 0; i < 2; i++ {
		status, _ := env.do(t, http.MethodPost, "/auth/login", "", payload)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, body := env.do(t, http.MethodPost, "/auth/login", "", payload)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", errorTextCode(body))

	status, _ = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestIPRateLimiterBucketsAndPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(60, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))

	now = now.Add(10 * time.Minute)
	l.Allow("10.0.0.3")
	assert.Len(t, l.buckets, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, WithMetrics(obs.NewMetrics(reg, reg)))

	status, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `identity_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(identity.ErrCannotUnlinkLastProvider))
	assert.Equal(t, http.StatusForbidden, StatusFor(identity.ErrPermissionDenied))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(asRichError(io.ErrUnexpectedEOF)))
	assert.Equal(t, http.StatusNotFound, StatusFor(asRichError(fiber.ErrNotFound)))
}

func TestAsRichErrorDoesNotMutateSentinel(t *testing.T) {
	rich := asRichError(identity.ErrUserNotFound)
	rich.Metadata = map[string]any{"x": 1}
	rich.ToErrorResponse(false, nil)

	assert.Nil(t, rich.Location)
	assert.Empty(t, identity.ErrUserNotFound.Metadata)
	assert.Equal(t, identity.TextCodeUserNotFound, rich.TextCode)
}
