package identity

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPermissions(t *testing.T) (*PermissionService, *RoleService, RepositoryManager, *testClock) {
	t.Helper()

	repo := newTestRepo(t)
	clock := newTestClock()
	roles := NewRoleService(repo, WithRoleClock(clock.Now), WithRoleLogger(silentLogger{}))
	require.NoError(t, roles.SeedSystemRoles(context.Background()))

	perms := NewPermissionService(repo,
		WithPermissionClock(clock.Now),
		WithPermissionLogger(silentLogger{}),
	)
	return perms, roles, repo, clock
}

func TestPermissions_EditorScenario(t *testing.T) {
	perms, roles, repo, _ := newTestPermissions(t)
	ctx := context.Background()

	_, err := roles.CreateRole(ctx, RoleInput{
		Name:        ptr("Editor"),
		Slug:        "editor",
		Permissions: []string{"articles:update:all", "articles:read"},
	})
	require.NoError(t, err)

	user := seedUser(t, repo, "editor@example.com", ProviderEmail)
	_, err = roles.AssignRole(ctx, user.ID, "editor")
	require.NoError(t, err)

	_, err = perms.GrantPermission(ctx, user.ID, "articles:delete:own", GrantOptions{})
	require.NoError(t, err)

	effective, err := perms.EffectivePermissions(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"articles:delete:own", "articles:read", "articles:update:all"}, effective)

	ok, err := perms.HasPermission(ctx, user.ID, "articles:update:all")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = perms.HasPermission(ctx, user.ID, "articles:delete:own")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = perms.HasPermission(ctx, user.ID, "articles:delete:all")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermissions_AdminWildcard(t *testing.T) {
	perms, roles, repo, _ := newTestPermissions(t)
	user := seedUser(t, repo, "root@example.com", ProviderEmail)
	_, err := roles.AssignRole(context.Background(), user.ID, AdminRoleSlug)
	require.NoError(t, err)

	for _, p := range []string{"roles:manage", "anything:at:all", "users:delete"} {
		ok, err := perms.HasPermission(context.Background(), user.ID, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
}

func TestPermissions_DefaultRoleHasNothing(t *testing.T) {
	perms, _, repo, _ := newTestPermissions(t)
	user := seedUser(t, repo, "plain@example.com", ProviderEmail)

	effective, err := perms.EffectivePermissions(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, effective)
}

func TestGrantPermission(t *testing.T) {
	perms, _, repo, clock := newTestPermissions(t)
	user := seedUser(t, repo, "alice@example.com", ProviderEmail)
	ctx := context.Background()

	_, err := perms.GrantPermission(ctx, user.ID, "Articles:Delete", GrantOptions{})
	assert.ErrorIs(t, err, ErrInvalidPermission)

	grantor := user.ID
	grant, err := perms.GrantPermission(ctx, user.ID, "reports:export", GrantOptions{Scope: "team-7", GrantedBy: &grantor})
	require.NoError(t, err)
	assert.Equal(t, "team-7", grant.Scope)
	assert.True(t, grant.Granted)

	_, err = perms.GrantPermission(ctx, user.ID, "reports:export", GrantOptions{})
	assert.ErrorIs(t, err, ErrPermissionAlreadyGranted)
	assert.True(t, IsConflict(err))

	_, err = perms.GrantPermission(ctx, user.ID, "*", GrantOptions{})
	require.NoError(t, err)

	_, err = perms.GrantPermission(ctx, seedUser(t, repo, "ghost@example.com").ID, "x:y", GrantOptions{})
	require.NoError(t, err)

	grants, err := perms.ListGrants(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "*", grants[0].Permission)
	assert.Equal(t, "reports:export", grants[1].Permission)
	require.NotNil(t, grants[1].GrantedBy)
	assert.Equal(t, grantor, *grants[1].GrantedBy)
	assert.True(t, clock.Now().Equal(grants[1].CreatedAt))
}

func TestGrantPermission_UnknownUser(t *testing.T) {
	perms, _, _, _ := newTestPermissions(t)

	_, err := perms.GrantPermission(context.Background(), uuid.New(), "reports:export", GrantOptions{})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGrantPermission_ExpiredGrantIsIgnored(t *testing.T) {
	perms, _, repo, clock := newTestPermissions(t)
	user := seedUser(t, repo, "temp@example.com", ProviderEmail)
	ctx := context.Background()

	expires := clock.Now().Add(time.Hour)
	_, err := perms.GrantPermission(ctx, user.ID, "reports:export", GrantOptions{ExpiresAt: &expires})
	require.NoError(t, err)

	ok, err := perms.HasPermission(ctx, user.ID, "reports:export")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Hour)

	ok, err = perms.HasPermission(ctx, user.ID, "reports:export")
	require.NoError(t, err)
	assert.False(t, ok)

	grants, err := perms.ListGrants(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestRevokePermission(t *testing.T) {
	perms, roles, repo, _ := newTestPermissions(t)
	ctx := context.Background()

	_, err := roles.CreateRole(ctx, RoleInput{Name: ptr("Editor"), Slug: "editor", Permissions: []string{"articles:update"}})
	require.NoError(t, err)
	user := seedUser(t, repo, "editor@example.com", ProviderEmail)
	_, err = roles.AssignRole(ctx, user.ID, "editor")
	require.NoError(t, err)

	_, err = perms.GrantPermission(ctx, user.ID, "articles:publish", GrantOptions{})
	require.NoError(t, err)

	require.NoError(t, perms.RevokePermission(ctx, user.ID, "articles:publish"))

	ok, err := perms.HasPermission(ctx, user.ID, "articles:publish")
	require.NoError(t, err)
	assert.False(t, ok)

	err = perms.RevokePermission(ctx, user.ID, "articles:update")
	assert.ErrorIs(t, err, ErrCannotRevokeInheritedPermission)
	assert.True(t, IsPolicyViolation(err))

	err = perms.RevokePermission(ctx, user.ID, "articles:publish")
	assert.ErrorIs(t, err, ErrPermissionNotFound)
	assert.True(t, goerrors.IsNotFound(err))
}

func TestParsePermission(t *testing.T) {
	tests := []struct {
		in      string
		want    Permission
		wantErr bool
	}{
		{in: "*", want: Permission{Resource: "*"}},
		{in: "articles:read", want: Permission{Resource: "articles", Action: "read"}},
		{in: "articles:delete:own", want: Permission{Resource: "articles", Action: "delete", Scope: "own"}},
		{in: "user_profiles:edit-bio", want: Permission{Resource: "user_profiles", Action: "edit-bio"}},
		{in: "", wantErr: true},
		{in: "articles", wantErr: true},
		{in: "articles:", wantErr: true},
		{in: "Articles:Read", wantErr: true},
		{in: "a:b:c:d", wantErr: true},
		{in: "articles:*", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePermission(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPermission)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestPermissionSet(t *testing.T) {
	set := NewPermissionSet([]string{"b:read", "a:write"}, nil, []string{"a:write"})
	assert.Equal(t, []string{"a:write", "b:read"}, set.Slice())
	assert.True(t, set.Has("b:read"))
	assert.False(t, set.Has("b:write"))

	wild := NewPermissionSet([]string{WildcardPermission})
	assert.True(t, wild.Has("b:write"))
}

func TestGroupPermissions(t *testing.T) {
	groups := GroupPermissions([]string{"articles:read", "articles:delete:own", "users:list", "bogus"})

	require.Len(t, groups, 2)
	assert.Len(t, groups["articles"], 2)
	assert.Equal(t, []Permission{{Resource: "users", Action: "list"}}, groups["users"])
}
