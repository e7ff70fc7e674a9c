package identity

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLinking(t *testing.T, opts ...LinkingOption) (*LinkingService, RepositoryManager, *testClock) {
	t.Helper()

	repo := newTestRepo(t)
	clock := newTestClock()
	base := []LinkingOption{
		WithLinkingClock(clock.Now),
		WithLinkingLogger(silentLogger{}),
	}
	return NewLinkingService(repo, append(base, opts...)...), repo, clock
}

func googleProfile(id, email string) ExternalProfile {
	return ExternalProfile{
		Provider:      ProviderGoogle,
		ProviderID:    id,
		Email:         email,
		Name:          "Google Name",
		EmailVerified: true,
	}
}

func TestUnlinkProvider_PrimaryFallsBackToNil(t *testing.T) {
	svc, repo, _ := newTestLinking(t)
	user := seedUser(t, repo, "alice@example.com", ProviderEmail)

	linked, err := svc.LinkProvider(context.Background(), user.ID, ProviderGoogle, googleProfile("g-1", "alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []Provider{ProviderEmail, ProviderGoogle}, linked.LinkedProviders)
	require.NotNil(t, linked.PrimaryProvider)
	assert.Equal(t, ProviderGoogle, *linked.PrimaryProvider)

	unlinked, err := svc.UnlinkProvider(context.Background(), user.ID, ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, []Provider{ProviderEmail}, unlinked.LinkedProviders)
	assert.Nil(t, unlinked.PrimaryProvider)
	assert.Nil(t, unlinked.GoogleID)

	stored, err := repo.Users().GetUserTx(context.Background(), repo.DB(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, []Provider{ProviderEmail}, stored.LinkedProviders)
	assert.Nil(t, stored.PrimaryProvider)
	assert.Nil(t, stored.GoogleID)

	_, err = repo.Users().FindByExternalIDTx(context.Background(), repo.DB(), ProviderGoogle, "g-1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUnlinkProvider_NeverRemovesLastProvider(t *testing.T) {
	for _, p := range []Provider{ProviderEmail, ProviderGoogle, ProviderFacebook, ProviderGitHub} {
		t.Run(p.String(), func(t *testing.T) {
			svc, repo, _ := newTestLinking(t)
			user := seedUser(t, repo, "solo@example.com", p)

			_, err := svc.UnlinkProvider(context.Background(), user.ID, p)
			assert.ErrorIs(t, err, ErrCannotUnlinkLastProvider)
			assert.True(t, IsPolicyViolation(err))

			stored, err := repo.Users().GetUserTx(context.Background(), repo.DB(), user.ID)
			require.NoError(t, err)
			assert.Equal(t, []Provider{p}, stored.LinkedProviders)
		})
	}
}

func TestUnlinkProvider_Errors(t *testing.T) {
	svc, repo, _ := newTestLinking(t)
	user := seedUser(t, repo, "alice@example.com", ProviderEmail, ProviderGitHub)

	_, err := svc.UnlinkProvider(context.Background(), user.ID, ProviderGoogle)
	assert.ErrorIs(t, err, ErrProviderNotLinked)

	_, err = svc.UnlinkProvider(context.Background(), user.ID, Provider("myspace"))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestUnlinkProvider_EmailClearsPassword(t *testing.T) {
	svc, repo, _ := newTestLinking(t)
	user := seedUser(t, repo, "alice@example.com", ProviderEmail, ProviderGitHub)

	updated, err := svc.UnlinkProvider(context.Background(), user.ID, Provider(" EMAIL "))
	require.NoError(t, err)
	assert.False(t, updated.HasPassword())

	stored, err := repo.Users().GetUserTx(context.Background(), repo.DB(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PasswordHash)
	assert.Equal(t, []Provider{ProviderGitHub}, stored.LinkedProviders)
	require.NotNil(t, stored.PrimaryProvider)
	assert.Equal(t, ProviderGitHub, *stored.PrimaryProvider)
}

func TestUnlinkProvider_ReassignsPrimaryToMostRecent(t *testing.T) {
	svc, repo, _ := newTestLinking(t)
	user := seedUser(t, repo, "alice@example.com", ProviderGoogle, ProviderEmail, ProviderFacebook, ProviderGitHub)
	require.Equal(t, ProviderGoogle, *user.PrimaryProvider)

	updated, err := svc.UnlinkProvider(context.Background(), user.ID, ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, updated.PrimaryProvider)
	assert.Equal(t, ProviderGitHub, *updated.PrimaryProvider)
}

func TestNextPrimary(t *testing.T) {
	tests := []struct {
		name   string
		linked []Provider
		want   *Provider
	}{
		{name: "email only", linked: []Provider{ProviderEmail}, want: nil},
		{name: "empty", linked: nil, want: nil},
		{name: "latest oauth", linked: []Provider{ProviderGitHub, ProviderFacebook, ProviderEmail}, want: ptr(ProviderFacebook)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextPrimary(tt.linked))
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestLinkProvider_Conflicts(t *testing.T) {
	svc, repo, _ := newTestLinking(t)
	alice := seedUser(t, repo, "alice@example.com", ProviderEmail)
	bob := seedUser(t, repo, "bob@example.com", ProviderEmail, ProviderGoogle)

	t.Run("email mismatch with free id", func(t *testing.T) {
		_, err := svc.LinkProvider(context.Background(), alice.ID, ProviderGoogle, googleProfile("g-free", "someone@else.com"))
		assert.ErrorIs(t, err, ErrEmailMismatchOnLink)
		assert.True(t, goerrors.IsValidation(err))
	})

	t.Run("id owned by another account", func(t *testing.T) {
		_, err := svc.LinkProvider(context.Background(), alice.ID, ProviderGoogle, googleProfile(*bob.GoogleID, "alice@example.com"))
		assert.ErrorIs(t, err, ErrProviderLinkedToOtherAccount)
		assert.True(t, IsConflict(err))
	})

	t.Run("already linked", func(t *testing.T) {
		_, err := svc.LinkProvider(context.Background(), bob.ID, ProviderGoogle, googleProfile("g-other", "bob@example.com"))
		assert.ErrorIs(t, err, ErrProviderAlreadyLinked)
	})

	t.Run("email is not linkable", func(t *testing.T) {
		_, err := svc.LinkProvider(context.Background(), alice.ID, ProviderEmail, ExternalProfile{ProviderID: "x", Email: "alice@example.com"})
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("profile for another provider", func(t *testing.T) {
		_, err := svc.LinkProvider(context.Background(), alice.ID, ProviderGitHub, googleProfile("g-2", "alice@example.com"))
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	stored, err := repo.Users().GetUserTx(context.Background(), repo.DB(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []Provider{ProviderEmail}, stored.LinkedProviders)
}

func TestLinkProvider_KeepsExistingPrimary(t *testing.T) {
	svc, repo, _ := newTestLinking(t)
	user := seedUser(t, repo, "alice@example.com", ProviderEmail, ProviderGitHub)

	linked, err := svc.LinkProvider(context.Background(), user.ID, ProviderGoogle, googleProfile("g-1", "Alice@Example.com"))
	require.NoError(t, err)
	assert.Equal(t, ProviderGitHub, *linked.PrimaryProvider)
	assert.Equal(t, []Provider{ProviderEmail, ProviderGitHub, ProviderGoogle}, linked.LinkedProviders)

	providers, err := svc.ListLinkedProviders(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, providers, 3)
	assert.Equal(t, LinkedProvider{Provider: ProviderEmail}, providers[0])
	assert.True(t, providers[1].Primary)
	assert.Equal(t, "g-1", providers[2].ExternalID)
}

func TestResolveSignIn(t *testing.T) {
	t.Run("creates account", func(t *testing.T) {
		sink := &recordingSink{}
		svc, _, _ := newTestLinking(t, WithLinkingActivitySink(sink))

		result, err := svc.ResolveSignIn(context.Background(), googleProfile("g-new", "New@Example.com"))
		require.NoError(t, err)
		assert.True(t, result.Created)
		assert.False(t, result.Linked)
		assert.Equal(t, "new@example.com", result.User.Email)
		assert.Equal(t, []Provider{ProviderGoogle}, result.User.LinkedProviders)
		assert.Equal(t, ProviderGoogle, *result.User.PrimaryProvider)
		assert.False(t, result.User.HasPassword())
		assert.Equal(t, DefaultRoleSlug, result.User.Role)
		assert.Contains(t, sink.types(), ActivityOAuthSignup)
	})

	t.Run("finds by provider id", func(t *testing.T) {
		svc, repo, _ := newTestLinking(t)
		user := seedUser(t, repo, "alice@example.com", ProviderGoogle)

		result, err := svc.ResolveSignIn(context.Background(), googleProfile(*user.GoogleID, "changed@example.com"))
		require.NoError(t, err)
		assert.Equal(t, user.ID, result.User.ID)
		assert.False(t, result.Created)
		assert.Equal(t, "Google Name", result.User.Name)
	})

	t.Run("implicit link on verified email", func(t *testing.T) {
		svc, repo, _ := newTestLinking(t)
		user := seedUser(t, repo, "alice@example.com", ProviderEmail)

		result, err := svc.ResolveSignIn(context.Background(), googleProfile("g-9", "alice@example.com"))
		require.NoError(t, err)
		assert.True(t, result.Linked)
		assert.Equal(t, user.ID, result.User.ID)
		assert.Equal(t, []Provider{ProviderEmail, ProviderGoogle}, result.User.LinkedProviders)
	})

	t.Run("unverified email requires explicit link", func(t *testing.T) {
		svc, repo, _ := newTestLinking(t)
		seedUser(t, repo, "alice@example.com", ProviderEmail)

		profile := googleProfile("g-9", "alice@example.com")
		profile.EmailVerified = false
		_, err := svc.ResolveSignIn(context.Background(), profile)
		assert.ErrorIs(t, err, ErrAccountExistsLinkRequired)
	})

	t.Run("never policy requires explicit link", func(t *testing.T) {
		svc, repo, _ := newTestLinking(t, WithImplicitLinkPolicy(ImplicitLinkNever))
		seedUser(t, repo, "alice@example.com", ProviderEmail)

		_, err := svc.ResolveSignIn(context.Background(), googleProfile("g-9", "alice@example.com"))
		assert.ErrorIs(t, err, ErrAccountExistsLinkRequired)
	})

	t.Run("missing email", func(t *testing.T) {
		svc, _, _ := newTestLinking(t)
		_, err := svc.ResolveSignIn(context.Background(), googleProfile("g-9", ""))
		require.Error(t, err)
		assert.True(t, goerrors.IsValidation(err))
	})

	t.Run("missing provider id", func(t *testing.T) {
		svc, _, _ := newTestLinking(t)
		_, err := svc.ResolveSignIn(context.Background(), googleProfile(" ", "x@example.com"))
		require.Error(t, err)
		assert.True(t, goerrors.IsValidation(err))
	})
}

func TestSetPrimaryProvider(t *testing.T) {
	svc, repo, _ := newTestLinking(t)
	user := seedUser(t, repo, "alice@example.com", ProviderEmail, ProviderGoogle, ProviderGitHub)

	_, err := svc.SetPrimaryProvider(context.Background(), user.ID, ProviderEmail)
	assert.ErrorIs(t, err, ErrEmailCannotBePrimary)

	_, err = svc.SetPrimaryProvider(context.Background(), user.ID, ProviderFacebook)
	assert.ErrorIs(t, err, ErrProviderNotLinked)

	_, err = svc.SetPrimaryProvider(context.Background(), user.ID, Provider("myspace"))
	assert.ErrorIs(t, err, ErrUnknownProvider)

	updated, err := svc.SetPrimaryProvider(context.Background(), user.ID, ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, ProviderGitHub, *updated.PrimaryProvider)

	stored, err := repo.Users().GetUserTx(context.Background(), repo.DB(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, ProviderGitHub, *stored.PrimaryProvider)
}

func TestSyncProfile_OnlyFromPrimary(t *testing.T) {
	svc, repo, clock := newTestLinking(t)
	user := seedUser(t, repo, "alice@example.com", ProviderGoogle, ProviderGitHub)

	github := ExternalProfile{Provider: ProviderGitHub, ProviderID: *user.GitHubID, Email: user.Email, Name: "From GitHub"}
	unchanged, err := svc.SyncProfile(context.Background(), user.ID, github)
	require.NoError(t, err)
	assert.Equal(t, "Test User", unchanged.Name)
	assert.Nil(t, unchanged.ProfileSyncedAt)

	synced, err := svc.SyncProfile(context.Background(), user.ID, googleProfile(*user.GoogleID, user.Email))
	require.NoError(t, err)
	assert.Equal(t, "Google Name", synced.Name)
	require.NotNil(t, synced.ProfileSyncedAt)
	assert.True(t, clock.Now().Equal(*synced.ProfileSyncedAt))
	assert.Equal(t, ProviderGoogle, *synced.LastSyncedProvider)

	_, err = svc.SyncProfile(context.Background(), user.ID, ExternalProfile{Provider: ProviderFacebook, ProviderID: "fb"})
	assert.ErrorIs(t, err, ErrProviderNotLinked)
}
