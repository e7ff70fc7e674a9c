package identity

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ImplicitLinkPolicy decides what happens when an OAuth sign-in matches an
// existing account by email but not by provider id.
type ImplicitLinkPolicy string

const (
	// ImplicitLinkVerifiedEmail links only when the provider vouches for
	// the email address.
	ImplicitLinkVerifiedEmail ImplicitLinkPolicy = "verified_email"
	// ImplicitLinkNever always requires an explicit link from a signed in
	// session.
	ImplicitLinkNever ImplicitLinkPolicy = "never"
)

// maxCASAttempts bounds the re-read loop of a lost compare-and-swap.
const maxCASAttempts = 3

// SignInResult describes how an OAuth profile was resolved.
type SignInResult struct {
	User    *User
	Created bool
	Linked  bool
}

// LinkedProvider is one entry of ListLinkedProviders.
type LinkedProvider struct {
	Provider   Provider `json:"provider"`
	Primary    bool     `json:"primary"`
	ExternalID string   `json:"external_id,omitempty"`
}

// LinkingService owns the linked identity fields of a user.
type LinkingService struct {
	repo        RepositoryManager
	policy      ImplicitLinkPolicy
	defaultRole string
	clock       Clock
	logger      Logger
	activity    ActivitySink
}

// LinkingOption configures a LinkingService.
type LinkingOption func(*LinkingService)

// WithImplicitLinkPolicy sets the email match policy of ResolveSignIn.
func WithImplicitLinkPolicy(p ImplicitLinkPolicy) LinkingOption {
	return func(s *LinkingService) {
		if p != "" {
			s.policy = p
		}
	}
}

// WithLinkingDefaultRole sets the role of accounts created by OAuth sign-up.
func WithLinkingDefaultRole(slug string) LinkingOption {
	return func(s *LinkingService) {
		if slug != "" {
			s.defaultRole = slug
		}
	}
}

func WithLinkingClock(c Clock) LinkingOption {
	return func(s *LinkingService) {
		s.clock = c
	}
}

func WithLinkingLogger(l Logger) LinkingOption {
	return func(s *LinkingService) {
		s.logger = l
	}
}

func WithLinkingActivitySink(sink ActivitySink) LinkingOption {
	return func(s *LinkingService) {
		s.activity = sink
	}
}

// NewLinkingService builds the service.
func NewLinkingService(repo RepositoryManager, opts ...LinkingOption) *LinkingService {
	s := &LinkingService{
		repo:        repo,
		policy:      ImplicitLinkVerifiedEmail,
		defaultRole: DefaultRoleSlug,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.clock = normalizeClock(s.clock)
	s.logger = normalizeLogger(s.logger)
	return s
}

func (s *LinkingService) recorder() activityRecorder {
	return activityRecorder{sink: s.activity, logger: s.logger, clock: s.clock}
}

func validateProfile(profile ExternalProfile) error {
	if !profile.Provider.IsOAuth() {
		return ErrUnknownProvider
	}
	if strings.TrimSpace(profile.ProviderID) == "" {
		return goerrors.New("provider profile has no id", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"provider": profile.Provider.String()})
	}
	return nil
}

// ResolveSignIn maps an OAuth profile to a user: by provider id, then by
// email under the implicit link policy, else a new account.
func (s *LinkingService) ResolveSignIn(ctx context.Context, profile ExternalProfile) (*SignInResult, error) {
	ctx, cancel, err := begin(ctx, "oauth sign in")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	db := s.repo.DB()
	user, err := s.repo.Users().FindByExternalIDTx(ctx, db, profile.Provider, profile.ProviderID)
	if err == nil {
		if synced, err := s.sync(ctx, user.ID, profile); err != nil {
			s.logger.Warn("profile sync for user %s failed: %v", user.ID, err)
		} else {
			user = synced
		}
		return &SignInResult{User: user}, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	email := NormalizeEmail(profile.Email)
	if email == "" {
		return nil, goerrors.New("provider did not return an email address", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"provider": profile.Provider.String()})
	}

	existing, err := s.repo.Users().FindByEmailTx(ctx, db, email)
	switch {
	case err == nil:
		if s.policy == ImplicitLinkNever || !profile.EmailVerified {
			return nil, ErrAccountExistsLinkRequired
		}
		linked, err := s.link(ctx, existing.ID, profile)
		if err != nil {
			return nil, err
		}
		return &SignInResult{User: linked, Linked: true}, nil
	case !errors.Is(err, ErrUserNotFound):
		return nil, err
	}

	now := s.clock()
	provider := profile.Provider
	user = &User{
		Email:              email,
		Name:               profile.Name,
		Role:               s.defaultRole,
		IsVerified:         true,
		LinkedProviders:    []Provider{provider},
		PrimaryProvider:    &provider,
		ProfileSyncedAt:    &now,
		LastSyncedProvider: &provider,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	user.setExternalID(provider, profile.ProviderID)

	if err := s.repo.Users().InsertTx(ctx, db, user); err != nil {
		return nil, err
	}

	s.recorder().record(ctx, ActivityOAuthSignup, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"provider": provider.String(),
		"email":    email,
	})
	return &SignInResult{User: user, Created: true}, nil
}

// LinkProvider attaches an OAuth identity to an existing account.
func (s *LinkingService) LinkProvider(ctx context.Context, userID uuid.UUID, provider Provider, profile ExternalProfile) (*User, error) {
	ctx, cancel, err := begin(ctx, "provider link")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if profile.Provider == "" {
		profile.Provider = provider
	}
	if profile.Provider != provider {
		return nil, ErrUnknownProvider
	}
	if err := validateProfile(profile); err != nil {
		return nil, err
	}
	return s.link(ctx, userID, profile)
}

func (s *LinkingService) link(ctx context.Context, userID uuid.UUID, profile ExternalProfile) (*User, error) {
	provider := profile.Provider
	column, _ := externalIDColumn(provider)
	db := s.repo.DB()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		user, err := s.repo.Users().GetUserTx(ctx, db, userID)
		if err != nil {
			return nil, err
		}

		if user.IsLinked(provider) {
			return nil, ErrProviderAlreadyLinked
		}
		owner, err := s.repo.Users().FindByExternalIDTx(ctx, db, provider, profile.ProviderID)
		if err == nil && owner.ID != user.ID {
			return nil, ErrProviderLinkedToOtherAccount
		}
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		if NormalizeEmail(profile.Email) != user.Email {
			return nil, ErrEmailMismatchOnLink
		}

		user.LinkedProviders = append(append([]Provider{}, user.LinkedProviders...), provider)
		user.setExternalID(provider, profile.ProviderID)
		if user.PrimaryProvider == nil {
			p := provider
			user.PrimaryProvider = &p
		}
		user.UpdatedAt = s.clock()

		ok, err := s.repo.Users().CompareAndSwapTx(ctx, db, user, "linked_providers", column, "primary_provider")
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Debug("link %s for user %s lost a concurrent update, retrying", provider, userID)
			continue
		}

		s.recorder().record(ctx, ActivityProviderLinked, ActorRef{ID: userID.String(), Type: "user"}, userID.String(), map[string]any{
			"provider": provider.String(),
			"primary":  *user.PrimaryProvider == provider,
		})
		return user, nil
	}
	return nil, ErrConcurrentUpdate
}

// UnlinkProvider detaches provider. The last remaining sign-in method can
// never be removed. Unlinking email clears the password.
func (s *LinkingService) UnlinkProvider(ctx context.Context, userID uuid.UUID, provider Provider) (*User, error) {
	ctx, cancel, err := begin(ctx, "provider unlink")
	if err != nil {
		return nil, err
	}
	defer cancel()

	provider, err = ParseProvider(provider.String())
	if err != nil {
		return nil, err
	}

	db := s.repo.DB()
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		user, err := s.repo.Users().GetUserTx(ctx, db, userID)
		if err != nil {
			return nil, err
		}

		if !user.IsLinked(provider) {
			return nil, ErrProviderNotLinked
		}
		if len(user.LinkedProviders) <= 1 {
			return nil, ErrCannotUnlinkLastProvider
		}

		remaining := make([]Provider, 0, len(user.LinkedProviders)-1)
		for _, p := range user.LinkedProviders {
			if p != provider {
				remaining = append(remaining, p)
			}
		}
		user.LinkedProviders = remaining
		columns := []string{"linked_providers", "primary_provider"}

		if column, ok := externalIDColumn(provider); ok {
			user.setExternalID(provider, "")
			columns = append(columns, column)
		}
		if provider == ProviderEmail {
			user.PasswordHash = nil
			columns = append(columns, "password_hash")
		}

		wasPrimary := user.PrimaryProvider != nil && *user.PrimaryProvider == provider
		if wasPrimary {
			user.PrimaryProvider = nextPrimary(remaining)
		}
		user.UpdatedAt = s.clock()

		ok, err := s.repo.Users().CompareAndSwapTx(ctx, db, user, columns...)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Debug("unlink %s for user %s lost a concurrent update, retrying", provider, userID)
			continue
		}

		meta := map[string]any{"provider": provider.String()}
		if wasPrimary {
			meta["primary"] = providerOrEmpty(user.PrimaryProvider)
		}
		s.recorder().record(ctx, ActivityProviderUnlinked, ActorRef{ID: userID.String(), Type: "user"}, userID.String(), meta)
		return user, nil
	}
	return nil, ErrConcurrentUpdate
}

// nextPrimary picks the most recently linked OAuth provider, relying on
// linked_providers being kept in link order.
func nextPrimary(linked []Provider) *Provider {
	for i := len(linked) - 1; i >= 0; i-- {
		if linked[i].IsOAuth() {
			p := linked[i]
			return &p
		}
	}
	return nil
}

func providerOrEmpty(p *Provider) string {
	if p == nil {
		return ""
	}
	return p.String()
}

// SetPrimaryProvider selects the provider profiles are synced from.
func (s *LinkingService) SetPrimaryProvider(ctx context.Context, userID uuid.UUID, provider Provider) (*User, error) {
	ctx, cancel, err := begin(ctx, "primary provider change")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if provider == ProviderEmail {
		return nil, ErrEmailCannotBePrimary
	}
	if !provider.IsOAuth() {
		return nil, ErrUnknownProvider
	}

	db := s.repo.DB()
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		user, err := s.repo.Users().GetUserTx(ctx, db, userID)
		if err != nil {
			return nil, err
		}
		if !user.IsLinked(provider) {
			return nil, ErrProviderNotLinked
		}
		if user.PrimaryProvider != nil && *user.PrimaryProvider == provider {
			return user, nil
		}

		previous := providerOrEmpty(user.PrimaryProvider)
		p := provider
		user.PrimaryProvider = &p
		user.UpdatedAt = s.clock()

		ok, err := s.repo.Users().CompareAndSwapTx(ctx, db, user, "primary_provider")
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		s.recorder().record(ctx, ActivityPrimaryChanged, ActorRef{ID: userID.String(), Type: "user"}, userID.String(), map[string]any{
			"from": previous,
			"to":   provider.String(),
		})
		return user, nil
	}
	return nil, ErrConcurrentUpdate
}

// SyncProfile copies profile fields onto the user when profile comes from
// the primary provider. Profiles from other providers are ignored.
func (s *LinkingService) SyncProfile(ctx context.Context, userID uuid.UUID, profile ExternalProfile) (*User, error) {
	ctx, cancel, err := begin(ctx, "profile sync")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validateProfile(profile); err != nil {
		return nil, err
	}
	return s.sync(ctx, userID, profile)
}

func (s *LinkingService) sync(ctx context.Context, userID uuid.UUID, profile ExternalProfile) (*User, error) {
	db := s.repo.DB()
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		user, err := s.repo.Users().GetUserTx(ctx, db, userID)
		if err != nil {
			return nil, err
		}
		if !user.IsLinked(profile.Provider) {
			return nil, ErrProviderNotLinked
		}
		if user.PrimaryProvider == nil || *user.PrimaryProvider != profile.Provider {
			return user, nil
		}

		now := s.clock()
		p := profile.Provider
		columns := []string{"profile_synced_at", "last_synced_provider"}
		if name := strings.TrimSpace(profile.Name); name != "" && name != user.Name {
			user.Name = name
			columns = append(columns, "name")
		}
		user.ProfileSyncedAt = &now
		user.LastSyncedProvider = &p
		user.UpdatedAt = now

		ok, err := s.repo.Users().CompareAndSwapTx(ctx, db, user, columns...)
		if err != nil {
			return nil, err
		}
		if ok {
			return user, nil
		}
	}
	return nil, ErrConcurrentUpdate
}

// ListLinkedProviders returns the linked providers in link order.
func (s *LinkingService) ListLinkedProviders(ctx context.Context, userID uuid.UUID) ([]LinkedProvider, error) {
	ctx, cancel, err := begin(ctx, "linked provider listing")
	if err != nil {
		return nil, err
	}
	defer cancel()

	user, err := s.repo.Users().GetUserTx(ctx, s.repo.DB(), userID)
	if err != nil {
		return nil, err
	}

	out := make([]LinkedProvider, 0, len(user.LinkedProviders))
	for _, p := range user.LinkedProviders {
		out = append(out, LinkedProvider{
			Provider:   p,
			Primary:    user.PrimaryProvider != nil && *user.PrimaryProvider == p,
			ExternalID: user.ExternalID(p),
		})
	}
	return out, nil
}
