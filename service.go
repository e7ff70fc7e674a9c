package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OAuthAction is what a completed OAuth round trip should do.
type OAuthAction string

const (
	OAuthActionLogin OAuthAction = "login"
	OAuthActionLink  OAuthAction = "link"
)

// AuthorizeOptions parametrize an OAuth redirect.
type AuthorizeOptions struct {
	Action      OAuthAction
	LinkUserID  uuid.UUID
	RedirectURL string
}

// OAuthOutcome is the result of an OAuth callback. Session is nil for link
// callbacks.
type OAuthOutcome struct {
	Action      OAuthAction    `json:"action"`
	Provider    Provider       `json:"provider"`
	User        *User          `json:"user"`
	Session     *IssuedSession `json:"session,omitempty"`
	Created     bool           `json:"created"`
	Linked      bool           `json:"linked"`
	RedirectURL string         `json:"redirect_url,omitempty"`
}

// OAuthFlow runs the provider redirect and callback.
type OAuthFlow interface {
	Authorize(ctx context.Context, provider Provider, opts AuthorizeOptions) (string, error)
	Callback(ctx context.Context, provider Provider, code, state string, client ClientInfo) (*OAuthOutcome, error)
}

// ErrOAuthDisabled is returned by the OAuth operations when no flow has
// been configured.
var ErrOAuthDisabled = goerrors.New("oauth sign in is not configured", goerrors.CategoryOperation).
	WithTextCode("OAUTH_DISABLED").
	WithCode(goerrors.CodeNotFound)

// Manager composes the identity services behind one surface.
type Manager struct {
	repo         RepositoryManager
	registration *RegistrationService
	sessions     *SessionService
	linking      *LinkingService
	permissions  *PermissionService
	roles        *RoleService
	oauth        OAuthFlow
	clock        Clock
	logger       Logger
	activity     ActivitySink
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerDeps)

type managerDeps struct {
	hasher   CredentialHasher
	mailer   Mailer
	tokens   TokenService
	clock    Clock
	logger   Logger
	activity ActivitySink
	codes    func() (string, error)
}

func WithHasher(h CredentialHasher) ManagerOption {
	return func(d *managerDeps) {
		d.hasher = h
	}
}

func WithMailer(m Mailer) ManagerOption {
	return func(d *managerDeps) {
		d.mailer = m
	}
}

func WithTokenService(ts TokenService) ManagerOption {
	return func(d *managerDeps) {
		d.tokens = ts
	}
}

func WithClock(c Clock) ManagerOption {
	return func(d *managerDeps) {
		d.clock = c
	}
}

func WithLogger(l Logger) ManagerOption {
	return func(d *managerDeps) {
		d.logger = l
	}
}

func WithActivitySink(sink ActivitySink) ManagerOption {
	return func(d *managerDeps) {
		d.activity = sink
	}
}

// WithActivationCodes replaces the activation code generator.
func WithActivationCodes(fn func() (string, error)) ManagerOption {
	return func(d *managerDeps) {
		d.codes = fn
	}
}

// NewManager wires every service from cfg. Collaborators not given as
// options are derived from cfg: bcrypt hashing, HS256 tokens and a
// LogMailer.
func NewManager(repo RepositoryManager, cfg Config, opts ...ManagerOption) *Manager {
	repo.MustValidate()

	deps := &managerDeps{}
	for _, opt := range opts {
		if opt != nil {
			opt(deps)
		}
	}
	deps.clock = normalizeClock(deps.clock)
	deps.logger = normalizeLogger(deps.logger)
	if deps.hasher == nil {
		deps.hasher = NewBcryptHasher(cfg.BcryptCost)
	}
	if deps.tokens == nil {
		deps.tokens = NewTokenService(
			[]byte(cfg.SigningKey),
			cfg.AccessTokenTTL,
			cfg.Issuer,
			WithTokenAudience(cfg.Audience...),
			WithTokenClock(deps.clock),
			WithTokenLogger(deps.logger),
		)
	}
	if deps.mailer == nil {
		deps.mailer = LogMailer{From: cfg.MailFrom, Logger: deps.logger}
	}

	return &Manager{
		repo: repo,
		registration: NewRegistrationService(repo, deps.hasher, deps.mailer,
			WithRegistrationTTL(cfg.RegistrationTTL),
			WithMaxActivationAttempts(cfg.MaxActivationAttempts),
			WithRegistrationDefaultRole(cfg.DefaultRole),
			WithHashedUserIDs(cfg.HashedUserIDs),
			WithCodeGenerator(deps.codes),
			WithRegistrationClock(deps.clock),
			WithRegistrationLogger(deps.logger),
			WithRegistrationActivitySink(deps.activity),
		),
		sessions: NewSessionService(repo, deps.hasher, deps.tokens,
			WithSessionMaxAge(cfg.SessionMaxAge),
			WithSessionClock(deps.clock),
			WithSessionLogger(deps.logger),
			WithSessionActivitySink(deps.activity),
		),
		linking: NewLinkingService(repo,
			WithImplicitLinkPolicy(ImplicitLinkPolicy(cfg.ImplicitLinkPolicy)),
			WithLinkingDefaultRole(cfg.DefaultRole),
			WithLinkingClock(deps.clock),
			WithLinkingLogger(deps.logger),
			WithLinkingActivitySink(deps.activity),
		),
		permissions: NewPermissionService(repo,
			WithPermissionClock(deps.clock),
			WithPermissionLogger(deps.logger),
			WithPermissionActivitySink(deps.activity),
		),
		roles: NewRoleService(repo,
			WithRoleClock(deps.clock),
			WithRoleLogger(deps.logger),
			WithRoleActivitySink(deps.activity),
		),
		clock:    deps.clock,
		logger:   deps.logger,
		activity: deps.activity,
	}
}

// SetOAuthFlow enables OAuthAuthorize and OAuthCallback.
func (m *Manager) SetOAuthFlow(flow OAuthFlow) {
	m.oauth = flow
}

func (m *Manager) Registration() *RegistrationService { return m.registration }
func (m *Manager) Sessions() *SessionService          { return m.sessions }
func (m *Manager) Linking() *LinkingService           { return m.linking }
func (m *Manager) Permissions() *PermissionService    { return m.permissions }
func (m *Manager) Roles() *RoleService                { return m.roles }

// Register starts a registration.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (*PendingRegistration, error) {
	return m.registration.Register(ctx, in)
}

// Activate completes a registration.
func (m *Manager) Activate(ctx context.Context, email, code string) (*User, error) {
	return m.registration.Activate(ctx, email, code)
}

// ResendActivationCode re-issues the activation code for email.
func (m *Manager) ResendActivationCode(ctx context.Context, email string) (*PendingRegistration, error) {
	return m.registration.ResendCode(ctx, email)
}

// Login signs in with email and password.
func (m *Manager) Login(ctx context.Context, email, password string, client ClientInfo) (*IssuedSession, error) {
	return m.sessions.Login(ctx, email, password, client)
}

// OAuthAuthorize returns the provider consent URL.
func (m *Manager) OAuthAuthorize(ctx context.Context, provider Provider, opts AuthorizeOptions) (string, error) {
	if m.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return m.oauth.Authorize(ctx, provider, opts)
}

// OAuthCallback completes an OAuth round trip.
func (m *Manager) OAuthCallback(ctx context.Context, provider Provider, code, state string, client ClientInfo) (*OAuthOutcome, error) {
	if m.oauth == nil {
		return nil, ErrOAuthDisabled
	}
	return m.oauth.Callback(ctx, provider, code, state, client)
}

// RefreshSession rotates a refresh token.
func (m *Manager) RefreshSession(ctx context.Context, refreshToken string) (*IssuedSession, error) {
	return m.sessions.Refresh(ctx, refreshToken)
}

// Authenticate resolves an access token.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	return m.sessions.Authenticate(ctx, accessToken)
}

// Logout ends the session owning refreshToken.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	return m.sessions.Logout(ctx, refreshToken)
}

// ListSessions lists active sessions, flagging the one owning currentToken.
func (m *Manager) ListSessions(ctx context.Context, userID uuid.UUID, currentToken string) ([]SessionView, error) {
	return m.sessions.ListSessions(ctx, userID, currentToken)
}

// RevokeOtherSessions signs every other device out.
func (m *Manager) RevokeOtherSessions(ctx context.Context, userID uuid.UUID, currentToken string) (int, error) {
	return m.sessions.RevokeOtherSessions(ctx, userID, currentToken)
}

// RevokeSession signs one device out.
func (m *Manager) RevokeSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	return m.sessions.RevokeSession(ctx, userID, sessionID)
}

func (m *Manager) LinkProvider(ctx context.Context, userID uuid.UUID, provider Provider, profile ExternalProfile) (*User, error) {
	return m.linking.LinkProvider(ctx, userID, provider, profile)
}

func (m *Manager) UnlinkProvider(ctx context.Context, userID uuid.UUID, provider Provider) (*User, error) {
	return m.linking.UnlinkProvider(ctx, userID, provider)
}

func (m *Manager) SetPrimaryProvider(ctx context.Context, userID uuid.UUID, provider Provider) (*User, error) {
	return m.linking.SetPrimaryProvider(ctx, userID, provider)
}

func (m *Manager) ListLinkedProviders(ctx context.Context, userID uuid.UUID) ([]LinkedProvider, error) {
	return m.linking.ListLinkedProviders(ctx, userID)
}

func (m *Manager) ListEffectivePermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return m.permissions.EffectivePermissions(ctx, userID)
}

func (m *Manager) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	return m.permissions.HasPermission(ctx, userID, permission)
}

func (m *Manager) GrantPermission(ctx context.Context, userID uuid.UUID, permission string, opts GrantOptions) (*PermissionGrant, error) {
	return m.permissions.GrantPermission(ctx, userID, permission, opts)
}

func (m *Manager) RevokePermission(ctx context.Context, userID uuid.UUID, permission string) error {
	return m.permissions.RevokePermission(ctx, userID, permission)
}

func (m *Manager) ListGrants(ctx context.Context, userID uuid.UUID) ([]*PermissionGrant, error) {
	return m.permissions.ListGrants(ctx, userID)
}

func (m *Manager) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	return m.roles.CreateRole(ctx, in)
}

func (m *Manager) GetRole(ctx context.Context, slug string) (*Role, error) {
	return m.roles.GetRole(ctx, slug)
}

func (m *Manager) ListRoles(ctx context.Context) ([]*Role, error) {
	return m.roles.ListRoles(ctx)
}

func (m *Manager) UpdateRole(ctx context.Context, slug string, in RoleInput) (*Role, error) {
	return m.roles.UpdateRole(ctx, slug, in)
}

func (m *Manager) DeleteRole(ctx context.Context, slug string) error {
	return m.roles.DeleteRole(ctx, slug)
}

func (m *Manager) AssignRole(ctx context.Context, userID uuid.UUID, slug string) (*User, error) {
	return m.roles.AssignRole(ctx, userID, slug)
}

// SeedSystemRoles creates the built in roles.
func (m *Manager) SeedSystemRoles(ctx context.Context) error {
	return m.roles.SeedSystemRoles(ctx)
}

// GetUser loads a user by id.
func (m *Manager) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	ctx, cancel, err := begin(ctx, "user lookup")
	if err != nil {
		return nil, err
	}
	defer cancel()

	return m.repo.Users().GetUserTx(ctx, m.repo.DB(), userID)
}

// DeleteUser soft deletes a user, releases its provider ids and revokes all
// of its sessions and direct grants in one transaction. With hashed user ids
// the email cannot register again, since the soft deleted row keeps its id.
func (m *Manager) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel, err := begin(ctx, "user deletion")
	if err != nil {
		return err
	}
	defer cancel()

	var revoked int64
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := m.repo.Users().SoftDeleteTx(ctx, tx, userID, m.clock()); err != nil {
			return err
		}
		if revoked, err = m.repo.Sessions().InvalidateAllTx(ctx, tx, userID); err != nil {
			return err
		}
		_, err := m.repo.PermissionGrants().DeleteByUserTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return settle(err, "user deletion transaction failed")
	}

	activityRecorder{sink: m.activity, logger: m.logger, clock: m.clock}.
		record(ctx, ActivitySessionRevoked, ActorFromContext(ctx), userID.String(), map[string]any{
			"revoked": revoked,
			"reason":  "user_deleted",
		})
	return nil
}

// PurgeExpired runs the hygiene sweep over pending registrations and
// sessions.
func (m *Manager) PurgeExpired(ctx context.Context) (pending int64, sessions int64, err error) {
	if pending, err = m.registration.PurgeExpired(ctx); err != nil {
		return 0, 0, err
	}
	if sessions, err = m.sessions.PurgeExpired(ctx); err != nil {
		return pending, 0, err
	}
	return pending, sessions, nil
}
