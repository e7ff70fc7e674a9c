package social

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-identity"
	"github.com/google/uuid"
)

// SignInResolver applies the account linking rules.
type SignInResolver interface {
	ResolveSignIn(ctx context.Context, profile identity.ExternalProfile) (*identity.SignInResult, error)
	LinkProvider(ctx context.Context, userID uuid.UUID, provider identity.Provider, profile identity.ExternalProfile) (*identity.User, error)
}

// SessionIssuer opens a session once a provider has vouched for the user.
type SessionIssuer interface {
	CreateSession(ctx context.Context, user *identity.User, provider identity.Provider, client identity.ClientInfo) (*identity.IssuedSession, error)
}

// Config configures the Authenticator.
type Config struct {
	StateEncryptionKey []byte
	StateHMACKey       []byte
	StateTTL           time.Duration
	DefaultRedirectURL string
}

// Option configures the Authenticator.
type Option func(*Authenticator)

// WithProvider registers a provider under its Name.
func WithProvider(p Provider) Option {
	return func(a *Authenticator) {
		if p != nil {
			a.providers[p.Name()] = p
		}
	}
}

// WithStateManager replaces the encrypted state manager.
func WithStateManager(sm StateManager) Option {
	return func(a *Authenticator) {
		if sm != nil {
			a.state = sm
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l identity.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// Authenticator runs the OAuth2 authorization code flow with PKCE and
// hands the resulting profile to the linking rules.
type Authenticator struct {
	providers map[identity.Provider]Provider
	state     StateManager
	resolver  SignInResolver
	sessions  SessionIssuer
	config    Config
	logger    identity.Logger
}

var _ identity.OAuthFlow = (*Authenticator)(nil)

// NewAuthenticator builds an Authenticator. The encrypted state manager is
// created from cfg unless WithStateManager is given.
func NewAuthenticator(resolver SignInResolver, sessions SessionIssuer, cfg Config, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		providers: make(map[identity.Provider]Provider),
		resolver:  resolver,
		sessions:  sessions,
		config:    cfg,
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.state == nil {
		sm, err := NewEncryptedStateManager(cfg.StateEncryptionKey, cfg.StateHMACKey, cfg.StateTTL)
		if err != nil {
			return nil, err
		}
		a.state = sm
	}
	return a, nil
}

// Providers returns the registered provider names, sorted.
func (a *Authenticator) Providers() []identity.Provider {
	out := make([]identity.Provider, 0, len(a.providers))
	for name := range a.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *Authenticator) provider(name identity.Provider) (Provider, error) {
	p, ok := a.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// Authorize returns the consent URL for provider.
func (a *Authenticator) Authorize(ctx context.Context, provider identity.Provider, opts identity.AuthorizeOptions) (string, error) {
	p, err := a.provider(provider)
	if err != nil {
		return "", err
	}

	action := opts.Action
	if action == "" {
		action = identity.OAuthActionLogin
	}
	if action == identity.OAuthActionLink && opts.LinkUserID == uuid.Nil {
		return "", ErrLinkTargetRequired
	}

	verifier, err := NewCodeVerifier()
	if err != nil {
		return "", err
	}

	state := &OAuthState{
		Provider:     provider,
		Action:       action,
		CodeVerifier: verifier,
		RedirectURL:  opts.RedirectURL,
	}
	if action == identity.OAuthActionLink {
		state.LinkUserID = opts.LinkUserID.String()
	}

	encoded, err := a.state.Encode(state)
	if err != nil {
		return "", err
	}

	a.logger.Debug("oauth authorize provider=%s action=%s", provider, action)
	return p.AuthCodeURL(encoded, WithPKCE(CodeChallengeS256(verifier), "S256")), nil
}

// Callback validates state, exchanges code and signs the user in or links
// the provider to the user that started the flow.
func (a *Authenticator) Callback(ctx context.Context, provider identity.Provider, code, rawState string, client identity.ClientInfo) (*identity.OAuthOutcome, error) {
	p, err := a.provider(provider)
	if err != nil {
		return nil, err
	}

	state, err := a.state.Decode(rawState)
	if err != nil {
		return nil, err
	}
	if state.Provider != provider {
		return nil, ErrInvalidState
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrTokenExchangeFailed
	}

	token, err := p.Exchange(ctx, code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		a.logger.Warn("oauth exchange failed provider=%s: %v", provider, err)
		return nil, wrapProviderError(ErrTokenExchangeFailed, string(provider), "exchange", err)
	}

	profile, err := p.UserInfo(ctx, token)
	if err != nil {
		a.logger.Warn("oauth user info failed provider=%s: %v", provider, err)
		return nil, wrapProviderError(ErrUserInfoFailed, string(provider), "user_info", err)
	}
	profile.Provider = provider

	outcome := &identity.OAuthOutcome{
		Action:      state.Action,
		Provider:    provider,
		RedirectURL: a.redirect(state.RedirectURL),
	}

	switch state.Action {
	case identity.OAuthActionLink:
		userID, err := uuid.Parse(state.LinkUserID)
		if err != nil {
			return nil, ErrInvalidState
		}
		user, err := a.resolver.LinkProvider(ctx, userID, provider, profile.External())
		if err != nil {
			return nil, err
		}
		outcome.User = user
		outcome.Linked = true
	case identity.OAuthActionLogin:
		res, err := a.resolver.ResolveSignIn(ctx, profile.External())
		if err != nil {
			return nil, err
		}
		issued, err := a.sessions.CreateSession(ctx, res.User, provider, client)
		if err != nil {
			return nil, err
		}
		outcome.User = issued.User
		outcome.Session = issued
		outcome.Created = res.Created
		outcome.Linked = res.Linked
	default:
		return nil, ErrInvalidState
	}

	a.logger.Info("oauth callback provider=%s action=%s user=%s", provider, state.Action, outcome.User.ID)
	return outcome, nil
}

func (a *Authenticator) redirect(url string) string {
	if url != "" {
		return url
	}
	return a.config.DefaultRedirectURL
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
