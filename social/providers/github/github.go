package github

import (
	"context"
	"strconv"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/social"
)

const (
	defaultAuthURL   = "https://github.com/login/oauth/authorize"
	defaultTokenURL  = "https://github.com/login/oauth/access_token"
	defaultUserURL   = "https://api.github.com/user"
	defaultEmailsURL = "https://api.github.com/user/emails"
)

// Config holds GitHub OAuth configuration.
type Config struct {
	social.ClientConfig

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string
}

// DefaultScopes returns the default GitHub scopes.
func DefaultScopes() []string {
	return []string{"user:email", "read:user"}
}

// Provider implements social.Provider for GitHub.
type Provider struct {
	config Config
}

var _ social.Provider = (*Provider)(nil)

// New creates a GitHub provider.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultEmailsURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = cfg.ClientConfig.Client()
	}
	return &Provider{config: cfg}
}

func (p *Provider) Name() identity.Provider {
	return identity.ProviderGitHub
}

func (p *Provider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	ac := social.ApplyAuthCodeOptions(p.config.Scopes, opts...)
	return social.BuildAuthURL(p.config.AuthURL, p.config.ClientConfig, state, ac, nil)
}

// Exchange trades the code for a token. GitHub tokens do not expire and
// carry no refresh token.
func (p *Provider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	return social.ExchangeCode(ctx, p.Name().String(), p.config.ClientConfig, p.config.TokenURL, code, social.ApplyExchangeOptions(opts...))
}

type user struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type email struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// UserInfo reads /user and then /user/emails. The public profile email is
// used, unverified, when the emails endpoint is not available.
func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*social.Profile, error) {
	var u user
	if err := social.GetJSON(ctx, p.Name().String(), "user_info", p.config.HTTPClient, p.config.UserURL, token.AccessToken, &u); err != nil {
		return nil, err
	}

	profile := &social.Profile{
		Provider:       identity.ProviderGitHub,
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Email:          u.Email,
		Name:           u.Name,
		Username:       u.Login,
		AvatarURL:      u.AvatarURL,
	}

	var emails []email
	if err := social.GetJSON(ctx, p.Name().String(), "emails", p.config.HTTPClient, p.config.EmailsURL, token.AccessToken, &emails); err != nil {
		return profile, nil
	}
	if addr, verified, ok := pickEmail(emails); ok {
		profile.Email = addr
		profile.EmailVerified = verified
	}
	return profile, nil
}

// pickEmail prefers the primary address, then any verified one.
func pickEmail(emails []email) (string, bool, bool) {
	for _, e := range emails {
		if e.Primary {
			return e.Email, e.Verified, true
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true, true
		}
	}
	return "", false, false
}
