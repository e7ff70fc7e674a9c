package google

import (
	"context"
	"net/url"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/social"
)

const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// Config holds Google OAuth configuration. The URLs default to Google's
// endpoints.
type Config struct {
	social.ClientConfig

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// DefaultScopes returns the default Google scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements social.Provider for Google.
type Provider struct {
	config Config
}

var _ social.Provider = (*Provider)(nil)

// New creates a Google provider.
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
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = cfg.ClientConfig.Client()
	}
	return &Provider{config: cfg}
}

func (p *Provider) Name() identity.Provider {
	return identity.ProviderGoogle
}

func (p *Provider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	ac := social.ApplyAuthCodeOptions(p.config.Scopes, opts...)
	return social.BuildAuthURL(p.config.AuthURL, p.config.ClientConfig, state, ac, url.Values{
		"access_type": {"online"},
	})
}

func (p *Provider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	return social.ExchangeCode(ctx, p.Name().String(), p.config.ClientConfig, p.config.TokenURL, code, social.ApplyExchangeOptions(opts...))
}

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*social.Profile, error) {
	var info userInfo
	if err := social.GetJSON(ctx, p.Name().String(), "user_info", p.config.HTTPClient, p.config.UserInfoURL, token.AccessToken, &info); err != nil {
		return nil, err
	}
	return &social.Profile{
		Provider:       identity.ProviderGoogle,
		ProviderUserID: info.Sub,
		Email:          info.Email,
		EmailVerified:  info.EmailVerified,
		Name:           info.Name,
		AvatarURL:      info.Picture,
	}, nil
}
