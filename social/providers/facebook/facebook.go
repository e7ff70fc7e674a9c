package facebook

import (
	"context"
	"net/url"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/social"
)

const (
	graphVersion       = "v19.0"
	defaultAuthURL     = "https://www.facebook.com/" + graphVersion + "/dialog/oauth"
	defaultTokenURL    = "https://graph.facebook.com/" + graphVersion + "/oauth/access_token"
	defaultUserInfoURL = "https://graph.facebook.com/" + graphVersion + "/me"
)

// Config holds Facebook OAuth configuration.
type Config struct {
	social.ClientConfig

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// DefaultScopes returns the default Facebook permissions.
func DefaultScopes() []string {
	return []string{"email", "public_profile"}
}

// Provider implements social.Provider for Facebook Login.
type Provider struct {
	config Config
}

var _ social.Provider = (*Provider)(nil)

// New creates a Facebook provider.
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
	return identity.ProviderFacebook
}

func (p *Provider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	ac := social.ApplyAuthCodeOptions(p.config.Scopes, opts...)
	return social.BuildAuthURL(p.config.AuthURL, p.config.ClientConfig, state, ac, nil)
}

func (p *Provider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	return social.ExchangeCode(ctx, p.Name().String(), p.config.ClientConfig, p.config.TokenURL, code, social.ApplyExchangeOptions(opts...))
}

type me struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// UserInfo reads the Graph API /me node. Facebook only returns addresses
// it has confirmed, so a present email counts as verified.
func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*social.Profile, error) {
	target := p.config.UserInfoURL + "?" + url.Values{"fields": {"id,name,email,picture"}}.Encode()

	var info me
	if err := social.GetJSON(ctx, p.Name().String(), "user_info", p.config.HTTPClient, target, token.AccessToken, &info); err != nil {
		return nil, err
	}
	return &social.Profile{
		Provider:       identity.ProviderFacebook,
		ProviderUserID: info.ID,
		Email:          info.Email,
		EmailVerified:  info.Email != "",
		Name:           info.Name,
		AvatarURL:      info.Picture.Data.URL,
	}, nil
}
