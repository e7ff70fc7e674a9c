package social

import (
	"context"
	"time"

	"github.com/goliatone/go-identity"
)

// Provider is an OAuth2 authorization code provider.
type Provider interface {
	// Name is the provider the profile is linked under.
	Name() identity.Provider

	// AuthCodeURL returns the consent URL carrying state.
	AuthCodeURL(state string, opts ...AuthCodeOption) string

	// Exchange trades an authorization code for an access token.
	Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error)

	// UserInfo fetches the profile the access token grants.
	UserInfo(ctx context.Context, token *Token) (*Profile, error)
}

// AuthCodeOption configures the authorization URL.
type AuthCodeOption func(*AuthCodeConfig)

// WithScopes requests scopes on top of the configured ones.
func WithScopes(scopes ...string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Scopes = append(c.Scopes, scopes...)
	}
}

// WithPKCE sets the PKCE code challenge.
func WithPKCE(codeChallenge, method string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.CodeChallenge = codeChallenge
		c.CodeChallengeMethod = method
	}
}

// WithPrompt sets the prompt parameter (e.g., "consent", "select_account").
func WithPrompt(prompt string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Prompt = prompt
	}
}

// AuthCodeConfig is the result of applying AuthCodeOptions.
type AuthCodeConfig struct {
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
}

// ApplyAuthCodeOptions starts from the configured scopes and applies opts.
func ApplyAuthCodeOptions(scopes []string, opts ...AuthCodeOption) AuthCodeConfig {
	cfg := AuthCodeConfig{Scopes: append([]string(nil), scopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.CodeChallenge != "" && cfg.CodeChallengeMethod == "" {
		cfg.CodeChallengeMethod = "S256"
	}
	return cfg
}

// ExchangeOption configures the token exchange.
type ExchangeOption func(*ExchangeConfig)

// WithCodeVerifier sets the PKCE code verifier.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(c *ExchangeConfig) {
		c.CodeVerifier = verifier
	}
}

// ExchangeConfig is the result of applying ExchangeOptions.
type ExchangeConfig struct {
	CodeVerifier string
}

func ApplyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	cfg := ExchangeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Token is an OAuth2 token response. Provider tokens are only used to
// fetch the profile and are never stored.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Profile is the user information returned by a provider.
type Profile struct {
	Provider       identity.Provider
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Username       string
	AvatarURL      string
}

// External converts the profile into the form the linking rules consume.
// Name falls back to the username.
func (p *Profile) External() identity.ExternalProfile {
	name := p.Name
	if name == "" {
		name = p.Username
	}
	return identity.ExternalProfile{
		Provider:      p.Provider,
		ProviderID:    p.ProviderUserID,
		Email:         p.Email,
		Name:          name,
		EmailVerified: p.EmailVerified,
	}
}
