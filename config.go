package identity

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// Config holds every tunable of the identity service. Values are read from
// IDENTITY_* environment variables.
type Config struct {
	HTTPAddr string `env:"IDENTITY_HTTP_ADDR" envDefault:":8080"`
	BaseURL  string `env:"IDENTITY_BASE_URL" envDefault:"http://localhost:8080"`

	DatabaseDriver string `env:"IDENTITY_DB_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string `env:"IDENTITY_DB_DSN" envDefault:"file:identity.db?cache=shared"`
	DatabaseDebug  bool   `env:"IDENTITY_DB_DEBUG"`

	SigningKey     string        `env:"IDENTITY_SIGNING_KEY"`
	Issuer         string        `env:"IDENTITY_ISSUER" envDefault:"go-identity"`
	Audience       []string      `env:"IDENTITY_AUDIENCE" envSeparator:","`
	AccessTokenTTL time.Duration `env:"IDENTITY_ACCESS_TOKEN_TTL" envDefault:"15m"`
	SessionMaxAge  time.Duration `env:"IDENTITY_SESSION_MAX_AGE" envDefault:"720h"`

	RegistrationTTL       time.Duration `env:"IDENTITY_REGISTRATION_TTL" envDefault:"15m"`
	MaxActivationAttempts int           `env:"IDENTITY_MAX_ACTIVATION_ATTEMPTS" envDefault:"5"`
	BcryptCost            int           `env:"IDENTITY_BCRYPT_COST" envDefault:"12"`
	DefaultRole           string        `env:"IDENTITY_DEFAULT_ROLE" envDefault:"user"`
	HashedUserIDs         bool          `env:"IDENTITY_HASHED_USER_IDS"`
	ImplicitLinkPolicy    string        `env:"IDENTITY_IMPLICIT_LINK_POLICY" envDefault:"verified_email"`

	StateEncryptionKey string        `env:"IDENTITY_STATE_ENCRYPTION_KEY"`
	StateHMACKey       string        `env:"IDENTITY_STATE_HMAC_KEY"`
	StateTTL           time.Duration `env:"IDENTITY_STATE_TTL" envDefault:"10m"`
	OAuthRedirectURL   string        `env:"IDENTITY_OAUTH_REDIRECT_URL" envDefault:"/"`

	Google   OAuthClientConfig `envPrefix:"IDENTITY_GOOGLE_"`
	GitHub   OAuthClientConfig `envPrefix:"IDENTITY_GITHUB_"`
	Facebook OAuthClientConfig `envPrefix:"IDENTITY_FACEBOOK_"`

	RateLimitPerMinute int           `env:"IDENTITY_RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	RateLimitBurst     int           `env:"IDENTITY_RATE_LIMIT_BURST" envDefault:"5"`
	SweepInterval      time.Duration `env:"IDENTITY_SWEEP_INTERVAL" envDefault:"10m"`
	MailFrom           string        `env:"IDENTITY_MAIL_FROM" envDefault:"no-reply@localhost"`
}

// OAuthClientConfig is the client registration for one OAuth provider. A
// provider is enabled when ClientID is set.
type OAuthClientConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	CallbackURL  string   `env:"CALLBACK_URL"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

// Enabled reports whether the provider has client credentials.
func (c OAuthClientConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// LoadConfig parses the environment into a Config and validates it.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required keys and value ranges.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.DatabaseDriver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.StateEncryptionKey, validation.Required, validation.By(aesKeyLength)),
		validation.Field(&c.StateHMACKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.MaxActivationAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.DefaultRole, validation.Required),
		validation.Field(&c.ImplicitLinkPolicy, validation.In(string(ImplicitLinkVerifiedEmail), string(ImplicitLinkNever))),
		validation.Field(&c.AccessTokenTTL, validation.Required),
		validation.Field(&c.SessionMaxAge, validation.Required),
		validation.Field(&c.RegistrationTTL, validation.Required),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration")
	}
	return nil
}

func aesKeyLength(value any) error {
	s, _ := value.(string)
	switch len(s) {
	case 16, 24, 32:
		return nil
	}
	return validation.NewError("validation_aes_key", "must be 16, 24 or 32 bytes long")
}
