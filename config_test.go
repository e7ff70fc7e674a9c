package identity

import (
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("IDENTITY_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("IDENTITY_STATE_ENCRYPTION_KEY", "0123456789abcdef")
	t.Setenv("IDENTITY_STATE_HMAC_KEY", "fedcba9876543210fedcba9876543210")
	t.Setenv("IDENTITY_AUDIENCE", "web,mobile")
	t.Setenv("IDENTITY_REGISTRATION_TTL", "30m")
	t.Setenv("IDENTITY_GOOGLE_CLIENT_ID", "google-client")
	t.Setenv("IDENTITY_GOOGLE_CLIENT_SECRET", "google-secret")
	t.Setenv("IDENTITY_GITHUB_SCOPES", "read:user,user:email")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, []string{"web", "mobile"}, cfg.Audience)
	assert.Equal(t, 30*time.Minute, cfg.RegistrationTTL)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 5, cfg.MaxActivationAttempts)
	assert.Equal(t, string(ImplicitLinkVerifiedEmail), cfg.ImplicitLinkPolicy)
	assert.True(t, cfg.Google.Enabled())
	assert.False(t, cfg.GitHub.Enabled())
	assert.Equal(t, []string{"read:user", "user:email"}, cfg.GitHub.Scopes)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "short signing key", mutate: func(c *Config) { c.SigningKey = "short" }},
		{name: "bad aes key", mutate: func(c *Config) { c.StateEncryptionKey = "0123456789" }},
		{name: "unknown driver", mutate: func(c *Config) { c.DatabaseDriver = "mysql" }},
		{name: "unknown link policy", mutate: func(c *Config) { c.ImplicitLinkPolicy = "always" }},
		{name: "no attempts", mutate: func(c *Config) { c.MaxActivationAttempts = 0 }},
	}

	require.NoError(t, testConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, goerrors.IsValidation(err))
		})
	}
}
