package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAuthCodeURL(t *testing.T) {
	provider := New(Config{ClientConfig: social.ClientConfig{
		ClientID:    "app-id",
		CallbackURL: "https://example.com/auth/facebook/callback",
	}})
	assert.Equal(t, identity.ProviderFacebook, provider.Name())

	parsed, err := url.Parse(provider.AuthCodeURL("state-token"))
	require.NoError(t, err)
	assert.Equal(t, "www.facebook.com", parsed.Host)
	assert.Equal(t, "email public_profile", parsed.Query().Get("scope"))
	assert.Equal(t, "state-token", parsed.Query().Get("state"))
	assert.Empty(t, parsed.Query().Get("code_challenge"))
}

func TestProviderExchangeAndUserInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/oauth/access_token":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "fb-token",
				"token_type":   "bearer",
				"expires_in":   5183944,
			})
		case "/me":
			assert.Equal(t, "id,name,email,picture", r.URL.Query().Get("fields"))
			assert.Equal(t, "Bearer fb-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":    "10001",
				"name":  "Dana Example",
				"email": "dana@example.com",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	provider := New(Config{
		ClientConfig: social.ClientConfig{ClientID: "app-id", ClientSecret: "secret"},
		TokenURL:     server.URL + "/oauth/access_token",
		UserInfoURL:  server.URL + "/me",
	})

	token, err := provider.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "fb-token", token.AccessToken)

	profile, err := provider.UserInfo(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "10001", profile.ProviderUserID)
	assert.Equal(t, "dana@example.com", profile.Email)
	assert.True(t, profile.EmailVerified)
}

func TestProviderUserInfo_WithoutEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "10002", "name": "Phone Signup"})
	}))
	defer server.Close()

	provider := New(Config{UserInfoURL: server.URL})

	profile, err := provider.UserInfo(context.Background(), &social.Token{AccessToken: "fb-token"})
	require.NoError(t, err)
	assert.Empty(t, profile.Email)
	assert.False(t, profile.EmailVerified)
}

func TestProviderGraphError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "Invalid OAuth access token.",
				"type":    "OAuthException",
				"code":    190,
			},
		})
	}))
	defer server.Close()

	provider := New(Config{UserInfoURL: server.URL})

	_, err := provider.UserInfo(context.Background(), &social.Token{AccessToken: "expired"})

	var perr *social.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "facebook", perr.Provider)
	assert.Equal(t, "OAuthException", perr.Code)
	assert.Equal(t, "Invalid OAuth access token.", perr.Description)
}
