package social

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig is an OAuth app registration.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	HTTPClient *http.Client
}

// Client returns the configured HTTP client or one with a 10s timeout.
func (c ClientConfig) Client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// BuildAuthURL appends the standard authorization code parameters to
// base. extra carries provider specific parameters.
func BuildAuthURL(base string, cfg ClientConfig, state string, ac AuthCodeConfig, extra url.Values) string {
	params := url.Values{
		"client_id":     {cfg.ClientID},
		"redirect_uri":  {cfg.CallbackURL},
		"response_type": {"code"},
		"state":         {state},
	}
	if len(ac.Scopes) > 0 {
		params.Set("scope", strings.Join(dedupe(ac.Scopes), " "))
	}
	if ac.CodeChallenge != "" {
		params.Set("code_challenge", ac.CodeChallenge)
		params.Set("code_challenge_method", ac.CodeChallengeMethod)
	}
	if ac.Prompt != "" {
		params.Set("prompt", ac.Prompt)
	}
	for k, vs := range extra {
		params[k] = vs
	}
	return base + "?" + params.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// ExchangeCode posts the authorization code grant to tokenURL.
func ExchangeCode(ctx context.Context, provider string, cfg ClientConfig, tokenURL, code string, ec ExchangeConfig) (*Token, error) {
	form := url.Values{
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {cfg.CallbackURL},
		"grant_type":    {"authorization_code"},
	}
	if ec.CodeVerifier != "" {
		form.Set("code_verifier", ec.CodeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	status, body, err := do(cfg.Client(), req)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Operation: "exchange", Err: err}
	}
	if status != http.StatusOK {
		return nil, decodeProviderError(provider, "exchange", status, body)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Provider: provider, Operation: "exchange", Status: status, Code: "invalid_response", Description: "failed to decode token response", Err: err}
	}
	if resp.AccessToken == "" {
		// GitHub reports errors with a 200 status.
		if perr := decodeProviderError(provider, "exchange", status, body); perr.Code != "" {
			return nil, perr
		}
		return nil, &ProviderError{Provider: provider, Operation: "exchange", Status: status, Code: "missing_access_token", Description: "missing access token"}
	}

	token := &Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
		Scopes:       splitScopes(resp.Scope),
	}
	if resp.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return token, nil
}

// GetJSON fetches target with the bearer token and decodes the body into out.
func GetJSON(ctx context.Context, provider, operation string, client *http.Client, target, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	status, body, err := do(client, req)
	if err != nil {
		return &ProviderError{Provider: provider, Operation: operation, Err: err}
	}
	if status != http.StatusOK {
		return decodeProviderError(provider, operation, status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Provider: provider, Operation: operation, Status: status, Code: "invalid_response", Description: "failed to decode response", Err: err}
	}
	return nil
}

func do(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// decodeProviderError understands the OAuth error body
// {"error","error_description"}, the Google and Graph API body
// {"error":{"message","status"|"type"}} and GitHub's {"message"}.
func decodeProviderError(provider, operation string, status int, body []byte) *ProviderError {
	perr := &ProviderError{Provider: provider, Operation: operation, Status: status}

	var envelope struct {
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
		Message          string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		perr.Description = strings.TrimSpace(string(body))
		return perr
	}

	var code string
	if err := json.Unmarshal(envelope.Error, &code); err == nil {
		perr.Code = code
		perr.Description = envelope.ErrorDescription
		return perr
	}

	var nested struct {
		Message string `json:"message"`
		Status  string `json:"status"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
		perr.Code = nested.Status
		if perr.Code == "" {
			perr.Code = nested.Type
		}
		perr.Description = nested.Message
		return perr
	}

	perr.Description = envelope.Message
	return perr
}

// splitScopes accepts space (RFC 6749) and comma (GitHub) separated lists.
func splitScopes(scopes string) []string {
	return strings.FieldsFunc(scopes, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
