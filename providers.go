package identity

import "strings"

// Provider identifies a sign-in method.
type Provider string

const (
	ProviderEmail    Provider = "email"
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
	ProviderGitHub   Provider = "github"
)

// ExternalProfile is the normalized identity an OAuth provider returns.
type ExternalProfile struct {
	Provider      Provider
	ProviderID    string
	Email         string
	Name          string
	EmailVerified bool
}

// externalIDField binds an OAuth provider to its users column.
type externalIDField struct {
	column string
	get    func(*User) *string
	set    func(*User, *string)
}

var externalIDFields = map[Provider]externalIDField{
	ProviderGoogle: {
		column: "google_id",
		get:    func(u *User) *string { return u.GoogleID },
		set:    func(u *User, v *string) { u.GoogleID = v },
	},
	ProviderFacebook: {
		column: "facebook_id",
		get:    func(u *User) *string { return u.FacebookID },
		set:    func(u *User, v *string) { u.FacebookID = v },
	},
	ProviderGitHub: {
		column: "github_id",
		get:    func(u *User) *string { return u.GitHubID },
		set:    func(u *User, v *string) { u.GitHubID = v },
	},
}

// ParseProvider converts a string into a known Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if p == ProviderEmail {
		return p, nil
	}
	if _, ok := externalIDFields[p]; ok {
		return p, nil
	}
	return "", ErrUnknownProvider
}

// IsOAuth reports whether p is an external OAuth provider.
func (p Provider) IsOAuth() bool {
	_, ok := externalIDFields[p]
	return ok
}

func (p Provider) String() string {
	return string(p)
}

// ExternalID returns the stored external id of provider p, if any.
func (u *User) ExternalID(p Provider) string {
	field, ok := externalIDFields[p]
	if !ok {
		return ""
	}
	if v := field.get(u); v != nil {
		return *v
	}
	return ""
}

func (u *User) setExternalID(p Provider, id string) {
	field, ok := externalIDFields[p]
	if !ok {
		return
	}
	if id == "" {
		field.set(u, nil)
		return
	}
	field.set(u, &id)
}

func externalIDColumn(p Provider) (string, bool) {
	field, ok := externalIDFields[p]
	return field.column, ok
}
