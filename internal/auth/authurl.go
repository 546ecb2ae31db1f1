package auth

import (
	"net/url"
	"time"
)

// Strava OAuth endpoints and client defaults.
const (
	DefaultAuthorizeURL   = "https://www.strava.com/oauth/authorize"
	DefaultTokenURL       = "https://www.strava.com/oauth/token"
	DefaultRedirectURI    = "http://localhost:8089/callback"
	DefaultScope          = "activity:read_all"
	DefaultStoreLocation  = ".strava_tokens.json"
	DefaultApprovalPrompt = "auto"

	// DefaultAuthTimeout bounds a single authorization attempt.
	DefaultAuthTimeout = 120 * time.Second

	// DefaultTokenTimeout bounds every call to the token endpoint.
	DefaultTokenTimeout = 30 * time.Second
)

// OAuthConfig is the client configuration. It is read once when a Manager
// is constructed and never modified afterwards.
type OAuthConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	Scope          string
	StoreLocation  string
	AuthorizeURL   string
	TokenURL       string
	ApprovalPrompt string
}

// withDefaults returns a copy of cfg with empty optional fields filled in.
func (cfg OAuthConfig) withDefaults() OAuthConfig {
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = DefaultRedirectURI
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.StoreLocation == "" {
		cfg.StoreLocation = DefaultStoreLocation
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.ApprovalPrompt == "" {
		cfg.ApprovalPrompt = DefaultApprovalPrompt
	}
	return cfg
}

// validate checks the fields that have no default.
func (cfg OAuthConfig) validate() error {
	if cfg.ClientID == "" {
		return &ConfigurationError{Field: "client_id", Message: "STRAVA_CLIENT_ID is required"}
	}
	if cfg.ClientSecret == "" {
		return &ConfigurationError{Field: "client_secret", Message: "STRAVA_CLIENT_SECRET is required"}
	}
	return nil
}

// BuildAuthorizationURL returns the provider URL the principal must visit to
// grant access.
func BuildAuthorizationURL(cfg OAuthConfig) (string, error) {
	if cfg.ClientID == "" {
		return "", &ConfigurationError{Field: "client_id", Message: "client ID is required to build the authorization URL"}
	}
	cfg = cfg.withDefaults()

	u, err := url.Parse(cfg.AuthorizeURL)
	if err != nil {
		return "", &ConfigurationError{Field: "authorize_url", Cause: err}
	}

	q := u.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", cfg.Scope)
	q.Set("approval_prompt", cfg.ApprovalPrompt)

	u.RawQuery = q.Encode()
	return u.String(), nil
}
