package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

// Exchanger trades authorization codes and refresh tokens for credentials.
// Implementations only talk to the network; persisting the result is the
// caller's job.
//
// redirectURI must match the one the code was issued for; empty means the
// configured redirect URI.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*Credential, error)
	ExchangeRefresh(ctx context.Context, existing *Credential) (*Credential, error)
}

// TokenExchanger is the Exchanger for the provider's /oauth/token endpoint.
type TokenExchanger struct {
	oauth      *oauth2.Config
	scope      string
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

// NewTokenExchanger creates an exchanger for cfg. A nil httpClient gets one
// with a fixed DefaultTokenTimeout deadline.
func NewTokenExchanger(cfg OAuthConfig, httpClient *http.Client) *TokenExchanger {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTokenTimeout}
	}
	return &TokenExchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{cfg.Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		scope:      cfg.Scope,
		httpClient: httpClient,
		timeout:    DefaultTokenTimeout,
		now:        time.Now,
	}
}

// ExchangeCode trades a single-use authorization code for a credential.
// Failures are terminal for that code and are never retried.
func (e *TokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credential, error) {
	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	tok, err := e.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, exchangeError(grantAuthorizationCode, err)
	}

	id, name, err := athleteIdentity(tok.Extra("athlete"))
	if err != nil {
		return nil, &ExchangeError{Grant: grantAuthorizationCode, Cause: err}
	}

	return &Credential{
		PrincipalID:   id,
		PrincipalName: name,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		ExpiresAt:     e.expiresAt(tok),
		TokenType:     tokenType(tok),
		Scope:         e.scope,
	}, nil
}

// ExchangeRefresh uses existing.RefreshToken to obtain fresh tokens. The
// returned credential keeps the principal identity and scope, and keeps the
// old refresh token if the provider did not send a new one.
func (e *TokenExchanger) ExchangeRefresh(ctx context.Context, existing *Credential) (*Credential, error) {
	if existing == nil || existing.RefreshToken == "" {
		return nil, &ExchangeError{Grant: grantRefreshToken, Cause: errors.New("no refresh token available")}
	}

	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	// An empty access token forces the token source to refresh.
	src := e.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: existing.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, exchangeError(grantRefreshToken, err)
	}

	updated := existing.clone()
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.ExpiresAt = e.expiresAt(tok)
	updated.TokenType = tokenType(tok)
	return updated, nil
}

func (e *TokenExchanger) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	return context.WithTimeout(ctx, e.timeout)
}

// expiresAt prefers the provider's absolute expires_at and falls back to the
// expiry oauth2 derived from expires_in.
func (e *TokenExchanger) expiresAt(tok *oauth2.Token) int64 {
	if v, ok := asInt64(tok.Extra("expires_at")); ok && v > 0 {
		return v
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry.Unix()
	}
	return e.now().Unix()
}

func tokenType(tok *oauth2.Token) string {
	if tok.TokenType == "" {
		return "Bearer"
	}
	return tok.TokenType
}

// athleteIdentity extracts id and display name from the embedded identity object.
func athleteIdentity(raw any) (int64, string, error) {
	athlete, ok := raw.(map[string]any)
	if !ok {
		return 0, "", errors.New("token response has no athlete object")
	}
	id, ok := asInt64(athlete["id"])
	if !ok {
		return 0, "", errors.New("token response athlete has no id")
	}
	first, _ := athlete["firstname"].(string)
	last, _ := athlete["lastname"].(string)
	return id, strings.TrimSpace(first + " " + last), nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		var parsed int64
		if _, err := fmt.Sscan(n, &parsed); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func exchangeError(grant string, err error) *ExchangeError {
	ee := &ExchangeError{Grant: grant, Cause: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			ee.StatusCode = re.Response.StatusCode
		}
		ee.ErrorCode = re.ErrorCode
	}
	return ee
}
