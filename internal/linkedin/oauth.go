// Package linkedin is the provider boundary: the OAuth token traffic
// and the Posts API. All errors leaving this package are sanitized at
// this lowest layer; they carry a status code or "network error" and
// never request bodies, headers, or anything that could embed the
// client secret or a bearer token.
package linkedin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/vault"
)

const (
	authorizationURL = "https://www.linkedin.com/oauth/v2/authorization"
	tokenURL         = "https://www.linkedin.com/oauth/v2/accessToken"

	tokenCallTimeout = 10 * time.Second
)

// Config carries the registered application settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	APIVersion   string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client talks to the provider. It implements vault.Renewer.
type Client struct {
	oauth      oauth2.Config
	http       *http.Client
	apiVersion string
	logger     *zap.Logger
}

// NewClient builds a provider client from the application settings.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizationURL,
				TokenURL: tokenURL,
			},
		},
		http:       httpClient,
		apiVersion: cfg.APIVersion,
		logger:     logger,
	}
}

// AuthCodeURL builds the provider authorization URL carrying the signed
// state value.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a grant.
func (c *Client) Exchange(ctx context.Context, code string) (vault.Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenCallTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		c.logger.Error("token exchange failed")
		return vault.Grant{}, sanitizeTokenError(ctx, err)
	}
	return grantFromToken(token), nil
}

// Refresh trades a refresh secret for a fresh grant. Implements
// vault.Renewer; the vault serializes calls so this runs at most once
// per expiry.
func (c *Client) Refresh(ctx context.Context, refreshSecret string) (vault.Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenCallTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	source := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshSecret})
	token, err := source.Token()
	if err != nil {
		c.logger.Error("token refresh failed")
		return vault.Grant{}, sanitizeTokenError(ctx, err)
	}

	grant := grantFromToken(token)
	if grant.RefreshSecret == "" {
		// Some responses omit the refresh secret; the previous one
		// stays valid until its own expiry.
		grant.RefreshSecret = refreshSecret
	}
	return grant, nil
}

func grantFromToken(token *oauth2.Token) vault.Grant {
	grant := vault.Grant{
		AccessSecret:  token.AccessToken,
		RefreshSecret: token.RefreshToken,
	}
	if expiresIn, ok := token.Extra("expires_in").(float64); ok {
		grant.ExpiresIn = int64(expiresIn)
	}
	if refreshExpiresIn, ok := token.Extra("refresh_token_expires_in").(float64); ok {
		grant.RefreshExpiresIn = int64(refreshExpiresIn)
	}
	if scope, ok := token.Extra("scope").(string); ok {
		grant.Scope = scope
	}
	return grant
}

// sanitizeTokenError impoverishes oauth2 errors, which can embed the
// full request URL and response body.
func sanitizeTokenError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return apperr.Transport("provider token endpoint timed out")
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return apperr.Transport("provider returned status " + retrieveErr.Response.Status)
	}
	return apperr.Transport("network error during token call")
}
