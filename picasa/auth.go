package picasa

import (
	"context"
	"errors"
	"net/url"

	"golang.org/x/oauth2"
)

func (c *Client) oauthConfig(cfg AuthConfig, tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       append([]string{Scope}, cfg.ExtraScopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.endpoints.AuthURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthURL returns the consent page URL requesting offline access to the
// photo scope. It performs no I/O and is deterministic for a given config.
func (c *Client) AuthURL(cfg AuthConfig) string {
	authURL := c.oauthConfig(cfg, c.endpoints.TokenURL).AuthCodeURL("", oauth2.AccessTypeOffline)
	// No state is used; drop the empty parameter.
	u, err := url.Parse(authURL)
	if err != nil {
		return authURL
	}
	query := u.Query()
	query.Del("state")
	u.RawQuery = query.Encode()
	return u.String()
}

// GetAccessToken exchanges an authorization code for credentials.
func (c *Client) GetAccessToken(ctx context.Context, cfg AuthConfig, code string) (Credentials, error) {
	return c.ExchangeCode(ctx, cfg, code)
}

// RenewAccessToken trades a refresh token for a fresh access token.
func (c *Client) RenewAccessToken(ctx context.Context, cfg AuthConfig, refreshToken string) (string, error) {
	return c.RefreshAccessToken(ctx, cfg, refreshToken)
}

func (c *Client) ExchangeCode(ctx context.Context, cfg AuthConfig, code string) (Credentials, error) {
	token, err := c.oauthConfig(cfg, c.endpoints.TokenURL).Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return Credentials{}, &AuthError{Op: "exchange code", Err: classifyTokenError(err)}
	}
	scope, _ := token.Extra("scope").(string)
	return Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        scope,
	}, nil
}

// RefreshAccessToken posts a refresh_token grant to the refresh endpoint.
func (c *Client) RefreshAccessToken(ctx context.Context, cfg AuthConfig, refreshToken string) (string, error) {
	src := c.oauthConfig(cfg, c.endpoints.RefreshURL).TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return "", &AuthError{Op: "refresh token", Err: classifyTokenError(err)}
	}
	return token.AccessToken, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		remoteErr := &RemoteError{Body: string(retrieveErr.Body)}
		if retrieveErr.Response != nil {
			remoteErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return remoteErr
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &TransportError{Err: err}
	}
	return err
}
