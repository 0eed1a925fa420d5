package models

import (
	"slices"
	"time"
)

// ClientAuthenticationMethod is how a registered client proves its identity at the token endpoint
type ClientAuthenticationMethod string

const (
	ClientSecretBasic ClientAuthenticationMethod = "client_secret_basic"
	ClientSecretPost  ClientAuthenticationMethod = "client_secret_post"
	ClientSecretJWT   ClientAuthenticationMethod = "client_secret_jwt"
	PrivateKeyJWT     ClientAuthenticationMethod = "private_key_jwt"
	AuthMethodNone    ClientAuthenticationMethod = "none"
)

// GrantType is an OAuth2 authorization grant type
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
)

// Client represents a registered OAuth client application.
// Clients are loaded once at startup and never mutated afterwards.
type Client struct {
	ID                    string                       `json:"id"`
	ClientID              string                       `json:"clientId"`
	Secret                string                       `json:"-"`
	Name                  string                       `json:"clientName"`
	AuthenticationMethods []ClientAuthenticationMethod `json:"authenticationMethods"`
	GrantTypes            []GrantType                  `json:"grantTypes"`
	RedirectURIs          []string                     `json:"redirectUris"`
	Scopes                []string                     `json:"scopes"`
	AccessTokenTTL        time.Duration                `json:"accessTokenTtl"`
	RefreshTokenTTL       time.Duration                `json:"refreshTokenTtl"`
}

func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

func (c *Client) HasGrantType(grantType GrantType) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

func (c *Client) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

func (c *Client) HasAuthenticationMethod(method ClientAuthenticationMethod) bool {
	return slices.Contains(c.AuthenticationMethods, method)
}

// Clone returns a deep copy so callers cannot reach the registry's backing slices
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	out := *c
	out.AuthenticationMethods = slices.Clone(c.AuthenticationMethods)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}
