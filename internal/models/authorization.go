package models

import (
	"maps"
	"slices"
	"time"
)

// TokenKind identifies which token slot of an authorization a value belongs to
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access_token"
	TokenKindRefresh TokenKind = "refresh_token"
	TokenKindID      TokenKind = "id_token"
)

// TokenKinds lists every kind an authorization can hold, in lookup priority order
var TokenKinds = []TokenKind{TokenKindAccess, TokenKindRefresh, TokenKindID}

// AttributeSubject is the attribute key holding the authenticated subject
const AttributeSubject = "sub"

// Token is one issued token value with its metadata
type Token struct {
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scopes    []string  `json:"scopes,omitempty"`
}

// Expired reports whether the token is past its expiry. A zero expiry never expires.
func (t *Token) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

func (t *Token) clone() *Token {
	if t == nil {
		return nil
	}
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	return &out
}

// Authorization is the stored state of one grant: the tokens issued to a
// principal for a registered client, plus arbitrary attributes.
type Authorization struct {
	ID                 string         `json:"id"`
	PrincipalName      string         `json:"principalName"`
	RegisteredClientID string         `json:"registeredClientId"`
	GrantType          GrantType      `json:"authorizationGrantType"`
	AccessToken        *Token         `json:"accessToken,omitempty"`
	RefreshToken       *Token         `json:"refreshToken,omitempty"`
	IDToken            *Token         `json:"idToken,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// Token returns the token held in the given slot, or nil
func (a *Authorization) Token(kind TokenKind) *Token {
	switch kind {
	case TokenKindAccess:
		return a.AccessToken
	case TokenKindRefresh:
		return a.RefreshToken
	case TokenKindID:
		return a.IDToken
	}
	return nil
}

// ClientPrincipalPrefix namespaces principals of client_credentials grants so
// a client id never collides with a username.
const ClientPrincipalPrefix = "client:"

// ClientPrincipal is the principal name of an authorization a client holds for itself
func ClientPrincipal(clientID string) string {
	return ClientPrincipalPrefix + clientID
}

// Subject returns the subject attribute, falling back to the principal name
func (a *Authorization) Subject() string {
	if sub, ok := a.Attributes[AttributeSubject].(string); ok && sub != "" {
		return sub
	}
	return a.PrincipalName
}

// Clone returns a copy that shares no mutable state with the receiver
func (a *Authorization) Clone() *Authorization {
	if a == nil {
		return nil
	}
	out := *a
	out.AccessToken = a.AccessToken.clone()
	out.RefreshToken = a.RefreshToken.clone()
	out.IDToken = a.IDToken.clone()
	out.Attributes = maps.Clone(a.Attributes)
	return &out
}
