package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/source"
)

const (
	DefaultAccessTokenDuration  = 900
	DefaultRefreshTokenDuration = 86400
)

// ErrInvalidClient is returned for entries missing a required key
var ErrInvalidClient = errors.New("invalid client entry")

// Opener resolves a named declarative source
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, source.Origin, error)
}

// entry mirrors one client in the source file. Multi-valued fields are comma separated.
type entry struct {
	ID                    string `yaml:"id"`
	ClientID              string `yaml:"clientId"`
	ClientSecret          string `yaml:"clientSecret"`
	ClientName            string `yaml:"clientName"`
	AuthenticationMethods string `yaml:"authenticationMethods"`
	GrantTypes            string `yaml:"grantTypes"`
	RedirectURIs          string `yaml:"redirectUris"`
	Scopes                string `yaml:"scopes"`
	AccessTokenDuration   *int   `yaml:"accessTokenDuration"`
	RefreshTokenDuration  *int   `yaml:"refreshTokenDuration"`
}

type document struct {
	Clients []entry `yaml:"clients"`
}

type Loader struct {
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load resolves name through opener and parses the client list it holds
func (l *Loader) Load(ctx context.Context, opener Opener, name string) ([]models.Client, error) {
	rc, origin, err := opener.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	clients, err := l.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to load clients from %s: %w", name, err)
	}

	if len(clients) == 0 {
		l.logger.Warn("No clients were loaded", "source", name)
	}
	l.logger.Info("Successfully loaded clients", "count", len(clients), "source", name, "origin", origin)
	return clients, nil
}

// Parse decodes a client list. Entries keep their file order.
func (l *Loader) Parse(r io.Reader) ([]models.Client, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode clients: %w", err)
	}

	clients := make([]models.Client, 0, len(doc.Clients))
	for i, e := range doc.Clients {
		client, err := l.build(e)
		if err != nil {
			return nil, fmt.Errorf("client #%d: %w", i+1, err)
		}
		clients = append(clients, client)
		l.logger.Info("Loaded client", "client_id", client.ClientID, "id", client.ID)
	}
	return clients, nil
}

func (l *Loader) build(e entry) (models.Client, error) {
	if strings.TrimSpace(e.ID) == "" {
		return models.Client{}, fmt.Errorf("%w: id is required", ErrInvalidClient)
	}
	if strings.TrimSpace(e.ClientID) == "" {
		return models.Client{}, fmt.Errorf("%w: clientId is required", ErrInvalidClient)
	}

	client := models.Client{
		ID:              strings.TrimSpace(e.ID),
		ClientID:        strings.TrimSpace(e.ClientID),
		Secret:          e.ClientSecret,
		Name:            e.ClientName,
		RedirectURIs:    dedupe(models.SplitList(e.RedirectURIs)),
		Scopes:          dedupe(models.SplitList(e.Scopes)),
		AccessTokenTTL:  seconds(e.AccessTokenDuration, DefaultAccessTokenDuration),
		RefreshTokenTTL: seconds(e.RefreshTokenDuration, DefaultRefreshTokenDuration),
	}

	for _, method := range models.SplitList(e.AuthenticationMethods) {
		parsed := l.parseAuthenticationMethod(method)
		if !client.HasAuthenticationMethod(parsed) {
			client.AuthenticationMethods = append(client.AuthenticationMethods, parsed)
		}
	}
	for _, grant := range models.SplitList(e.GrantTypes) {
		parsed := l.parseGrantType(grant)
		if !client.HasGrantType(parsed) {
			client.GrantTypes = append(client.GrantTypes, parsed)
		}
	}

	return client, nil
}

func (l *Loader) parseAuthenticationMethod(method string) models.ClientAuthenticationMethod {
	switch m := models.ClientAuthenticationMethod(strings.ToLower(method)); m {
	case models.ClientSecretBasic, models.ClientSecretPost, models.ClientSecretJWT,
		models.PrivateKeyJWT, models.AuthMethodNone:
		return m
	}
	l.logger.Warn("Unknown authentication method, defaulting to client_secret_basic", "method", method)
	return models.ClientSecretBasic
}

func (l *Loader) parseGrantType(grantType string) models.GrantType {
	switch g := models.GrantType(strings.ToLower(grantType)); g {
	case models.GrantAuthorizationCode, models.GrantRefreshToken, models.GrantClientCredentials:
		return g
	case models.GrantPassword:
		l.logger.Warn("Password grant type is deprecated and not recommended")
		return g
	}
	l.logger.Warn("Unknown grant type, using as custom grant type", "grant_type", grantType)
	return models.GrantType(grantType)
}

func seconds(value *int, def int) time.Duration {
	if value == nil {
		return time.Duration(def) * time.Second
	}
	return time.Duration(*value) * time.Second
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
