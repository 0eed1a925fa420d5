package users

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/source"
)

// Opener resolves a named declarative source
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, source.Origin, error)
}

type document struct {
	Users []models.User `yaml:"users"`
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

// Load resolves name through opener and builds a directory from it
func (l *Loader) Load(ctx context.Context, opener Opener, name string) (*Directory, error) {
	rc, origin, err := opener.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	users, err := l.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to load users from %s: %w", name, err)
	}

	l.logger.Info("Successfully loaded users", "count", len(users), "source", name, "origin", origin)
	return NewDirectory(users), nil
}

// Parse decodes a user list in file order. A username seen twice keeps its
// first entry; later ones are dropped with a warning.
func (l *Loader) Parse(r io.Reader) ([]models.User, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Users))
	users := make([]models.User, 0, len(doc.Users))
	for i, u := range doc.Users {
		u.Username = strings.TrimSpace(u.Username)
		if u.Username == "" {
			l.logger.Warn("Skipping user without username", "entry", i+1)
			continue
		}
		if _, ok := seen[u.Username]; ok {
			l.logger.Warn("User already defined. First occurrence kept.", "username", u.Username)
			continue
		}
		seen[u.Username] = struct{}{}
		users = append(users, u)
		l.logger.Info("Loaded user", "username", u.Username)
	}
	return users, nil
}
