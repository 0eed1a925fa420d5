// Package users loads the declarative user list and serves it as a
// directory keyed by username.
//
// Two read paths exist. LoadByUsername and Authenticate see the real
// credential and feed authentication. GetUsers and GetByUsername are for
// display and always return redacted copies.
package users

import (
	"errors"
	"fmt"
	"slices"

	"github.com/andyleap/authsessions/internal/credential"
	"github.com/andyleap/authsessions/internal/models"
)

var (
	// ErrUserNotFound is returned for an unknown username
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned when a username/password pair does not verify
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Credentials is the unredacted material used to authenticate a user
type Credentials struct {
	Username string
	Password string
	Roles    []string
}

// HasRole reports whether the user carries role
func (c *Credentials) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Directory is read-only once built
type Directory struct {
	users map[string]models.User
	names []string
}

// NewDirectory indexes users by name. On a repeated username the first entry wins.
func NewDirectory(users []models.User) *Directory {
	d := &Directory{
		users: make(map[string]models.User, len(users)),
		names: make([]string, 0, len(users)),
	}
	for _, u := range users {
		if _, ok := d.users[u.Username]; ok {
			continue
		}
		d.users[u.Username] = u
		d.names = append(d.names, u.Username)
	}
	slices.Sort(d.names)
	return d
}

// Usernames returns every username in sorted order
func (d *Directory) Usernames() []string {
	return slices.Clone(d.names)
}

func (d *Directory) Len() int {
	return len(d.names)
}

// LoadByUsername returns the real credential for name
func (d *Directory) LoadByUsername(name string) (*Credentials, error) {
	u, ok := d.users[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	return &Credentials{
		Username: u.Username,
		Password: u.Password,
		Roles:    u.RoleList(),
	}, nil
}

// Authenticate verifies password for name. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (d *Directory) Authenticate(name, password string) (*Credentials, error) {
	creds, err := d.LoadByUsername(name)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := credential.Verify(creds.Password, password); err != nil {
		if errors.Is(err, credential.ErrMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to verify credentials for %s: %w", name, err)
	}
	return creds, nil
}

// GetUsers returns a redacted copy of every user in username order
func (d *Directory) GetUsers() []models.User {
	out := make([]models.User, 0, len(d.names))
	for _, name := range d.names {
		out = append(out, ToPublicView(d.users[name]))
	}
	return out
}

// GetByUsername returns a redacted copy of one user
func (d *Directory) GetByUsername(name string) (*models.User, error) {
	u, ok := d.users[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	view := ToPublicView(u)
	return &view, nil
}
