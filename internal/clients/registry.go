// Package clients loads registered OAuth clients from a declarative source
// and serves them from an immutable registry.
package clients

import (
	"errors"
	"fmt"

	"github.com/andyleap/authsessions/internal/models"
)

// ErrDuplicateKey is returned when two clients share an id or a client id
var ErrDuplicateKey = errors.New("duplicate client key")

// Registry is a read-only view of the registered clients, indexed by id and
// by client id. It is built once and needs no locking afterwards.
type Registry struct {
	clients    []models.Client
	byID       map[string]int
	byClientID map[string]int
}

// NewRegistry validates clients and builds the registry. Any duplicate id or
// duplicate client id fails the whole build.
func NewRegistry(clients []models.Client) (*Registry, error) {
	r := &Registry{
		clients:    make([]models.Client, 0, len(clients)),
		byID:       make(map[string]int, len(clients)),
		byClientID: make(map[string]int, len(clients)),
	}

	for _, c := range clients {
		if _, ok := r.byID[c.ID]; ok {
			return nil, fmt.Errorf("%w: id %q", ErrDuplicateKey, c.ID)
		}
		if _, ok := r.byClientID[c.ClientID]; ok {
			return nil, fmt.Errorf("%w: client id %q", ErrDuplicateKey, c.ClientID)
		}
		i := len(r.clients)
		r.clients = append(r.clients, *c.Clone())
		r.byID[c.ID] = i
		r.byClientID[c.ClientID] = i
	}

	return r, nil
}

func (r *Registry) FindByID(id string) (*models.Client, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.clients[i].Clone(), true
}

func (r *Registry) FindByClientID(clientID string) (*models.Client, bool) {
	i, ok := r.byClientID[clientID]
	if !ok {
		return nil, false
	}
	return r.clients[i].Clone(), true
}

// List returns a copy of every client in load order
func (r *Registry) List() []models.Client {
	out := make([]models.Client, len(r.clients))
	for i := range r.clients {
		out[i] = *r.clients[i].Clone()
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.clients)
}
