package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/andyleap/authsessions/internal/models"
)

var (
	// ErrInvalidArgument is returned when a nil or malformed authorization is handed to the store
	ErrInvalidArgument = errors.New("invalid authorization")
	// ErrNotFound is returned when an authorization is no longer stored
	ErrNotFound = errors.New("authorization not found")
)

// AuthorizationObserver is notified after every successful write
type AuthorizationObserver interface {
	AuthorizationSaved(a *models.Authorization)
	AuthorizationRemoved(a *models.Authorization)
}

type tokenKey struct {
	value string
	kind  models.TokenKind
}

// AuthorizationStore tracks live authorizations in memory and keeps three
// indexes over them: by id, by (token value, token kind) and by principal name.
//
// A single RWMutex guards all three indexes, so a reader never sees a record
// present in one index but missing from another. Records are copied on the
// way in and on the way out; callers never share memory with the store.
//
// Expired authorizations are not swept. They stay until revoked, and readers
// decide what to do with an expired token.
type AuthorizationStore struct {
	mu sync.RWMutex

	// byID is the primary index.
	byID map[string]*models.Authorization

	// byToken maps every token slot currently held by a record to that record's id.
	byToken map[tokenKey]string

	// byPrincipal holds record ids per principal in insertion order.
	// Entries are deleted as soon as their list becomes empty.
	byPrincipal map[string][]string

	logger    *slog.Logger
	observers []AuthorizationObserver
}

// AuthorizationStoreOption configures an AuthorizationStore
type AuthorizationStoreOption func(*AuthorizationStore)

func WithLogger(logger *slog.Logger) AuthorizationStoreOption {
	return func(s *AuthorizationStore) {
		s.logger = logger
	}
}

func WithObserver(observer AuthorizationObserver) AuthorizationStoreOption {
	return func(s *AuthorizationStore) {
		s.observers = append(s.observers, observer)
	}
}

func NewAuthorizationStore(opts ...AuthorizationStoreOption) *AuthorizationStore {
	s := &AuthorizationStore{
		byID:        make(map[string]*models.Authorization),
		byToken:     make(map[tokenKey]string),
		byPrincipal: make(map[string][]string),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validate(a *models.Authorization) error {
	if a == nil {
		return errors.Join(ErrInvalidArgument, errors.New("authorization cannot be nil"))
	}
	if a.ID == "" {
		return errors.Join(ErrInvalidArgument, errors.New("id is required"))
	}
	if a.PrincipalName == "" {
		return errors.Join(ErrInvalidArgument, errors.New("principal name is required"))
	}
	for _, kind := range models.TokenKinds {
		if t := a.Token(kind); t != nil && t.Value == "" {
			return errors.Join(ErrInvalidArgument, errors.New(string(kind)+" has an empty value"))
		}
	}
	return nil
}

// Save inserts the authorization, or fully replaces the stored one with the
// same id. Token slots held by the replaced version but absent from the new
// one are pruned, so a rotated refresh token stops resolving immediately.
// A token value already held by another authorization is rejected with
// ErrInvalidArgument and nothing is written.
func (s *AuthorizationStore) Save(a *models.Authorization) error {
	if err := validate(a); err != nil {
		return err
	}
	record := a.Clone()

	s.mu.Lock()
	if err := s.checkTokenOwnership(record); err != nil {
		s.mu.Unlock()
		return err
	}
	s.put(record)
	s.mu.Unlock()

	s.saved(record)
	return nil
}

// Replace swaps prev for next only while prev is still the stored version:
// the record must exist and still hold prev's access and refresh tokens. Otherwise it
// returns ErrNotFound and leaves the store untouched, so a revoked or already
// rotated authorization is never brought back.
func (s *AuthorizationStore) Replace(prev, next *models.Authorization) error {
	if prev == nil {
		return errors.Join(ErrInvalidArgument, errors.New("previous authorization cannot be nil"))
	}
	if err := validate(next); err != nil {
		return err
	}
	if prev.ID != next.ID {
		return errors.Join(ErrInvalidArgument, errors.New("replacement must keep the id"))
	}
	record := next.Clone()

	s.mu.Lock()
	current, ok := s.byID[prev.ID]
	if !ok || !sameToken(current.RefreshToken, prev.RefreshToken) || !sameToken(current.AccessToken, prev.AccessToken) {
		s.mu.Unlock()
		return ErrNotFound
	}
	if err := s.checkTokenOwnership(record); err != nil {
		s.mu.Unlock()
		return err
	}
	s.put(record)
	s.mu.Unlock()

	s.saved(record)
	return nil
}

func sameToken(a, b *models.Token) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Value == b.Value
}

// put must be called with mu held for writing.
func (s *AuthorizationStore) put(record *models.Authorization) {
	if previous, ok := s.byID[record.ID]; ok {
		s.unindexTokens(previous)
		if previous.PrincipalName != record.PrincipalName {
			s.unindexPrincipal(previous)
		}
	}
	s.byID[record.ID] = record
	s.indexTokens(record)
	ids := s.byPrincipal[record.PrincipalName]
	if !slices.Contains(ids, record.ID) {
		s.byPrincipal[record.PrincipalName] = append(ids, record.ID)
	}
}

func (s *AuthorizationStore) saved(record *models.Authorization) {
	s.logger.Info("Saved authorization", "principal", record.PrincipalName, "id", record.ID, "client", record.RegisteredClientID)
	if record.RefreshToken != nil {
		s.logger.Info("Refresh token generated/updated", "principal", record.PrincipalName, "expires_at", record.RefreshToken.ExpiresAt)
	}
	for _, o := range s.observers {
		o.AuthorizationSaved(record)
	}
}

// Remove deletes the authorization with the same id from every index.
// Unknown authorizations are ignored.
func (s *AuthorizationStore) Remove(a *models.Authorization) error {
	if a == nil {
		return errors.Join(ErrInvalidArgument, errors.New("authorization cannot be nil"))
	}
	s.RemoveByID(a.ID)
	return nil
}

// RemoveByID deletes the authorization with the given id and returns it.
// The stored version drives the cleanup, so a stale copy held by the caller
// cannot leave dangling token slots behind.
func (s *AuthorizationStore) RemoveByID(id string) (*models.Authorization, bool) {
	s.mu.Lock()
	record, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		s.unindexTokens(record)
		s.unindexPrincipal(record)
	}
	s.mu.Unlock()

	if !ok {
		return nil, false
	}

	s.logger.Debug("Removed authorization", "principal", record.PrincipalName, "id", record.ID)
	if record.RefreshToken != nil {
		s.logger.Info("Refresh token revoked", "principal", record.PrincipalName)
	}
	for _, o := range s.observers {
		o.AuthorizationRemoved(record)
	}
	return record.Clone(), true
}

func (s *AuthorizationStore) FindByID(id string) (*models.Authorization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

func (s *AuthorizationStore) FindByToken(value string, kind models.TokenKind) (*models.Authorization, bool) {
	if value == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[tokenKey{value: value, kind: kind}]
	if !ok {
		return nil, false
	}
	return s.byID[id].Clone(), true
}

// FindByAnyToken looks the value up as an access, refresh and ID token, in that order
func (s *AuthorizationStore) FindByAnyToken(value string) (*models.Authorization, models.TokenKind, bool) {
	for _, kind := range models.TokenKinds {
		if a, ok := s.FindByToken(value, kind); ok {
			return a, kind, true
		}
	}
	return nil, "", false
}

// FindByPrincipal returns a snapshot of the principal's authorizations in
// insertion order. The result is never nil.
func (s *AuthorizationStore) FindByPrincipal(name string) []*models.Authorization {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byPrincipal[name]
	out := make([]*models.Authorization, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Len returns the number of stored authorizations
func (s *AuthorizationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// PrincipalCount returns the number of principals holding at least one authorization
func (s *AuthorizationStore) PrincipalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPrincipal)
}

// checkTokenOwnership must be called with mu held.
func (s *AuthorizationStore) checkTokenOwnership(a *models.Authorization) error {
	for _, kind := range models.TokenKinds {
		t := a.Token(kind)
		if t == nil {
			continue
		}
		if owner, ok := s.byToken[tokenKey{value: t.Value, kind: kind}]; ok && owner != a.ID {
			s.logger.Warn("Token value already held by another authorization", "kind", kind, "owner", owner, "id", a.ID)
			return errors.Join(ErrInvalidArgument, fmt.Errorf("%s is held by authorization %s", kind, owner))
		}
	}
	return nil
}

// indexTokens must be called with mu held for writing, after checkTokenOwnership.
func (s *AuthorizationStore) indexTokens(a *models.Authorization) {
	for _, kind := range models.TokenKinds {
		if t := a.Token(kind); t != nil {
			s.byToken[tokenKey{value: t.Value, kind: kind}] = a.ID
		}
	}
}

// unindexTokens must be called with mu held for writing.
func (s *AuthorizationStore) unindexTokens(a *models.Authorization) {
	for _, kind := range models.TokenKinds {
		t := a.Token(kind)
		if t == nil {
			continue
		}
		key := tokenKey{value: t.Value, kind: kind}
		if s.byToken[key] == a.ID {
			delete(s.byToken, key)
		}
	}
}

// unindexPrincipal must be called with mu held for writing.
func (s *AuthorizationStore) unindexPrincipal(a *models.Authorization) {
	ids := s.byPrincipal[a.PrincipalName]
	i := slices.Index(ids, a.ID)
	if i < 0 {
		return
	}
	ids = slices.Delete(ids, i, i+1)
	if len(ids) == 0 {
		delete(s.byPrincipal, a.PrincipalName)
		return
	}
	s.byPrincipal[a.PrincipalName] = ids
}
