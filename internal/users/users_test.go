package users

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/authsessions/internal/models"
	"github.com/andyleap/authsessions/internal/source"
)

const sampleUsers = `
users:
  - username: carol
    password: "{noop}carol-pass"
    roles: USER
  - username: alice
    password: "{noop}first"
    roles: ADMIN, USER
  - username: alice
    password: "{noop}second"
    roles: USER
  - username: ""
    password: nobody
  - username: bob
    password: bob-plain
    roles: " , USER,"
`

func parseSample(t *testing.T) ([]models.User, string) {
	t.Helper()
	var buf bytes.Buffer
	loader := NewLoader(slog.New(slog.NewTextHandler(&buf, nil)))
	got, err := loader.Parse(strings.NewReader(sampleUsers))
	require.NoError(t, err)
	return got, buf.String()
}

func TestLoader_FirstOccurrenceWins(t *testing.T) {
	t.Parallel()
	got, logs := parseSample(t)

	require.Len(t, got, 3)
	assert.Equal(t, "carol", got[0].Username)
	assert.Equal(t, "alice", got[1].Username)
	assert.Equal(t, "{noop}first", got[1].Password)
	assert.Equal(t, "ADMIN, USER", got[1].Roles)
	assert.Equal(t, "bob", got[2].Username)

	assert.Contains(t, logs, "User already defined. First occurrence kept.")
	assert.Contains(t, logs, "username=alice")
	assert.Contains(t, logs, "Skipping user without username")
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()
	loader := NewLoader(slog.New(slog.NewTextHandler(io.Discard, nil)))
	resolver := source.NewResolver(
		source.WithBundled(fstest.MapFS{"users.yaml": {Data: []byte(sampleUsers)}}),
		source.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	dir, err := loader.Load(context.Background(), resolver, "users.yaml")
	require.NoError(t, err)
	assert.Equal(t, 3, dir.Len())

	_, err = loader.Load(context.Background(), resolver, "missing.yaml")
	assert.ErrorIs(t, err, source.ErrSourceNotFound)

	_, err = loader.Parse(strings.NewReader("users: {"))
	assert.Error(t, err)
}

func TestDirectory_Lookup(t *testing.T) {
	t.Parallel()
	users, _ := parseSample(t)
	dir := NewDirectory(users)

	assert.Equal(t, []string{"alice", "bob", "carol"}, dir.Usernames())

	creds, err := dir.LoadByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "{noop}first", creds.Password)
	assert.Equal(t, []string{"ADMIN", "USER"}, creds.Roles)
	assert.True(t, creds.HasRole("ADMIN"))

	creds, err = dir.LoadByUsername("bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"USER"}, creds.Roles)

	_, err = dir.LoadByUsername("mallory")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDirectory_Redaction(t *testing.T) {
	t.Parallel()
	users, _ := parseSample(t)
	dir := NewDirectory(users)

	all := dir.GetUsers()
	require.Len(t, all, 3)
	for _, u := range all {
		assert.Equal(t, RedactedPassword, u.Password, u.Username)
	}
	assert.Equal(t, "alice", all[0].Username)

	one, err := dir.GetByUsername("carol")
	require.NoError(t, err)
	assert.Equal(t, RedactedPassword, one.Password)
	assert.Equal(t, "USER", one.Roles)

	// the real credential is still there for authentication
	creds, err := dir.LoadByUsername("carol")
	require.NoError(t, err)
	assert.Equal(t, "{noop}carol-pass", creds.Password)

	_, err = dir.GetByUsername("nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestToPublicView(t *testing.T) {
	t.Parallel()
	u := models.User{Username: "dave", Password: "{noop}x", Roles: "USER"}

	view := ToPublicView(u)
	assert.Equal(t, RedactedPassword, view.Password)
	assert.Equal(t, "dave", view.Username)
	assert.Equal(t, "{noop}x", u.Password)
}

func TestDirectory_Authenticate(t *testing.T) {
	t.Parallel()
	users, _ := parseSample(t)
	dir := NewDirectory(users)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "noop", username: "alice", password: "first"},
		{name: "duplicate password rejected", username: "alice", password: "second", wantErr: ErrInvalidCredentials},
		{name: "unprefixed", username: "bob", password: "bob-plain"},
		{name: "unknown user", username: "eve", password: "x", wantErr: ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			creds, err := dir.Authenticate(tt.username, tt.password)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, creds)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, creds.Username)
		})
	}
}

func TestNewDirectory_KeepsFirst(t *testing.T) {
	t.Parallel()
	dir := NewDirectory([]models.User{
		{Username: "x", Password: "one"},
		{Username: "x", Password: "two"},
	})
	creds, err := dir.LoadByUsername("x")
	require.NoError(t, err)
	assert.Equal(t, "one", creds.Password)
	assert.Equal(t, 1, dir.Len())
}
