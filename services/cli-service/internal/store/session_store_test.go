package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	s := NewSessionStore(filepath.Join(t.TempDir(), "nested", "session.json"))

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	expires := time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC)
	in := &Session{
		Server:    "http://localhost:8080",
		TenantID:  "t1",
		User:      &User{ID: "u-1", Username: "bob", Permissions: []string{"ventas:crear"}},
		Cookies:   []Cookie{{Name: "sesion", Value: "opaque"}},
		CSRFToken: "csrf",
		ExpiresAt: expires,
	}
	require.NoError(t, s.Save(in))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "bob", out.User.Username)
	assert.Equal(t, in.Cookies, out.Cookies)
	assert.True(t, expires.Equal(out.ExpiresAt))

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionStore_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := NewSessionStore(path).Load()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}
