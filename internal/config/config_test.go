package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
address: ":9090"
max_error_rate: 50
reap_idle: 10m
templates_file: templates.yaml
log:
  level: debug
  format: text
`
	path := filepath.Join(dir, "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, 50, cfg.MaxErrorRate)
	assert.Equal(t, 10*time.Minute, cfg.ReapIdle)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset fields keep defaults.
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfigMissingTemplates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`address: ":8080"`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "templates_file")
}

func TestDirectoryMembership(t *testing.T) {
	d := NewDirectory(
		[]User{
			{"id": "alice", "name": "Alice", "language": "FR"},
			{"id": "bob", "name": "Bob"},
		},
		[]Group{
			{ID: "team", Name: "Team", Users: []string{"alice", "bob"}},
		},
	)

	in, err := d.UserInGroup("team", "alice")
	require.NoError(t, err)
	assert.True(t, in)

	in, err = d.UserInGroup("team", "mallory")
	require.NoError(t, err)
	assert.False(t, in)

	_, err = d.UserInGroup("ghosts", "alice")
	require.Error(t, err)
}

func TestDirectoryPersonalGroup(t *testing.T) {
	d := NewDirectory([]User{{"id": "alice", "name": "Alice"}}, nil)

	g, ok := d.Group("alice")
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, g.Users)
}

func TestDirectoryAuthorized(t *testing.T) {
	d := NewDirectory(
		[]User{{"id": "alice"}, {"id": "bob"}},
		[]Group{{ID: "admins", Users: []string{"alice"}}},
	)

	// No permissions means open access.
	assert.True(t, d.Authorized(nil, "bob"))
	assert.True(t, d.Authorized([]string{"admins"}, "alice"))
	assert.False(t, d.Authorized([]string{"admins"}, "bob"))
	// Personal groups work as permissions too.
	assert.True(t, d.Authorized([]string{"bob"}, "bob"))
}

func TestDirectoryLanguage(t *testing.T) {
	d := NewDirectory([]User{{"id": "alice", "language": "FR"}, {"id": "bob"}}, nil)
	assert.Equal(t, "FR", d.Language("alice"))
	assert.Equal(t, "EN", d.Language("bob"))
	assert.Equal(t, "EN", d.Language("missing"))
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	content := `
users:
  - id: alice
    name: Alice
    language: FR
groups:
  - id: team
    users: [alice]
`
	path := filepath.Join(dir, "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	d, err := LoadDirectory(path, "")
	require.NoError(t, err)
	u, ok := d.User("alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", u["name"])
	in, err := d.UserInGroup("team", "alice")
	require.NoError(t, err)
	assert.True(t, in)
}
