package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/state-handoff/internal/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handoff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Listen)
	assert.Equal(t, store.DriverMemory, c.Store.Driver)
	assert.Equal(t, "handoff.events", c.Events.Subject)
	assert.True(t, c.MetricsEnabled())
	assert.Empty(t, c.Accounts)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
store:
  driver: sqlite
  path: /var/lib/handoff/state.db
events:
  subject: ops.handoff
metrics: false
accounts:
  - name: alice
    password: wonderland
  - name: bob
    password: builder
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.Listen)
	assert.Equal(t, store.Options{Driver: store.DriverSQLite, Path: "/var/lib/handoff/state.db"}, c.Store)
	assert.Equal(t, "ops.handoff", c.Events.Subject)
	assert.False(t, c.MetricsEnabled())
	require.Len(t, c.Accounts, 2)
	assert.Equal(t, Account{Name: "bob", Password: "builder"}, c.Accounts[1])
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
accounts:
  - name: alice
    password: wonderland
`)
	t.Setenv("HANDOFF_LISTEN", ":7070")
	t.Setenv("HANDOFF_METRICS", "false")
	t.Setenv("HANDOFF_ACCOUNTS", "carol:secret, dave:hunter2")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", c.Listen)
	assert.False(t, c.MetricsEnabled())
	assert.Equal(t, []Account{{Name: "carol", Password: "secret"}, {Name: "dave", Password: "hunter2"}}, c.Accounts)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad yaml", yaml: "listen: [unclosed"},
		{name: "bad metrics env", yaml: "", env: map[string]string{"HANDOFF_METRICS": "sometimes"}},
		{name: "bad accounts env", yaml: "", env: map[string]string{"HANDOFF_ACCOUNTS": "nopassword"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "defaults", yaml: ""},
		{name: "unknown driver", yaml: "store:\n  driver: etcd\n", wantErr: "unknown store driver"},
		{name: "nats without url", yaml: "store:\n  driver: nats\n", wantErr: "requires store.nats_url"},
		{name: "account without password", yaml: "accounts:\n  - name: alice\n", wantErr: "required"},
		{name: "duplicate account", yaml: "accounts:\n  - {name: a, password: x}\n  - {name: a, password: y}\n", wantErr: "defined twice"},
		{name: "account named like an address", yaml: "accounts:\n  - {name: 6f1c2a7e-3b7d-4c52-9a0e-1f2d3c4b5a69, password: x}\n", wantErr: "instance address"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Load(writeConfig(t, tc.yaml))
			require.NoError(t, err, "Load does not validate")
			err = c.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoad_DefersValidationToCaller(t *testing.T) {
	t.Setenv("HANDOFF_STORE_DRIVER", "nats")
	c, err := Load("")
	require.NoError(t, err)
	assert.Error(t, c.Validate())

	c.Store.NATSURL = "nats://127.0.0.1:4222"
	assert.NoError(t, c.Validate())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HANDOFF_STORE_DRIVER=sqlite\nHANDOFF_STORE_PATH=from-dotenv.db\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() {
		os.Unsetenv("HANDOFF_STORE_DRIVER")
		os.Unsetenv("HANDOFF_STORE_PATH")
	})

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, store.DriverSQLite, c.Store.Driver)
	assert.Equal(t, "from-dotenv.db", c.Store.Path)
}
