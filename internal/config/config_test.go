package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	c, err := FromEnv(lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, "localhost:12345", c.Addr())
	assert.Equal(t, 60*time.Second, c.HeartbeatTimeout)
}

func TestConfig_AddrBracketsIPv6(t *testing.T) {
	c := Default()
	c.Host = "::1"
	assert.Equal(t, "[::1]:12345", c.Addr())
}

func TestFromEnv_Overrides(t *testing.T) {
	c, err := FromEnv(lookupFrom(map[string]string{
		"RELAY_HOST":         "0.0.0.0",
		"RELAY_PORT":         "4000",
		"RELAY_UDP_PORT":     "0",
		"RELAY_ADMIN_ADDR":   "",
		"HEARTBEAT_INTERVAL": "5s",
		"CLEANUP_INTERVAL":   "1m",
		"ROOM_MAX_PLAYERS":   " 4 ",
		"DATABASE_URL":       "postgres://localhost/relay",
		"LOG_FORMAT":         "json",
	}))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 4000, c.Port)
	assert.Zero(t, c.UDPPort)
	assert.Empty(t, c.AdminAddr)
	assert.Equal(t, 5*time.Second, c.HeartbeatInterval)
	assert.Equal(t, time.Minute, c.CleanupInterval)
	assert.Equal(t, 4, c.RoomMaxPlayers)
	assert.Equal(t, "postgres://localhost/relay", c.DatabaseURL)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":        {"RELAY_PORT": "abc"},
		"bad duration":   {"HEARTBEAT_TIMEOUT": "soon"},
		"port range":     {"RELAY_PORT": "70000"},
		"zero capacity":  {"ROOM_MAX_PLAYERS": "0"},
		"bcrypt cost":    {"ROOM_PASSWORD_COST": "99"},
		"zero interval":  {"CLEANUP_INTERVAL": "0s"},
		"negative queue": {"OUTBOX_SIZE": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(lookupFrom(env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.env")
	require.NoError(t, os.WriteFile(path, []byte("RELAY_PORT=23456\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// godotenv never overrides variables already set; start from a clean slate
	t.Setenv("RELAY_PORT", "")
	os.Unsetenv("RELAY_PORT")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 23456, c.Port)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "nope.env"))
	_, err := Load()
	assert.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	c := Default()
	log, err := NewLogger(c)
	require.NoError(t, err)
	log.Info("hello")

	c.LogFormat = "xml"
	_, err = NewLogger(c)
	assert.Error(t, err)

	c = Default()
	c.LogLevel = "loud"
	_, err = NewLogger(c)
	assert.Error(t, err)
}
