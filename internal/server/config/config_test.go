package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, EnvDevelopment, c.Environment)
	assert.Equal(t, 15*time.Minute, c.AccessTokenValidityDuration)
	assert.Equal(t, 15*time.Minute, c.ResetTokenValidityDuration)
	assert.Equal(t, int64(10<<20), c.MaxUploadSize)
	assert.Equal(t, 100, c.RateLimitRequests)
	assert.Equal(t, 15*time.Minute, c.RateLimitWindow)
	assert.Zero(t, c.ReconcileInterval)
	require.NoError(t, c.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	c, err := Load(nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.False(t, c.IsProduction())
	assert.Equal(t, "http://127.0.0.1:9000", c.PublicBaseURL())
}

func TestLoad_YAMLFile(t *testing.T) {
	p := writeFile(t, "server.yaml", `
http_addr: ":9090"
environment: production
access_token_validity_duration: 5m
s3_public_base_url: https://cdn.example.com
reconcile_interval: 1h
`)

	c, err := Load([]string{"-c", p}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTPAddr)
	assert.True(t, c.IsProduction())
	assert.Equal(t, 5*time.Minute, c.AccessTokenValidityDuration)
	assert.Equal(t, time.Hour, c.ReconcileInterval)
	assert.Equal(t, "https://cdn.example.com", c.PublicBaseURL())
	// untouched fields keep defaults
	assert.Equal(t, "cloudkeeper", c.S3Bucket)
}

func TestLoad_JSONFile(t *testing.T) {
	p := writeFile(t, "server.json", `{"database_dsn":"postgres://db/ck","rate_limit_window":"1m","rate_limit_requests":5}`)

	c, err := Load([]string{"-config=" + p}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/ck", c.DatabaseDSN)
	assert.Equal(t, time.Minute, c.RateLimitWindow)
	assert.Equal(t, 5, c.RateLimitRequests)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "nope.json")}, noEnv)
	require.Error(t, err)
}

func TestLoad_BrokenFile(t *testing.T) {
	p := writeFile(t, "server.json", `{"http_addr":`)
	_, err := Load([]string{"-c", p}, noEnv)
	require.Error(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	p := writeFile(t, "server.yaml", "http_addr: \":1111\"\nsecret_key: from-file-secret\n")
	env := envMap(map[string]string{
		"CLOUDKEEPER_HTTP_ADDR":        ":2222",
		"CLOUDKEEPER_REDIS_ADDR":       "redis:6379",
		"CLOUDKEEPER_ACCESS_TOKEN_TTL": "30m",
	})

	c, err := Load([]string{"-c", p, "-a", ":3333"}, env)
	require.NoError(t, err)

	assert.Equal(t, ":3333", c.HTTPAddr, "flag beats env and file")
	assert.Equal(t, "from-file-secret", c.SecretKey)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.Equal(t, 30*time.Minute, c.AccessTokenValidityDuration, "unset -t must not reset env value")
}

func TestLoad_FlagMinutes(t *testing.T) {
	c, err := Load([]string{"-t", "2", "-r", "60"}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, c.AccessTokenValidityDuration)
	assert.Equal(t, time.Hour, c.RefreshTokenValidityDuration)
}

func TestLoad_BadEnvValue(t *testing.T) {
	_, err := Load(nil, envMap(map[string]string{"CLOUDKEEPER_REDIS_DB": "zero"}))
	require.ErrorContains(t, err, "CLOUDKEEPER_REDIS_DB")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad environment", func(c *Config) { c.Environment = "staging" }, "Environment"},
		{"short secret", func(c *Config) { c.SecretKey = "abc" }, "SecretKey"},
		{"refresh not longer than access", func(c *Config) { c.RefreshTokenValidityDuration = time.Minute }, "RefreshTokenValidityDuration"},
		{"client url", func(c *Config) { c.ClientURL = "not a url" }, "ClientURL"},
		{"upload size", func(c *Config) { c.MaxUploadSize = 0 }, "MaxUploadSize"},
		{"smtp without sender", func(c *Config) { c.SMTPHost = "smtp.example.com" }, "SMTPFrom"},
		{"redis addr", func(c *Config) { c.RedisAddr = "redis" }, "RedisAddr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
