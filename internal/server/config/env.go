package config

import (
	"fmt"
	"strconv"
	"time"
)

const envPrefix = "CLOUDKEEPER_"

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func stringEnv(name string, field func(*Config) *string) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

func intEnv(name string, field func(*Config) *int) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}}
}

func durationEnv(name string, field func(*Config) *time.Duration) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}}
}

var envBindings = []envBinding{
	stringEnv("HTTP_ADDR", func(c *Config) *string { return &c.HTTPAddr }),
	stringEnv("ENVIRONMENT", func(c *Config) *string { return &c.Environment }),
	stringEnv("LOG_LEVEL", func(c *Config) *string { return &c.LogLevel }),
	stringEnv("DATABASE_DSN", func(c *Config) *string { return &c.DatabaseDSN }),
	stringEnv("SECRET_KEY", func(c *Config) *string { return &c.SecretKey }),
	durationEnv("ACCESS_TOKEN_TTL", func(c *Config) *time.Duration { return &c.AccessTokenValidityDuration }),
	durationEnv("REFRESH_TOKEN_TTL", func(c *Config) *time.Duration { return &c.RefreshTokenValidityDuration }),
	durationEnv("RESET_TOKEN_TTL", func(c *Config) *time.Duration { return &c.ResetTokenValidityDuration }),
	stringEnv("S3_ROOT_USER", func(c *Config) *string { return &c.S3RootUser }),
	stringEnv("S3_ROOT_PASSWORD", func(c *Config) *string { return &c.S3RootPassword }),
	stringEnv("S3_BUCKET", func(c *Config) *string { return &c.S3Bucket }),
	stringEnv("S3_REGION", func(c *Config) *string { return &c.S3Region }),
	stringEnv("S3_BASE_ENDPOINT", func(c *Config) *string { return &c.S3BaseEndpoint }),
	stringEnv("S3_PUBLIC_BASE_URL", func(c *Config) *string { return &c.S3PublicBaseURL }),
	stringEnv("CLIENT_URL", func(c *Config) *string { return &c.ClientURL }),
	{"MAX_UPLOAD_SIZE", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.MaxUploadSize = n
		return nil
	}},
	intEnv("RATE_LIMIT_REQUESTS", func(c *Config) *int { return &c.RateLimitRequests }),
	durationEnv("RATE_LIMIT_WINDOW", func(c *Config) *time.Duration { return &c.RateLimitWindow }),
	stringEnv("REDIS_ADDR", func(c *Config) *string { return &c.RedisAddr }),
	stringEnv("REDIS_PASSWORD", func(c *Config) *string { return &c.RedisPassword }),
	intEnv("REDIS_DB", func(c *Config) *int { return &c.RedisDB }),
	stringEnv("SMTP_HOST", func(c *Config) *string { return &c.SMTPHost }),
	intEnv("SMTP_PORT", func(c *Config) *int { return &c.SMTPPort }),
	stringEnv("SMTP_USER", func(c *Config) *string { return &c.SMTPUser }),
	stringEnv("SMTP_PASSWORD", func(c *Config) *string { return &c.SMTPPassword }),
	stringEnv("SMTP_FROM", func(c *Config) *string { return &c.SMTPFrom }),
	durationEnv("RECONCILE_INTERVAL", func(c *Config) *time.Duration { return &c.ReconcileInterval }),
}

func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	for _, b := range envBindings {
		v, ok := lookup(envPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return fmt.Errorf("env %s%s: %w", envPrefix, b.name, err)
		}
	}
	return nil
}
