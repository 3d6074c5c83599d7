package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/cloudkeeper/internal/flagx"
	"github.com/dmitrijs2005/cloudkeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Durations are
// written as strings such as "15m". Zero values leave the current setting
// untouched.
type FileConfig struct {
	HTTPAddr    string `json:"http_addr" yaml:"http_addr"`
	Environment string `json:"environment" yaml:"environment"`
	LogLevel    string `json:"log_level" yaml:"log_level"`

	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	SecretKey                    string         `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration" yaml:"refresh_token_validity_duration"`
	ResetTokenValidityDuration   timex.Duration `json:"reset_token_validity_duration" yaml:"reset_token_validity_duration"`

	S3RootUser      string `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword  string `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket        string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region        string `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint  string `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3PublicBaseURL string `json:"s3_public_base_url" yaml:"s3_public_base_url"`

	ClientURL     string `json:"client_url" yaml:"client_url"`
	MaxUploadSize int64  `json:"max_upload_size" yaml:"max_upload_size"`

	RateLimitRequests int            `json:"rate_limit_requests" yaml:"rate_limit_requests"`
	RateLimitWindow   timex.Duration `json:"rate_limit_window" yaml:"rate_limit_window"`

	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`

	SMTPHost     string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort     int    `json:"smtp_port" yaml:"smtp_port"`
	SMTPUser     string `json:"smtp_user" yaml:"smtp_user"`
	SMTPPassword string `json:"smtp_password" yaml:"smtp_password"`
	SMTPFrom     string `json:"smtp_from" yaml:"smtp_from"`

	ReconcileInterval timex.Duration `json:"reconcile_interval" yaml:"reconcile_interval"`
}

func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc, err := decodeFile(path, data)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func decodeFile(path string, data []byte) (*FileConfig, error) {
	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, fc); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, fc); err != nil {
			return nil, err
		}
	}
	return fc, nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.Environment, fc.Environment)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	if fc.AccessTokenValidityDuration.Duration > 0 {
		c.AccessTokenValidityDuration = fc.AccessTokenValidityDuration.Duration
	}
	if fc.RefreshTokenValidityDuration.Duration > 0 {
		c.RefreshTokenValidityDuration = fc.RefreshTokenValidityDuration.Duration
	}
	if fc.ResetTokenValidityDuration.Duration > 0 {
		c.ResetTokenValidityDuration = fc.ResetTokenValidityDuration.Duration
	}
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&c.S3PublicBaseURL, fc.S3PublicBaseURL)
	setString(&c.ClientURL, fc.ClientURL)
	if fc.MaxUploadSize > 0 {
		c.MaxUploadSize = fc.MaxUploadSize
	}
	if fc.RateLimitRequests > 0 {
		c.RateLimitRequests = fc.RateLimitRequests
	}
	if fc.RateLimitWindow.Duration > 0 {
		c.RateLimitWindow = fc.RateLimitWindow.Duration
	}
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisPassword, fc.RedisPassword)
	if fc.RedisDB > 0 {
		c.RedisDB = fc.RedisDB
	}
	setString(&c.SMTPHost, fc.SMTPHost)
	if fc.SMTPPort > 0 {
		c.SMTPPort = fc.SMTPPort
	}
	setString(&c.SMTPUser, fc.SMTPUser)
	setString(&c.SMTPPassword, fc.SMTPPassword)
	setString(&c.SMTPFrom, fc.SMTPFrom)
	if fc.ReconcileInterval.Duration > 0 {
		c.ReconcileInterval = fc.ReconcileInterval.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
