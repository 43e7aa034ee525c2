package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets in the config file.
const (
	EnvSMTPUsername = "PROCNOTIFY_SMTP_USERNAME"
	EnvSMTPPassword = "PROCNOTIFY_SMTP_PASSWORD"
	EnvResendAPIKey = "PROCNOTIFY_RESEND_API_KEY"
	EnvPostgresDSN  = "PROCNOTIFY_POSTGRES_DSN"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are not overwritten. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigError{Path: path, Err: err}
	}
	return nil
}

// ApplyEnv copies secret overrides from the environment into cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v, ok := lookup(EnvSMTPUsername); ok {
		cfg.SMTP.Username = v
	}
	if v, ok := lookup(EnvSMTPPassword); ok {
		cfg.SMTP.Password = v
	}
	if v, ok := lookup(EnvResendAPIKey); ok {
		cfg.Transport.APIKey = v
	}
	if v, ok := lookup(EnvPostgresDSN); ok {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.DSN = v
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
