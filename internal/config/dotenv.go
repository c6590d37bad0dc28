package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Secret and endpoint keys read by GetConfigValue.
const (
	EnvAPIKey  = "FOLIO_EMBEDDINGS_API_KEY"
	EnvBaseURL = "FOLIO_EMBEDDINGS_BASE_URL"
	EnvModel   = "FOLIO_EMBEDDINGS_MODEL"
)

// DotEnvPath returns the absolute path to folio's dotenv file (~/.folio/.env).
func DotEnvPath() (string, error) {
	dir, err := FolioDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".env"), nil
}

// LoadDotEnv reads ~/.folio/.env and returns its key/value pairs without
// touching the process environment. A missing file yields an empty map.
func LoadDotEnv() (map[string]string, error) {
	p, err := DotEnvPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("cannot stat dotenv file %s: %w", p, err)
	}
	m, err := godotenv.Read(p)
	if err != nil {
		return nil, fmt.Errorf("cannot read dotenv file %s: %w", p, err)
	}
	return m, nil
}

// GetConfigValue returns the effective value for key, using process environment variables
// first and falling back to ~/.folio/.env.
func GetConfigValue(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	dotenv, err := LoadDotEnv()
	if err != nil {
		return "", err
	}
	return dotenv[key], nil
}

// EnsureDotEnvTemplate creates ~/.folio/.env if it does not already exist.
//
// The template lists the embeddings keys with empty values so users can fill
// them in when switching to a remote provider.
func EnsureDotEnvTemplate() error {
	p, err := DotEnvPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot stat dotenv file %s: %w", p, err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(p), err)
	}
	body := map[string]string{
		EnvAPIKey:  "",
		EnvBaseURL: "",
		EnvModel:   "",
	}
	if err := godotenv.Write(body, p); err != nil {
		return fmt.Errorf("cannot write dotenv template %s: %w", p, err)
	}
	return os.Chmod(p, 0o600)
}
