// Package config loads process configuration from NEXUS_-prefixed
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StoreConfig selects and parameterizes the state store backend.
type StoreConfig struct {
	Backend     string `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"nexus.db"`
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
		return nil
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("NEXUS_DATABASE_URL is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
}

type API struct {
	Addr          string `envconfig:"API_ADDR" default:":8080"`
	TuningPath    string `envconfig:"TUNING_PATH"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
	Store         StoreConfig
}

type Host struct {
	TuningPath string `envconfig:"TUNING_PATH"`
	Store      StoreConfig
}

type CLI struct {
	BaseURL string `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
}

func LoadAPI() (API, error) {
	var cfg API
	if err := envconfig.Process("NEXUS", &cfg); err != nil {
		return API{}, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return API{}, err
	}
	return cfg, nil
}

func LoadHost() (Host, error) {
	var cfg Host
	if err := envconfig.Process("NEXUS", &cfg); err != nil {
		return Host{}, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return Host{}, err
	}
	return cfg, nil
}

func LoadCLI() (CLI, error) {
	var cfg CLI
	if err := envconfig.Process("NEXUS", &cfg); err != nil {
		return CLI{}, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}
