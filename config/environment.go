package config

import (
	"os"
	"strings"
)

// APP_ENV values with their own config file.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var envFiles = map[string]string{
	EnvProduction: "config/config.production.yml",
	EnvStaging:    "config/config.staging.yml",
}

var envAliases = map[string]string{
	"prod":  EnvProduction,
	"prd":   EnvProduction,
	"stag":  EnvStaging,
	"stage": EnvStaging,
	"dev":   EnvDevelopment,
}

// AppEnvironment returns the normalised APP_ENV, development when unset.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return EnvDevelopment
	}
	if canonical, ok := envAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike is true for staging and production.
func IsProductionLike(env string) bool {
	return env == EnvProduction || env == EnvStaging
}

// configPathFor swaps the default path for the environment file. Explicit
// paths are left alone.
func configPathFor(path string) string {
	if path == "" {
		path = DefaultPath
	}
	if path != DefaultPath {
		return path
	}
	if envPath, ok := envFiles[AppEnvironment()]; ok {
		return envPath
	}
	return path
}

// isImplicitPath reports whether path was chosen by default, in which case
// a missing file is not an error.
func isImplicitPath(path string) bool {
	if path == DefaultPath {
		return true
	}
	for _, p := range envFiles {
		if p == path {
			return true
		}
	}
	return false
}
