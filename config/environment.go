package config

import (
	"os"
	"strings"
)

// Application environments recognised in APP_ENV. Anything else passes
// through untouched after trimming and lowercasing.
const (
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

// Short forms and misspellings seen in deployment manifests.
var environmentAliases = map[string]string{
	"prod":        environmentProduction,
	"producation": environmentProduction,
	"stag":        environmentStaging,
	"stagging":    environmentStaging,
}

// appEnvironment normalises APP_ENV, defaulting to development.
func appEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// resolveEnvSpecificPath swaps the default config path for the current
// environment's file when one is mapped. An explicitly chosen path is
// never overridden.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}
	envPath, ok := envPaths[appEnvironment()]
	if !ok {
		return path
	}
	if path != defaultPath && path != envPath {
		return path
	}
	return envPath
}
