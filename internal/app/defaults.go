package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetDefaults returns application defaults, checking environment variables first.
// Environment variables:
//   - FSTORE_CONFIG_PATH: config file location (default: ~/.config/fstore.toml)
//   - FSTORE_HOME: base directory for fstore data (default: ~/.local/share/fstore)
//   - FSTORE_USER: identity commands act as (default: $USER, may be empty)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"user":        getUser(),
	}, nil
}

// ResolveUser picks the requester identity: an explicit value wins, then
// the "user" default.
func ResolveUser(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	if user := getUser(); user != "" {
		return user, nil
	}
	return "", fmt.Errorf("no user: pass --user or set FSTORE_USER")
}

// getUser returns FSTORE_USER, falling back to the login name in USER.
func getUser() string {
	if user := os.Getenv("FSTORE_USER"); user != "" {
		return user
	}
	return os.Getenv("USER")
}

// getConfigPath returns the config file path, checking FSTORE_CONFIG_PATH first,
// then falling back to the default ~/.config/fstore.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("FSTORE_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "fstore.toml"), nil
}

// getBaseDir returns the base directory for fstore data, checking FSTORE_HOME first,
// then falling back to the XDG default ~/.local/share/fstore.
func getBaseDir() (string, error) {
	if path := os.Getenv("FSTORE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "fstore"), nil
}
