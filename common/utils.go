// Package common provides shared constants, types, and utilities
// used across passage.
package common

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a unique identifier suitable for profile IDs.
func GenerateID() string {
	return uuid.NewString()
}

// ShortID returns the first eight characters of an ID for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// GetConfigDir returns the path to the application configuration directory.
// It honours PASSAGE_CONFIG_DIR and creates the directory if it doesn't exist.
func GetConfigDir() (string, error) {
	configDir := os.Getenv("PASSAGE_CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", WrapError(err, "failed to get home directory")
		}
		configDir = filepath.Join(homeDir, ".config", ConfigDirName)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", WrapError(err, "failed to create config directory")
	}

	return configDir, nil
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsFilenameSafe reports whether s can be used as a file name on its own.
func IsFilenameSafe(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\:*?"<>|`) && !strings.ContainsRune(s, 0)
}

// StringInSlice checks if a string is in a slice.
func StringInSlice(s string, slice []string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
