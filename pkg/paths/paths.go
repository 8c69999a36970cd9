package paths

import (
	"os"
	"path/filepath"
)

// GetConfigDir returns the directory holding deskagent's config.yaml.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory.
func GetConfigDir() string {
	if dir := os.Getenv("DESKAGENT_CONFIG_DIR"); dir != "" {
		return filepath.Clean(dir)
	}
	homeDir := GetHomeDir()
	if homeDir == "" {
		return filepath.Join(os.TempDir(), ".deskagent-config")
	}
	return filepath.Join(homeDir, ".config", "deskagent")
}

// GetDataDir returns the directory for logs and other runtime data.
func GetDataDir() string {
	homeDir := GetHomeDir()
	if homeDir == "" {
		return filepath.Join(os.TempDir(), ".deskagent")
	}
	return filepath.Join(homeDir, ".deskagent")
}

// GetHomeDir returns the user's home directory, or an empty string if it cannot be determined.
func GetHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Clean(homeDir)
}
