package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.esvacuum/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".esvacuum", "logs")
	}
	return filepath.Join(home, ".esvacuum", "logs")
}

// DefaultLogPath returns the default vacuum log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "vacuum.log")
}
