package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName       = "tradejournal"
	defaultDBName = "journal.db"
)

var runtimeDataDir string
var runtimePort = 8000

func IsMacOS() bool {
	return runtime.GOOS == "darwin"
}

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// SetRuntimeDataDir overrides the data directory for this process, e.g.
// from a --data-dir flag.
func SetRuntimeDataDir(dir string) {
	runtimeDataDir = dir
}

func SetRuntimePort(port int) {
	if port > 0 {
		runtimePort = port
	}
}

func GetRuntimePort() int {
	return runtimePort
}

func appConfigDir() (string, error) {
	if IsMacOS() {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "TradeJournal"), nil
	}
	if IsWindows() {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "TradeJournal"), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	}
	return filepath.Join(configDir, appName), nil
}

// DefaultPath is where the config file lives when no path is given.
func DefaultPath() (string, error) {
	dir, err := appConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// GetDataDir resolves and creates the data directory: runtime override,
// then TRADEJOURNAL_DATA_DIR, then the per-user config directory.
func GetDataDir() (string, error) {
	dir := runtimeDataDir
	if dir == "" {
		dir = os.Getenv(EnvDataDir)
	}
	if dir == "" {
		var err error
		if dir, err = appConfigDir(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// GetDBPath resolves the sqlite database path: TRADEJOURNAL_DB_PATH, then
// name inside the data directory.
func GetDBPath(name string) (string, error) {
	if envPath := os.Getenv(EnvDBPath); envPath != "" {
		return envPath, nil
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	if name == "" {
		name = defaultDBName
	}
	return filepath.Join(dataDir, name), nil
}
