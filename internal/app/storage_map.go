package app

import (
	"fmt"
	"strings"
	"time"

	"kubelookout/internal/storage"
)

const defaultRetention = 720 * time.Hour

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	retention, err := parseDurationOrDefault("storage.retention", sc.Retention, defaultRetention)
	if err != nil {
		return storage.Config{}, false, err
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, Retention: retention}, true, nil
	case "sqlite", "sqlite3":
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retention: retention}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
