package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/logger"
)

// Update sets one dotted key ("log.level", "runner.workers") in the user
// config file and writes it back with a rotating backup. Missing sections
// are created.
func Update(configPath, key string, value interface{}) error {
	settings, err := loadOrInitialize(configPath)
	if err != nil {
		return err
	}

	section, field, ok := splitKey(key)
	if !ok {
		return errors.NewInvalidRequestError("config key %q must be section.field", key)
	}

	var table map[string]interface{}
	if existing, ok := settings[section].(map[string]interface{}); ok {
		table = existing
	} else {
		table = make(map[string]interface{})
	}
	table[field] = value
	settings[section] = table

	return save(settings, configPath)
}

// loadOrInitialize reads the config file, or starts an empty document if it
// does not exist yet.
func loadOrInitialize(configPath string) (map[string]interface{}, error) {
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return nil, errors.Wrap(err, "create config directory")
	}

	settings := make(map[string]interface{})
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &settings); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", configPath)
		}
	}
	return settings, nil
}

func save(settings map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "backup config")
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	// Our own write must not bounce back through the watcher
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrapf(err, "write config file %s", configPath)
	}
	return nil
}

// createBackup rotates .back1/.back2/.back3 before a write.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete oldest config backup", "path", back3, "error", err)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "read config for backup")
	}
	if err := os.WriteFile(back1, content, 0644); err != nil {
		return errors.Wrap(err, "write .back1")
	}
	return nil
}

func splitKey(key string) (section, field string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			if i == 0 || i == len(key)-1 {
				return "", "", false
			}
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
