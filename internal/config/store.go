package config

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigStore loads and persists a Config for one NOALBS instance.
type ConfigStore interface {
	Load(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
}

// FileStore persists configuration as a YAML file on local disk.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore backed by the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads and validates the YAML document at path. If the current-schema
// decode fails, it is retried as a legacy v1 document; a successful legacy
// decode is migrated, saved back atomically, and the migrated Config is
// returned so the caller never observes the v1 shape.
func (s *FileStore) Load(ctx context.Context) (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", s.path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil || cfg.User.Name == "" && cfg.Switcher.SwitchingScenes.Normal == "" {
		var legacy legacyConfig
		if legacyErr := yaml.Unmarshal(data, &legacy); legacyErr != nil || legacy.TwitchChat.Channel == "" {
			if err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", s.path, err)
			}
			return nil, fmt.Errorf("parsing config %s: not a recognized schema", s.path)
		}

		migrated, convErr := fromLegacy(legacy)
		if convErr != nil {
			return nil, fmt.Errorf("converting legacy config %s: %w", s.path, convErr)
		}
		if err := migrated.validate(); err != nil {
			return nil, fmt.Errorf("validating migrated config %s: %w", s.path, err)
		}

		if err := backupLegacyFile(s.path, data); err != nil {
			return nil, fmt.Errorf("backing up legacy config %s: %w", s.path, err)
		}
		if err := writeTwitchEnvFile(legacy.TwitchChat); err != nil {
			return nil, fmt.Errorf("writing .env for legacy twitch credentials: %w", err)
		}

		if err := s.Save(ctx, migrated); err != nil {
			return nil, fmt.Errorf("saving migrated config %s: %w", s.path, err)
		}

		return migrated, nil
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", s.path, err)
	}

	return &cfg, nil
}

// Save atomically writes cfg as YAML: write to a temp file in the same
// directory, fsync, then rename over the original.
func (s *FileStore) Save(ctx context.Context, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return atomicWriteFile(s.path, data)
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file over %s: %w", path, err)
	}
	return nil
}

// backupLegacyFile preserves the pre-migration bytes as <path>.v1.bak.gz so
// an operator can recover the exact legacy file after a migration.
func backupLegacyFile(path string, data []byte) error {
	backupPath := path + ".v1.bak.gz"
	f, err := os.OpenFile(backupPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// writeTwitchEnvFile writes the legacy OAuth token and bot username to a
// .env file (and to the process environment) the first time a legacy
// config is migrated. This environment side effect is confined to this
// migration path; every other code path reads credentials from Config.
func writeTwitchEnvFile(chat legacyTwitchChat) error {
	if _, err := os.Stat(".env"); err == nil {
		return nil
	}

	bot := lowerASCII(chat.BotUsername)
	env := fmt.Sprintf("TWITCH_BOT_USERNAME=%s\nTWITCH_BOT_OAUTH=%s\n", bot, chat.OAuth)
	if err := os.WriteFile(".env", []byte(env), 0600); err != nil {
		return err
	}

	os.Setenv("TWITCH_BOT_USERNAME", bot)
	os.Setenv("TWITCH_BOT_OAUTH", chat.OAuth)
	return nil
}
