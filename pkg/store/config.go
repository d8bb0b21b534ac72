package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the tool configuration file looked up in the
// patchgate data directory.
const ConfigFileName = "patchgate.toml"

// Config stores tool-local settings: where the catalog database, the blob
// store, and patch staging trees live, plus the default SSH key used to
// sign approval decisions.
type Config struct {
	CatalogPath string `toml:"catalog_path"`
	BlobDir     string `toml:"blob_dir"`
	StagingDir  string `toml:"staging_dir,omitempty"`
	SigningKey  string `toml:"signing_key,omitempty"`
}

// DefaultConfig returns a Config rooted at dataDir.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		CatalogPath: filepath.Join(dataDir, "catalog.db"),
		BlobDir:     filepath.Join(dataDir, "blobs"),
	}
}

// LoadConfig reads patchgate.toml from dataDir. A missing file returns
// the defaults for that directory.
func LoadConfig(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(dataDir), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("read config: decode: %w", err)
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = filepath.Join(dataDir, "catalog.db")
	}
	if cfg.BlobDir == "" {
		cfg.BlobDir = filepath.Join(dataDir, "blobs")
	}
	return &cfg, nil
}

// WriteConfig atomically writes patchgate.toml to dataDir.
func WriteConfig(dataDir string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("write config: nil config")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dataDir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dataDir, ConfigFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
