package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the engine settings. The zero value is usable; missing
// fields fall back to defaults.
type Config struct {
	// DataDir is the root directory for the catalog and the WAL.
	DataDir string `yaml:"data_dir"`

	WAL     WALConfig     `yaml:"wal"`
	Storage StorageConfig `yaml:"storage"`
}

// WALConfig tunes the write-ahead log.
type WALConfig struct {
	// SegmentSize is the rotation threshold in bytes.
	SegmentSize int64 `yaml:"segment_size"`
	// SyncOnAppend fsyncs every record before acknowledging it.
	// Defaults to true; disable only for throughput experiments.
	SyncOnAppend *bool `yaml:"sync_on_append"`
}

// StorageConfig sets the per-table backend defaults.
type StorageConfig struct {
	// WriteBufferSize is the log-structured flush threshold in bytes.
	WriteBufferSize int `yaml:"write_buffer_size"`
	// CacheSize is the tree-ordered read cache budget in bytes.
	CacheSize int64 `yaml:"cache_size"`
	// MaxRuns is the run count above which maintenance compacts a table.
	MaxRuns int `yaml:"max_runs"`
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.WAL.SyncOnAppend == nil {
		t := true
		c.WAL.SyncOnAppend = &t
	}
	return c
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config %q: %w", path, err)
	}
	return cfg, nil
}
