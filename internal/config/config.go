// Package config loads the flint-replicate CLI's configuration: a small
// JSON-with-comments file merged with defaults and CLI overrides, in the
// same precedence order and with the same hujson-based parsing this
// codebase's lineage already uses for its own config file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// FileName is the default config file name, looked for in the working
// directory the same way .tk.json is.
const FileName = ".flint-replicate.json"

// Config holds every setting the CLI driver needs that isn't a one-off
// per-invocation flag.
type Config struct {
	// DatabaseDir is the replica database directory ApplyChangeset
	// operates on.
	DatabaseDir string `json:"database_dir"` //nolint:tagliatelle // snake_case for config file

	// MasterAddr is the master's network address the driver dials to
	// receive a changeset.
	MasterAddr string `json:"master_addr"` //nolint:tagliatelle // snake_case for config file

	// ChunkDeadlineMillis sets the session deadline: the CLI driver adds
	// it to the start time once, and every EnsureChunk call of the
	// session shares that single absolute deadline. Stored as
	// milliseconds because encoding/json has no native time.Duration
	// representation.
	ChunkDeadlineMillis int `json:"chunk_deadline_ms"` //nolint:tagliatelle // snake_case for config file

	// ChunkTopUpSize is loaded, merged and shown by --print-config, but
	// the CLI driver does not pass it on: the applier always tops up by
	// transport.ReasonableChunkSize.
	ChunkTopUpSize int `json:"chunk_top_up_size"` //nolint:tagliatelle // snake_case for config file
}

var (
	errFileUnreadable  = errors.New("cannot read config file")
	errInvalid         = errors.New("invalid config file")
	errMasterAddrEmpty = errors.New("master_addr cannot be empty")
)

// Default returns the baseline configuration, the lowest-precedence layer
// in Load's merge order.
func Default() Config {
	return Config{
		DatabaseDir:         ".",
		ChunkDeadlineMillis: 30_000,
		ChunkTopUpSize:      4096,
	}
}

// Load resolves the configuration with the following precedence (highest
// wins): 1. Default, 2. the file at configPath within workDir if present
// (required to exist whenever configPath is non-empty; an empty configPath
// means FileName, which may be absent), 3. cliOverrides, applied
// field-by-field by the caller after Load returns - Load itself only
// merges the default and the file.
func Load(workDir, configPath string) (Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		configPath = FileName
	}

	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	fileCfg, loaded, err := loadFile(path, explicit)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, fileCfg)
	}

	return cfg, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s", errFileUnreadable, path)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DatabaseDir != "" {
		base.DatabaseDir = overlay.DatabaseDir
	}

	if overlay.MasterAddr != "" {
		base.MasterAddr = overlay.MasterAddr
	}

	if overlay.ChunkDeadlineMillis != 0 {
		base.ChunkDeadlineMillis = overlay.ChunkDeadlineMillis
	}

	if overlay.ChunkTopUpSize != 0 {
		base.ChunkTopUpSize = overlay.ChunkTopUpSize
	}

	return base
}

// Validate rejects a configuration the CLI cannot act on.
func Validate(cfg Config) error {
	if cfg.MasterAddr == "" {
		return errMasterAddrEmpty
	}

	return nil
}

// Format renders cfg as indented JSON, for the CLI's --print-config flag.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("formatting config: %w", err)
	}

	return string(data), nil
}
