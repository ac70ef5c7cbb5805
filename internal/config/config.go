// Package config loads tagd configuration from JSONC files, the environment
// and command-line overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/tagstore/internal/fs"
	"github.com/calvinalkan/tagstore/internal/logging"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	TagsDir           string   `json:"tags_dir"`
	Listen            string   `json:"listen"`
	Mount             string   `json:"mount"`
	LogLevel          string   `json:"log_level"`
	LogFormat         string   `json:"log_format"`
	Debounce          Duration `json:"debounce"`
	ResyncInterval    Duration `json:"resync_interval"`
	LockRetries       int      `json:"lock_retries"`
	LockMinBackoff    Duration `json:"lock_min_backoff"`
	LockBackoffFactor float64  `json:"lock_backoff_factor"`
	LockStale         Duration `json:"lock_stale"`

	// LockReclaimDeadHolders enables PID-based reclaim of fresh locks. Only
	// safe when every writer shares this host's PID namespace.
	LockReclaimDeadHolders bool `json:"lock_reclaim_dead_holders"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"` // Absolute working directory (from -C flag or os.Getwd)
	TagsDirAbs   string `json:"-"` // Absolute path to the tags directory

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files and environment variables were applied.
type Sources struct {
	Global  string   // Path to global config if loaded, empty otherwise
	Project string   // Path to project config if loaded, empty otherwise
	Env     []string // Names of environment variables that overrode file values
}

// Default returns the default configuration.
func Default() Config {
	lock := fs.DefaultLockOptions()

	return Config{
		TagsDir:           "tag_files",
		Listen:            ":3000",
		Mount:             "/tags",
		LogLevel:          "info",
		LogFormat:         logging.FormatConsole,
		Debounce:          Duration(500 * time.Millisecond),
		LockRetries:       lock.Retries,
		LockMinBackoff:    Duration(lock.MinBackoff),
		LockBackoffFactor: lock.Factor,
		LockStale:         Duration(lock.Stale),
	}
}

// FileName is the default project config file name.
const FileName = ".tagd.json"

const appName = "tagd"

// globalPath returns $XDG_CONFIG_HOME/tagd/config.json if set, otherwise
// ~/.config/tagd/config.json, or "" if neither can be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, appName, "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", appName, "config.json")
	}

	return ""
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	TagsDirOverride string            // --tags-dir flag value; empty means no override
	ListenOverride  string            // serve --listen
	MountOverride   string            // serve --mount
	Env             map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/tagd/config.json or $XDG_CONFIG_HOME/tagd/config.json)
// 3. Project config file at default location (.tagd.json, if exists)
// 4. Explicit config file via ConfigPath (if non-empty), replacing 3
// 5. Environment: TAGS_DIR, PORT
// 6. CLI overrides.
//
// TagsDirAbs is resolved against the effective working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	} else if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
		}

		workDir = abs
	}

	cfg := Default()

	globalCfg, globalFile, err := loadGlobal(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalFile
	cfg = merge(cfg, globalCfg)

	projectCfg, projectFile, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectFile
	cfg = merge(cfg, projectCfg)

	if dir := input.Env["TAGS_DIR"]; dir != "" {
		cfg.TagsDir = dir
		cfg.Sources.Env = append(cfg.Sources.Env, "TAGS_DIR")
	}

	if port := input.Env["PORT"]; port != "" {
		cfg.Listen = ":" + port
		cfg.Sources.Env = append(cfg.Sources.Env, "PORT")
	}

	if input.TagsDirOverride != "" {
		cfg.TagsDir = input.TagsDirOverride
	}

	if input.ListenOverride != "" {
		cfg.Listen = input.ListenOverride
	}

	if input.MountOverride != "" {
		cfg.Mount = input.MountOverride
	}

	cfg.Mount = "/" + strings.Trim(cfg.Mount, "/")

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.TagsDir) {
		cfg.TagsDirAbs = filepath.Clean(cfg.TagsDir)
	} else {
		cfg.TagsDirAbs = filepath.Join(workDir, cfg.TagsDir)
	}

	return cfg, nil
}

// LockOptions returns the storage lock settings.
func (c Config) LockOptions() fs.LockOptions {
	opts := fs.DefaultLockOptions()
	opts.Retries = c.LockRetries
	opts.MinBackoff = c.LockMinBackoff.Std()
	opts.Factor = c.LockBackoffFactor
	opts.Stale = c.LockStale.Std()
	opts.ReclaimDeadHolders = c.LockReclaimDeadHolders
	opts.MaxBackoff = max(opts.MaxBackoff, opts.MinBackoff)

	return opts
}

func loadGlobal(env map[string]string) (Config, string, error) {
	path := globalPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, explicitEmpty, loaded, err := loadFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	if explicitEmpty["tags_dir"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, ErrTagsDirEmpty)
	}

	return cfg, path, nil
}

// loadProject loads .tagd.json from workDir, or configPath when given.
func loadProject(workDir, configPath string) (Config, string, error) {
	var (
		path      string
		mustExist bool
	)

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		_, statErr := os.Stat(path)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, FileName)
	}

	cfg, explicitEmpty, loaded, err := loadFile(path, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	if explicitEmpty["tags_dir"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, ErrTagsDirEmpty)
	}

	return cfg, path, nil
}

// loadFile returns the parsed config, the explicitly empty keys, and whether
// the file was loaded. A missing optional file is not an error.
func loadFile(path string, mustExist bool) (Config, map[string]bool, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, nil, false, nil
		}

		if mustExist {
			return Config{}, nil, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return Config{}, nil, false, nil
	}

	cfg, explicitEmpty, parseErr := parse(data)
	if parseErr != nil {
		return Config{}, nil, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	return cfg, explicitEmpty, true, nil
}

func parse(data []byte) (Config, map[string]bool, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return Config{}, nil, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	explicitEmpty := make(map[string]bool)

	if val, exists := raw["tags_dir"]; exists {
		if str, ok := val.(string); ok && str == "" {
			explicitEmpty["tags_dir"] = true
		}
	}

	return cfg, explicitEmpty, nil
}

func merge(base, overlay Config) Config {
	if overlay.TagsDir != "" {
		base.TagsDir = overlay.TagsDir
	}

	if overlay.Listen != "" {
		base.Listen = overlay.Listen
	}

	if overlay.Mount != "" {
		base.Mount = overlay.Mount
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}

	if overlay.Debounce != 0 {
		base.Debounce = overlay.Debounce
	}

	if overlay.ResyncInterval != 0 {
		base.ResyncInterval = overlay.ResyncInterval
	}

	if overlay.LockRetries != 0 {
		base.LockRetries = overlay.LockRetries
	}

	if overlay.LockMinBackoff != 0 {
		base.LockMinBackoff = overlay.LockMinBackoff
	}

	if overlay.LockBackoffFactor != 0 {
		base.LockBackoffFactor = overlay.LockBackoffFactor
	}

	if overlay.LockStale != 0 {
		base.LockStale = overlay.LockStale
	}

	if overlay.LockReclaimDeadHolders {
		base.LockReclaimDeadHolders = true
	}

	return base
}

func validate(cfg Config) error {
	if cfg.TagsDir == "" {
		return ErrTagsDirEmpty
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidValue, err)
	}

	if cfg.LogFormat != logging.FormatConsole && cfg.LogFormat != logging.FormatJSON {
		return fmt.Errorf("%w: log_format %q", ErrInvalidValue, cfg.LogFormat)
	}

	if cfg.Debounce < 0 || cfg.ResyncInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidValue)
	}

	if cfg.LockRetries < 1 || cfg.LockMinBackoff <= 0 || cfg.LockStale <= 0 || cfg.LockBackoffFactor < 1 {
		return fmt.Errorf("%w: lock settings (retries>=1, min_backoff>0, factor>=1, stale>0)", ErrInvalidValue)
	}

	return nil
}
