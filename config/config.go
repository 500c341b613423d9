// Package config loads host configuration from defaults, an optional file
// and MODHOST_ environment variables, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/modhost/engine"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/filesys"
	"github.com/wippyai/modhost/loader"
)

// EnvPrefix prefixes every environment override, e.g. MODHOST_GAME_DIR.
const EnvPrefix = "MODHOST"

// Keys shared by the config file, the environment and CLI flags.
const (
	KeyHomeDir          = "home_dir"
	KeyLibDir           = "lib_dir"
	KeyGameDir          = "game_dir"
	KeyBaseGame         = "base_game"
	KeySearch           = "search"
	KeyFileRoot         = "file_root"
	KeyPreferNative     = "prefer_native"
	KeyMemoryLimitPages = "memory_limit_pages"
	KeyCacheDir         = "cache_dir"
	KeyCvarFile         = "cvar_file"
	KeyWatchCvars       = "watch_cvars"
	KeyLogLevel         = "log_level"
)

// Config holds host configuration.
type Config struct {
	// HomeDir is the per-user root probed first for native modules.
	HomeDir string `mapstructure:"home_dir"`
	// LibDir is the install root probed after HomeDir.
	LibDir string `mapstructure:"lib_dir"`
	// GameDir is the active mod directory under both roots.
	GameDir string `mapstructure:"game_dir"`
	// BaseGame is the fallback directory under both roots.
	BaseGame string `mapstructure:"base_game"`

	// Search lists directories holding vm/<name>.wasm images. Empty means
	// HomeDir/GameDir, HomeDir/BaseGame, LibDir/GameDir, LibDir/BaseGame.
	Search []string `mapstructure:"search"`

	// FileRoot is the directory module file access is confined to. Empty
	// means HomeDir/GameDir, or HomeDir/BaseGame without a mod.
	FileRoot string `mapstructure:"file_root"`

	PreferNative bool `mapstructure:"prefer_native"`

	// MemoryLimitPages caps bytecode linear memory in 64KiB pages.
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`
	CacheDir         string `mapstructure:"cache_dir"`

	// CvarFile is loaded at startup and archived on exit.
	CvarFile   string `mapstructure:"cvar_file"`
	WatchCvars bool   `mapstructure:"watch_cvars"`

	LogLevel string `mapstructure:"log_level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		HomeDir:          filepath.Join(home, ".modhost"),
		LibDir:           ".",
		BaseGame:         "base",
		MemoryLimitPages: 256,
		LogLevel:         "info",
	}
}

// New returns a viper instance with defaults and environment overrides
// applied. Callers may bind flags to it before calling Decode.
func New() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault(KeyHomeDir, d.HomeDir)
	v.SetDefault(KeyLibDir, d.LibDir)
	v.SetDefault(KeyGameDir, d.GameDir)
	v.SetDefault(KeyBaseGame, d.BaseGame)
	v.SetDefault(KeySearch, d.Search)
	v.SetDefault(KeyFileRoot, d.FileRoot)
	v.SetDefault(KeyPreferNative, d.PreferNative)
	v.SetDefault(KeyMemoryLimitPages, d.MemoryLimitPages)
	v.SetDefault(KeyCacheDir, d.CacheDir)
	v.SetDefault(KeyCvarFile, d.CvarFile)
	v.SetDefault(KeyWatchCvars, d.WatchCvars)
	v.SetDefault(KeyLogLevel, d.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, if set, on top of the defaults and environment and
// decodes the result.
func Load(path string) (*Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// ReadFile merges a TOML, YAML or JSON file into v. An empty path is a
// no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindIO).Path(path).Cause(err).Detail("read config").Build()
	}
	return nil
}

// Decode extracts and validates a Config from v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode config")
	}
	// environment values arrive as one string
	cfg.Search = nil
	if raw := v.Get(KeySearch); raw != nil {
		search, err := cast.ToStringSliceE(raw)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, KeySearch)
		}
		cfg.Search = splitList(search)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, string(os.PathListSeparator)) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks the fields that have no usable zero value.
func (c *Config) Validate() error {
	if c.BaseGame == "" {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Symbol(KeyBaseGame).Detail("must not be empty").Build()
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Symbol(KeyLogLevel).Value(c.LogLevel).Cause(err).Build()
	}
	return lvl, nil
}

func (c *Config) modDirs() []string {
	if c.GameDir == "" || c.GameDir == c.BaseGame {
		return []string{c.BaseGame}
	}
	return []string{c.GameDir, c.BaseGame}
}

// SearchPath returns the bytecode image search path.
func (c *Config) SearchPath() filesys.SearchPath {
	if len(c.Search) > 0 {
		return filesys.SearchPath(c.Search)
	}
	var sp filesys.SearchPath
	for _, root := range []string{c.HomeDir, c.LibDir} {
		for _, dir := range c.modDirs() {
			sp = append(sp, filepath.Join(root, dir))
		}
	}
	return sp
}

// Root returns the directory module file access is confined to.
func (c *Config) Root() string {
	if c.FileRoot != "" {
		return c.FileRoot
	}
	return filepath.Join(c.HomeDir, c.modDirs()[0])
}

// Loader returns the loader configuration.
func (c *Config) Loader() loader.Config {
	return loader.Config{
		Search:       c.SearchPath(),
		HomeDir:      c.HomeDir,
		LibDir:       c.LibDir,
		GameDir:      c.GameDir,
		BaseGame:     c.BaseGame,
		PreferNative: c.PreferNative,
	}
}

// Engine returns the bytecode engine configuration.
func (c *Config) Engine() *engine.Config {
	return &engine.Config{
		MemoryLimitPages: c.MemoryLimitPages,
		CacheDir:         c.CacheDir,
	}
}
