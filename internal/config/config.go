// Package config loads grimoire settings from flags, environment variables,
// .env files and an optional YAML config file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/grimoire/internal/utils/ptr"
	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/records"
)

// EnvPrefix is prepended to every environment variable viper reads.
const EnvPrefix = "GRIMOIRE"

// Config keys.
const (
	KeyRawRoot          = "raw_root"
	KeyProcessedDir     = "processed_dir"
	KeyManifestPath     = "manifest_path"
	KeyBundleDir        = "bundle_dir"
	KeyFuzzyThreshold   = "fuzzy_threshold"
	KeyActor            = "actor"
	KeySourcePriorities = "source_priorities"
	KeySources          = "sources"
	KeySnippets         = "snippets"
)

// Source describes one file of raw records. A nil Priority leaves rows
// without source_priority at the default.
type Source struct {
	Name       string `mapstructure:"name"`
	Path       string `mapstructure:"path"`
	Priority   *int   `mapstructure:"priority"`
	Dataset    string `mapstructure:"dataset"`
	EntityType string `mapstructure:"entity_type"`
	Mode       string `mapstructure:"mode"`
}

// Config holds the application configuration loaded from various sources.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool

	// Config file
	ConfigFile string

	// Corpus layout
	RawRoot      string
	ProcessedDir string
	ManifestPath string
	BundleDir    string

	// Reconciliation
	FuzzyThreshold   float64
	SourcePriorities map[string]int
	Sources          []Source
	Snippets         []string

	// Community merge
	Actor string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// Load reads configuration in order of precedence:
// 1. Command-line flags (applied later by the caller)
// 2. Environment variables (GRIMOIRE_*)
// 3. .env files
// 4. Config file (configFile, or ~/.grimoire.yaml / ./grimoire.yaml)
// 5. Defaults
func Load(configFile string) (*Config, error) {
	// Load .env files first (before Viper env binding)
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError("config", "reading "+configFile, err)
		}
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName("grimoire")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.NewConfigError("config", "reading config file", err)
			}
			// ~/.grimoire.yaml is the dotfile form
			if home, herr := os.UserHomeDir(); herr == nil {
				dotfile := filepath.Join(home, ".grimoire.yaml")
				if _, serr := os.Stat(dotfile); serr == nil {
					v.SetConfigFile(dotfile)
					if rerr := v.ReadInConfig(); rerr != nil {
						return nil, errors.NewConfigError("config", "reading "+dotfile, rerr)
					}
				}
			}
		}
	}

	cfg := &Config{
		ConfigFile:     v.ConfigFileUsed(),
		Verbose:        v.GetBool("verbose"),
		Quiet:          v.GetBool("quiet"),
		NoColor:        v.GetBool("no-color"),
		RawRoot:        v.GetString(KeyRawRoot),
		ProcessedDir:   v.GetString(KeyProcessedDir),
		ManifestPath:   v.GetString(KeyManifestPath),
		BundleDir:      v.GetString(KeyBundleDir),
		FuzzyThreshold: v.GetFloat64(KeyFuzzyThreshold),
		Snippets:       v.GetStringSlice(KeySnippets),
		Actor:          v.GetString(KeyActor),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", ""),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}

	if err := v.UnmarshalKey(KeySources, &cfg.Sources); err != nil {
		return nil, errors.NewConfigError("config", "decoding "+KeySources, err)
	}
	cfg.SourcePriorities = make(map[string]int)
	for source, raw := range v.GetStringMap(KeySourcePriorities) {
		cfg.SourcePriorities[strings.ToLower(source)] = records.ParsePriority(raw)
	}

	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyRawRoot, "data/raw")
	v.SetDefault(KeyProcessedDir, "data/processed")
	v.SetDefault(KeyFuzzyThreshold, constants.DefaultFuzzyThreshold)
	v.SetDefault(KeyActor, defaultActor())
}

// applyDerived fills paths that default relative to other settings.
func (c *Config) applyDerived() {
	if c.ManifestPath == "" {
		c.ManifestPath = filepath.Join(c.ProcessedDir, constants.ManifestFileName)
	}
	if c.BundleDir == "" {
		c.BundleDir = filepath.Join(c.ProcessedDir, constants.BundleDirName)
	}
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 1 {
		return errors.NewValidationError(KeyFuzzyThreshold, c.FuzzyThreshold, "must be within [0,1]")
	}
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Path) == "" {
			return errors.NewValidationError(KeySources, i, "every source needs a path")
		}
	}
	return nil
}

// PriorityOverride returns the source_priorities entry for source. Source
// names compare case-insensitively since viper lowercases map keys.
func (c *Config) PriorityOverride(source string) (int, bool) {
	p, ok := c.SourcePriorities[strings.ToLower(source)]
	return p, ok
}

// PriorityFor returns the configured override of source, or fallback when
// the source has none. Any int is a valid priority, including zero and
// negative values.
func (c *Config) PriorityFor(source string, fallback int) int {
	if p, ok := c.PriorityOverride(source); ok {
		return p
	}
	return fallback
}

// LoaderPriority is the priority stamped on rows of src that carry none:
// the override first, then the source entry's own priority. Nil means
// neither is set.
func (c *Config) LoaderPriority(src Source, name string) *int {
	if p, ok := c.PriorityOverride(name); ok {
		return ptr.To(p)
	}
	return src.Priority
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns GRIMOIRE_<key>, then <key>, then defaultValue.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + "_" + key); value != "" {
		return value
	}
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultActor() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "unknown"
}
