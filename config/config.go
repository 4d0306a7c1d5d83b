// Package config loads the patch-target description: which libraries to
// look for under the source roots, which literal forms of the shared-memory
// path each of them embeds, and the replacement directory.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lambshm/lambshm/patch"
)

// EnvPrefix scopes environment overrides, e.g. LAMBSHM_SHM_DIR. The
// bootstrap wrapper inside the container reads the same variable, which
// keeps the baked-in path and the directory ensured at start character
// identical.
const EnvPrefix = "lambshm"

// Config describes one patch run.
type Config struct {
	// ShmDir is the replacement shared-memory directory compiled into
	// the patched libraries.
	ShmDir string `yaml:"shm_dir" envconfig:"SHM_DIR"`
	// Parallel bounds the patch workers; 0 means one per CPU.
	Parallel int `yaml:"parallel" envconfig:"PARALLEL"`
	// LogLevel selects the CLI logger verbosity; empty means info.
	LogLevel string   `yaml:"log_level" envconfig:"LOG_LEVEL"`
	Targets  []Target `yaml:"targets"`
}

// Target selects one library by filename pattern and lists the literal
// variants its builds may embed.
type Target struct {
	// Pattern is a doublestar pattern matched against the path relative
	// to the source root, or against the basename when it has no
	// separator.
	Pattern string `yaml:"pattern"`
	// Optional targets produce no error when none of their variants
	// match; some library versions simply do not embed the path.
	Optional bool      `yaml:"optional"`
	Variants []Variant `yaml:"variants"`
}

// Variant is the configuration form of patch.Variant.
type Variant struct {
	Literal         string     `yaml:"literal"`
	Kind            patch.Kind `yaml:"kind"`
	Optional        bool       `yaml:"optional"`
	AllowUnanchored bool       `yaml:"allow_unanchored"`
}

// PatchVariants converts the target's variants for the scanner.
func (t Target) PatchVariants() []patch.Variant {
	vs := make([]patch.Variant, 0, len(t.Variants))
	for _, v := range t.Variants {
		vs = append(vs, patch.Variant{
			Literal:         []byte(v.Literal),
			Kind:            v.Kind,
			Optional:        v.Optional,
			AllowUnanchored: v.AllowUnanchored,
		})
	}
	return vs
}

// Load reads a YAML config file and applies environment overrides.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return finish(&cfg)
}

// LoadOrDefault loads path when given, otherwise starts from the built-in
// glibc defaults; environment overrides apply either way.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configs that could never patch anything safely. The
// replacement path check runs here as well as in the validator so a bad
// directory fails before any library is read.
func (c *Config) Validate() error {
	if err := patch.CheckPath(c.ShmDir); err != nil {
		return fmt.Errorf("config: shm_dir: %w", err)
	}
	if c.Parallel < 0 {
		return fmt.Errorf("config: parallel %d: must not be negative", c.Parallel)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("config: no targets configured")
	}
	for _, t := range c.Targets {
		if t.Pattern == "" {
			return fmt.Errorf("config: target with empty pattern")
		}
		if len(t.Variants) == 0 {
			return fmt.Errorf("config: target %s: no variants", t.Pattern)
		}
		for _, v := range t.Variants {
			if v.Literal == "" {
				return fmt.Errorf("config: target %s: variant with empty literal", t.Pattern)
			}
			switch v.Kind {
			case patch.KindDirectoryPrefix, patch.KindSeparatorLiteral, patch.KindNamePrefix:
			default:
				return fmt.Errorf("config: target %s: unknown variant kind %q", t.Pattern, v.Kind)
			}
		}
	}
	return nil
}
