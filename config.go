package dill

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config configures a Runtime. It follows the functional-options style
// the teacher used for coro.Options/coro.SetOption, generalized from a
// two-field (GoFunc, context) struct to the broader set of knobs a full
// runtime needs (logging, polling, run identity).
type Config struct {
	Logger Logger
	Poller Poller
	RunID  string
	GoFunc GoFunc

	// FeatureToggles enables optional, off-by-default runtime behaviors
	// loaded from a YAML toggle file via LoadFeatureToggles.
	FeatureToggles []string
}

// SetOption mutates a Config in place, mirroring coro.SetOption.
type SetOption func(*Config)

// WithLogger sets the Runtime's structured logger.
func WithLogger(l Logger) SetOption {
	return func(c *Config) { c.Logger = l }
}

// WithPoller sets the Runtime's file-descriptor poller.
func WithPoller(p Poller) SetOption {
	return func(c *Config) { c.Poller = p }
}

// WithRunID overrides the run identifier that tags every log Entry.
func WithRunID(id string) SetOption {
	return func(c *Config) { c.RunID = id }
}

// WithGoFunc overrides how a Runtime spawns the goroutine backing each new
// coroutine, mirroring the teacher's WithGoFunc option. Tests use this to
// observe or gate coroutine creation (e.g. a WaitGroup-wrapped GoFunc that
// lets a test block until every spawned coroutine has exited).
func WithGoFunc(fn GoFunc) SetOption {
	return func(c *Config) { c.GoFunc = fn }
}

// WithFileConfig applies an on-disk FileConfig onto a Config: it
// synthesizes a DefaultLogger at fc's configured level, and recognizes
// fc.Poller == "noop" (dill/poller's UnixPoller lives in a separate
// package specifically to avoid an import cycle with this one, so a
// caller loading "unix" from file must still pass its own
// poller.New() via WithPoller; this only covers the value this package
// can construct itself).
func WithFileConfig(fc FileConfig) SetOption {
	return func(c *Config) {
		c.Logger = NewDefaultLogger(fc.Level())
		if fc.Poller == "noop" {
			c.Poller = NoopPoller{}
		}
	}
}

// WithFeatureToggles sets the toggles loaded via LoadFeatureToggles,
// gating the optional runtime behaviors Config.HasToggle exposes (see
// Runtime.HasToggle): "strict-close" logs a warning when a coroutine
// handle is closed while its coroutine is still running (a forced
// cancel rather than a natural exit), and "fdwait" emits debug-level
// log entries around every Fdwait call.
func WithFeatureToggles(toggles []string) SetOption {
	return func(c *Config) { c.FeatureToggles = toggles }
}

// NewConfig builds a Config from options, defaulting to a NoopLogger, a
// NoopPoller and a freshly generated run ID.
func NewConfig(opts ...SetOption) Config {
	var c Config
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c Config) logger() Logger {
	if c.Logger == nil {
		return NoopLogger{}
	}
	return c.Logger
}

func (c Config) poller() Poller {
	if c.Poller == nil {
		return NoopPoller{}
	}
	return c.Poller
}

func (c Config) runID() string {
	if c.RunID == "" {
		return uuid.NewString()
	}
	return c.RunID
}

func (c Config) goFunc() GoFunc {
	if c.GoFunc == nil {
		return func(f func()) { go f() }
	}
	return c.GoFunc
}

// FileConfig is the on-disk shape of runtime tuning, loaded from TOML.
// It is kept distinct from Config proper because Config carries live
// interfaces (Logger, Poller) that have no serializable representation.
type FileConfig struct {
	LogLevel string `toml:"log_level"`
	Poller   string `toml:"poller"` // "noop" or "unix"
}

// LoadFileConfig reads a FileConfig from a TOML file at path, in the
// style of the pack's BurntSushi/toml-based configuration loaders.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	_, err := toml.DecodeFile(path, &fc)
	return fc, err
}

// Level parses a FileConfig.LogLevel value, defaulting to
// LevelInfo for an empty or unrecognized string.
func (fc FileConfig) Level() Level {
	switch fc.LogLevel {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LoadFeatureToggles reads a YAML list of enabled feature names from a
// file, for experimental behaviors gated behind
// Config.FeatureToggles.
func LoadFeatureToggles(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var toggles []string
	if err := yaml.Unmarshal(data, &toggles); err != nil {
		return nil, err
	}
	return toggles, nil
}

// HasToggle reports whether name is present in the configured
// FeatureToggles.
func (c Config) HasToggle(name string) bool {
	for _, t := range c.FeatureToggles {
		if t == name {
			return true
		}
	}
	return false
}
