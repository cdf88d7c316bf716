package depot

import (
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	jlconfig "github.com/JeremyLoy/config"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config holds the tunables of one Store. The zero value is not valid; start
// from DefaultConfig or LoadConfig.
type Config struct {
	ChunkBytes            int    `toml:"chunk_bytes" config:"DEPOT_CHUNK_BYTES"`
	InitialEntityCapacity int    `toml:"initial_entity_capacity" config:"DEPOT_INITIAL_ENTITY_CAPACITY"`
	ReaderRingSize        int    `toml:"reader_ring_size" config:"DEPOT_READER_RING_SIZE"`
	Workers               int    `toml:"workers" config:"DEPOT_WORKERS"`
	TransitionCacheSize   int    `toml:"transition_cache_size" config:"DEPOT_TRANSITION_CACHE_SIZE"`
	LogLevel              string `toml:"log_level" config:"DEPOT_LOG_LEVEL"`
	LogFormat             string `toml:"log_format" config:"DEPOT_LOG_FORMAT"` // "json" or "console"
}

const minChunkBytes = 1024

func DefaultConfig() Config {
	return Config{
		ChunkBytes:            DefaultChunkBytes,
		InitialEntityCapacity: 1024,
		ReaderRingSize:        16,
		Workers:               runtime.GOMAXPROCS(0),
		TransitionCacheSize:   4096,
		LogLevel:              "warn",
		LogFormat:             "json",
	}
}

// LoadConfig reads a TOML file over the defaults and then applies DEPOT_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, eris.Wrapf(err, "read config %s", path)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, eris.Wrapf(err, "parse config %s", path)
		}
	}
	if err := jlconfig.FromEnv().To(&cfg); err != nil {
		return Config{}, eris.Wrap(err, "apply environment overrides")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.ChunkBytes < minChunkBytes:
		return InvalidConfigError{Field: "ChunkBytes", Reason: "must be at least 1024"}
	case c.ChunkBytes%8 != 0:
		return InvalidConfigError{Field: "ChunkBytes", Reason: "must be a multiple of 8"}
	case c.InitialEntityCapacity < 0:
		return InvalidConfigError{Field: "InitialEntityCapacity", Reason: "must not be negative"}
	case c.ReaderRingSize < 2:
		return InvalidConfigError{Field: "ReaderRingSize", Reason: "must be at least 2"}
	case c.Workers <= 0:
		return InvalidConfigError{Field: "Workers", Reason: "must be positive"}
	case c.TransitionCacheSize < 0:
		return InvalidConfigError{Field: "TransitionCacheSize", Reason: "must not be negative"}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return InvalidConfigError{Field: "LogLevel", Reason: err.Error()}
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return InvalidConfigError{Field: "LogFormat", Reason: `must be "json" or "console"`}
	}
	return nil
}

// Option customises a Store at construction.
type Option func(*options)

type options struct {
	cfg    Config
	logger *zerolog.Logger
}

func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

func WithChunkBytes(n int) Option {
	return func(o *options) {
		o.cfg.ChunkBytes = n
	}
}

func WithWorkers(n int) Option {
	return func(o *options) {
		o.cfg.Workers = n
	}
}

func WithReaderRingSize(n int) Option {
	return func(o *options) {
		o.cfg.ReaderRingSize = n
	}
}

func WithInitialEntityCapacity(n int) Option {
	return func(o *options) {
		o.cfg.InitialEntityCapacity = n
	}
}

func WithTransitionCacheSize(n int) Option {
	return func(o *options) {
		o.cfg.TransitionCacheSize = n
	}
}

func WithLogLevel(level string) Option {
	return func(o *options) {
		o.cfg.LogLevel = level
	}
}

// WithLogger replaces the logger built from the config. The store still adds
// its own id to every event.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}
