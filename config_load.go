package trustgate

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// TRUSTGATE_SESSION_IDLE_LIFETIME=45m or TRUSTGATE_REDIS_ADDRS=a:6379,b:6379.
const EnvPrefix = "TRUSTGATE"

// LoadConfig describes the loadconfig operation and its observable behavior.
//
// LoadConfig starts from DefaultConfig, merges the file at path (YAML, JSON or
// TOML by extension; skipped when path is empty) and then environment
// overrides, and validates the result. Durations accept Go duration strings.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	registerDefaults(v, "", reflect.ValueOf(defaultConfig()))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// registerDefaults walks the mapstructure keys of cfg so viper knows every
// key; AutomaticEnv only consults the environment for known keys.
func registerDefaults(v *viper.Viper, prefix string, cfg reflect.Value) {
	t := cfg.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		value := cfg.Field(i)
		if value.Kind() == reflect.Struct {
			registerDefaults(v, key, value)
			continue
		}
		v.SetDefault(key, value.Interface())
	}
}

// NewLogger builds the default engine logger from cfg, writing to w (stderr
// when nil).
func NewLogger(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("component", "trustgate").Logger()
}
