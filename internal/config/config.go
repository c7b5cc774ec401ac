package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadLimit       int64         `mapstructure:"read_limit" validate:"min=512"`
	PingPeriod      time.Duration `mapstructure:"ping_period" validate:"min=1s"`
	Secret          string        `mapstructure:"secret" validate:"required"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	Log        Log        `mapstructure:"log"`
	Auth       Auth       `mapstructure:"auth"`
	Chat       Chat       `mapstructure:"chat"`
	History    History    `mapstructure:"history"`
	Membership Membership `mapstructure:"membership"`
	Store      Store      `mapstructure:"store"`
	Redis      Redis      `mapstructure:"redis"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type Auth struct {
	Secret          string        `mapstructure:"secret" validate:"required,min=16"`
	Issuer          string        `mapstructure:"issuer"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ValidateTimeout time.Duration `mapstructure:"validate_timeout" validate:"gt=0"`
	// Leeway tolerates clock skew on exp/iat/nbf.
	Leeway time.Duration `mapstructure:"leeway" validate:"gte=0"`
	// HookSecret guards the membership invalidation endpoint; empty disables it.
	HookSecret string `mapstructure:"hook_secret"`
}

type Chat struct {
	QueueSize         int           `mapstructure:"queue_size" validate:"min=1"`
	MaxContentRunes   int           `mapstructure:"max_content_runes" validate:"min=1"`
	SendTimeout       time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
	MaxProtocolErrors int           `mapstructure:"max_protocol_errors" validate:"min=1"`
	FramesPerSecond   float64       `mapstructure:"frames_per_second" validate:"gt=0"`
	FrameBurst        int           `mapstructure:"frame_burst" validate:"min=1"`
	MaxReplay         int           `mapstructure:"max_replay" validate:"min=1"`
}

type History struct {
	DefaultLimit int `mapstructure:"default_limit" validate:"min=1,ltefield=MaxLimit"`
	MaxLimit     int `mapstructure:"max_limit" validate:"min=1"`
}

type Membership struct {
	Driver   string        `mapstructure:"driver" validate:"oneof=memory file sqlite"`
	Path     string        `mapstructure:"path" validate:"required_unless=Driver memory"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
}

type Store struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory badger redis"`
	Path   string `mapstructure:"path" validate:"required_if=Driver badger"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	Prefix   string `mapstructure:"prefix"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "relay")
	v.SetDefault("auth.timeout", "10s")
	v.SetDefault("auth.validate_timeout", "3s")
	v.SetDefault("auth.leeway", "5s")
	v.SetDefault("auth.hook_secret", "")

	v.SetDefault("chat.queue_size", 256)
	v.SetDefault("chat.max_content_runes", 4000)
	v.SetDefault("chat.send_timeout", "5s")
	v.SetDefault("chat.max_protocol_errors", 3)
	v.SetDefault("chat.frames_per_second", 20)
	v.SetDefault("chat.frame_burst", 40)
	v.SetDefault("chat.max_replay", 1000)

	v.SetDefault("history.default_limit", 50)
	v.SetDefault("history.max_limit", 100)

	v.SetDefault("membership.driver", "memory")
	v.SetDefault("membership.path", "")
	v.SetDefault("membership.cache_ttl", "30s")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "./data/messages")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "relay")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) and applies
// RELAY_* environment overrides, e.g. RELAY_AUTH_SECRET for auth.secret.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("membership", cfg.Membership.Driver).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}
